package adapter

import "github.com/hpn/hpn-ernie-router/internal/erniebot"

// chatParams holds the per-call request parameters. Nil pointers are left out of the request.
type chatParams struct {
	temperature  *float64
	topP         *float64
	penaltyScore *float64
	system       string
	plugins      []string
	functions    []erniebot.Function
	userID       string
}

// ChatOption overrides one request parameter for a call.
type ChatOption func(*chatParams)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(p *chatParams) {
		p.temperature = &t
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) ChatOption {
	return func(p *chatParams) {
		p.topP = &topP
	}
}

// WithPenaltyScore sets the repetition penalty.
func WithPenaltyScore(score float64) ChatOption {
	return func(p *chatParams) {
		p.penaltyScore = &score
	}
}

// WithSystem sets the system prompt.
func WithSystem(system string) ChatOption {
	return func(p *chatParams) {
		p.system = system
	}
}

// WithPlugins routes the call through the plugins endpoint.
// An empty list clears any default plugins and selects the plain endpoint.
func WithPlugins(plugins ...string) ChatOption {
	return func(p *chatParams) {
		if len(plugins) == 0 {
			p.plugins = nil
			return
		}
		p.plugins = append([]string(nil), plugins...)
	}
}

// WithFunctions declares functions the model may call.
func WithFunctions(functions ...erniebot.Function) ChatOption {
	return func(p *chatParams) {
		p.functions = append([]erniebot.Function(nil), functions...)
	}
}

// WithUserID tags the request with an end-user identifier.
func WithUserID(userID string) ChatOption {
	return func(p *chatParams) {
		p.userID = userID
	}
}
