package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hpn/hpn-ernie-router/internal/adapter"
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/hpn/hpn-ernie-router/internal/erniebot"
	"github.com/sashabaranov/go-openai"
)

// ernieExtras are request fields ERNIE understands that the OpenAI schema lacks,
// plus the sampling parameters read at full precision.
type ernieExtras struct {
	Plugins      []string `json:"plugins"`
	PenaltyScore *float64 `json:"penalty_score"`
	System       string   `json:"system"`
	Temperature  *float64 `json:"temperature"`
	TopP         *float64 `json:"top_p"`
}

// chatRequest is an incoming completion request translated for the adapter.
type chatRequest struct {
	model    string
	stream   bool
	messages []domain.Message
	options  []adapter.ChatOption

	// input is the concatenated prompt text, for usage estimates.
	input string
}

// parseChatRequest decodes an OpenAI-compatible body. Unknown models fall back to defaultModel.
func parseChatRequest(body []byte, defaultModel string) (*chatRequest, error) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	var extras ernieExtras
	if err := json.Unmarshal(body, &extras); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages array is required")
	}

	out := &chatRequest{
		model:  defaultModel,
		stream: req.Stream,
		input:  ExtractInputText(req.Messages),
	}
	if domain.IsSupportedModel(req.Model) {
		out.model = req.Model
	}

	// System messages become the ERNIE system parameter
	var system []string
	if extras.System != "" {
		system = append(system, extras.System)
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			system = append(system, msg.Content)

		case openai.ChatMessageRoleUser:
			out.messages = append(out.messages, domain.Message{Role: domain.RoleUser, Content: msg.Content})

		case openai.ChatMessageRoleAssistant:
			turn := domain.Message{Role: domain.RoleAssistant, Content: msg.Content}
			if msg.FunctionCall != nil {
				turn.FunctionCall = &domain.FunctionCall{Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments}
			}
			out.messages = append(out.messages, turn)

		case openai.ChatMessageRoleFunction, openai.ChatMessageRoleTool:
			if msg.Name == "" {
				return nil, fmt.Errorf("messages[%d]: name is required for %s messages", i, msg.Role)
			}
			out.messages = append(out.messages, domain.NewFunctionMessage(msg.Name, msg.Content))

		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}

	if len(out.messages) == 0 {
		return nil, fmt.Errorf("at least one non-system message is required")
	}

	// Sampling parameters
	if extras.Temperature != nil {
		out.options = append(out.options, adapter.WithTemperature(*extras.Temperature))
	}
	if extras.TopP != nil {
		out.options = append(out.options, adapter.WithTopP(*extras.TopP))
	}
	if extras.PenaltyScore != nil {
		out.options = append(out.options, adapter.WithPenaltyScore(*extras.PenaltyScore))
	}
	if len(system) > 0 {
		out.options = append(out.options, adapter.WithSystem(strings.Join(system, "\n")))
	}
	if req.User != "" {
		out.options = append(out.options, adapter.WithUserID(req.User))
	}

	// Plugins and functions
	if len(extras.Plugins) > 0 {
		out.options = append(out.options, adapter.WithPlugins(extras.Plugins...))
	}
	fns, err := collectFunctions(req)
	if err != nil {
		return nil, err
	}
	if len(fns) > 0 {
		out.options = append(out.options, adapter.WithFunctions(fns...))
	}

	return out, nil
}

// collectFunctions merges legacy functions and function tools.
// Parameters must be a JSON object.
func collectFunctions(req openai.ChatCompletionRequest) ([]erniebot.Function, error) {
	var fns []erniebot.Function

	add := func(def openai.FunctionDefinition) error {
		fn := erniebot.Function{Name: def.Name, Description: def.Description}
		if def.Parameters != nil {
			params, err := toMap(def.Parameters)
			if err != nil {
				return fmt.Errorf("function %q: parameters must be a JSON object: %w", def.Name, err)
			}
			fn.Parameters = params
		}
		fns = append(fns, fn)
		return nil
	}

	for _, def := range req.Functions {
		if err := add(def); err != nil {
			return nil, err
		}
	}
	for _, tool := range req.Tools {
		if tool.Type == openai.ToolTypeFunction && tool.Function != nil {
			if err := add(*tool.Function); err != nil {
				return nil, err
			}
		}
	}

	return fns, nil
}

// toMap normalizes a JSON-schema value of any shape into a plain map.
func toMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// ernieExtension exposes reply details the OpenAI schema has no field for.
type ernieExtension struct {
	Kind          string                `json:"kind"`
	Plugins       []string              `json:"plugins,omitempty"`
	SearchResults []domain.SearchResult `json:"search_results,omitempty"`
	Thoughts      string                `json:"thoughts,omitempty"`
}

type completionResponse struct {
	openai.ChatCompletionResponse
	Ernie *ernieExtension `json:"ernie,omitempty"`
}

type completionChunk struct {
	openai.ChatCompletionStreamResponse
	Ernie *ernieExtension `json:"ernie,omitempty"`
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func extensionFor(r domain.Reply) *ernieExtension {
	switch r.Kind() {
	case domain.ReplyFunctionCall:
		if r.FunctionCall.Thoughts == "" {
			return nil
		}
		return &ernieExtension{Kind: r.Kind().String(), Thoughts: r.FunctionCall.Thoughts}
	case domain.ReplyPlugin:
		return &ernieExtension{Kind: r.Kind().String(), Plugins: r.PluginInfo.Names}
	case domain.ReplySearch:
		return &ernieExtension{Kind: r.Kind().String(), SearchResults: r.SearchInfo.Results}
	default:
		return nil
	}
}

func toOpenAIFunctionCall(fc *domain.FunctionCall) *openai.FunctionCall {
	if fc == nil {
		return nil
	}
	return &openai.FunctionCall{Name: fc.Name, Arguments: fc.Arguments}
}

func toOpenAIUsage(u domain.TokenUsage) openai.Usage {
	return openai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// toCompletionResponse maps a whole reply to an OpenAI completion.
func toCompletionResponse(id, model string, msg *domain.AIMessage) completionResponse {
	finish := openai.FinishReasonStop
	if msg.FunctionCall != nil {
		finish = openai.FinishReasonFunctionCall
	}

	return completionResponse{
		ChatCompletionResponse: openai.ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []openai.ChatCompletionChoice{
				{
					Index: 0,
					Message: openai.ChatCompletionMessage{
						Role:         openai.ChatMessageRoleAssistant,
						Content:      msg.Content,
						FunctionCall: toOpenAIFunctionCall(msg.FunctionCall),
					},
					FinishReason: finish,
				},
			},
			Usage: toOpenAIUsage(msg.TokenUsage),
		},
		Ernie: extensionFor(msg.Reply),
	}
}

// toCompletionChunk maps one streamed chunk. The first chunk carries the role;
// the last carries the finish reason and usage.
func toCompletionChunk(id string, created int64, model string, chunk *domain.AIMessageChunk, first, sawFunctionCall bool) completionChunk {
	delta := openai.ChatCompletionStreamChoiceDelta{
		Content:      chunk.Content,
		FunctionCall: toOpenAIFunctionCall(chunk.FunctionCall),
	}
	if first {
		delta.Role = openai.ChatMessageRoleAssistant
	}

	choice := openai.ChatCompletionStreamChoice{Index: 0, Delta: delta}

	resp := openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
	}

	if chunk.IsEnd {
		choice.FinishReason = openai.FinishReasonStop
		if sawFunctionCall || chunk.FunctionCall != nil {
			choice.FinishReason = openai.FinishReasonFunctionCall
		}
		usage := toOpenAIUsage(chunk.TokenUsage)
		resp.Usage = &usage
	}
	resp.Choices = []openai.ChatCompletionStreamChoice{choice}

	return completionChunk{
		ChatCompletionStreamResponse: resp,
		Ernie:                        extensionFor(chunk.Reply),
	}
}
