package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hpn/hpn-ernie-router/internal/config"
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/hpn/hpn-ernie-router/internal/erniebot"
)

// ERNIEBot is a ChatModel backed by the ERNIE Bot API.
// It is immutable after New and safe for concurrent use.
type ERNIEBot struct {
	model       string
	apiType     domain.APIType
	credentials domain.Credentials

	// enableMultiStep lets the upstream chain several tool calls in one turn.
	enableMultiStep bool

	// defaults are applied before the per-call options.
	defaults []ChatOption

	client *erniebot.Client
	logger *slog.Logger
}

// Option is a functional option for configuring ERNIEBot.
type Option func(*ERNIEBot)

// WithAPIType selects the backend. The default is aistudio.
func WithAPIType(apiType domain.APIType) Option {
	return func(b *ERNIEBot) {
		b.apiType = apiType
	}
}

// WithAccessToken sets the access token explicitly.
func WithAccessToken(token string) Option {
	return func(b *ERNIEBot) {
		b.credentials.AccessToken = token
	}
}

// WithAKSK sets the qianfan key pair explicitly.
func WithAKSK(ak, sk string) Option {
	return func(b *ERNIEBot) {
		b.credentials.AK = ak
		b.credentials.SK = sk
	}
}

// WithMultiStepToolCall enables multi-step tool calls on the upstream side.
func WithMultiStepToolCall(enable bool) Option {
	return func(b *ERNIEBot) {
		b.enableMultiStep = enable
	}
}

// WithDefaults sets chat options applied to every call before the per-call ones.
func WithDefaults(opts ...ChatOption) Option {
	return func(b *ERNIEBot) {
		b.defaults = append(b.defaults, opts...)
	}
}

// WithClient sets the ERNIE Bot client. Sharing one client shares its token cache.
func WithClient(client *erniebot.Client) Option {
	return func(b *ERNIEBot) {
		b.client = client
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *ERNIEBot) {
		b.logger = logger
	}
}

// New creates an ERNIEBot for model.
//
// The access token comes from WithAccessToken, then EB_AGENT_ACCESS_TOKEN.
// The qianfan backend without a token needs an ak/sk pair from WithAKSK, then
// EB_AGENT_AK and EB_AGENT_SK; a *config.MissingKeyError is returned otherwise.
func New(model string, opts ...Option) (*ERNIEBot, error) {
	b := &ERNIEBot{
		model:   model,
		apiType: domain.APITypeAIStudio,
	}

	for _, opt := range opts {
		opt(b)
	}

	if !b.apiType.IsValid() {
		return nil, &config.InvalidValueError{
			Key:           "api_type",
			Value:         b.apiType,
			AllowedValues: []string{string(domain.APITypeAIStudio), string(domain.APITypeQianfan)},
		}
	}

	// Resolve credentials
	if !b.credentials.HasAccessToken() {
		b.credentials.AccessToken = config.GlobalAccessToken()
	}

	if b.apiType == domain.APITypeQianfan && !b.credentials.HasAccessToken() && !b.credentials.HasKeyPair() {
		env := config.GlobalAKSK()
		if !env.HasKeyPair() {
			return nil, &config.MissingKeyError{
				Key:  "ak/sk",
				Hint: fmt.Sprintf("qianfan needs an access token or a key pair; set %s or %s and %s", config.EnvAccessToken, config.EnvAK, config.EnvSK),
			}
		}
		b.credentials.AK = env.AK
		b.credentials.SK = env.SK
	}

	if b.client == nil {
		b.client = erniebot.NewClient()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b, nil
}

// Model returns the model name.
func (b *ERNIEBot) Model() string {
	return b.model
}

// Chat sends messages and returns the whole reply.
// Remote failures are returned unchanged.
func (b *ERNIEBot) Chat(ctx context.Context, messages []domain.Message, opts ...ChatOption) (*domain.AIMessage, error) {
	params := b.params(opts)
	cfg := b.clientConfig()

	var (
		resp *erniebot.Response
		err  error
	)

	if len(params.plugins) > 0 {
		b.logDispatch("plugins", false, params)
		resp, err = b.client.ChatCompletionWithPlugins(ctx, cfg, b.pluginRequest(messages, params))
	} else {
		b.logDispatch("chat", false, params)
		resp, err = b.client.ChatCompletion(ctx, cfg, b.chatRequest(messages, params))
	}
	if err != nil {
		return nil, err
	}

	return convertResponse(resp, domain.NewAIMessage)
}

// ChatStream sends messages and returns the reply as a stream of chunks.
// Remote failures are returned unchanged.
func (b *ERNIEBot) ChatStream(ctx context.Context, messages []domain.Message, opts ...ChatOption) (*ChunkStream, error) {
	params := b.params(opts)
	cfg := b.clientConfig()

	var (
		stream *erniebot.Stream
		err    error
	)

	if len(params.plugins) > 0 {
		b.logDispatch("plugins", true, params)
		stream, err = b.client.ChatCompletionWithPluginsStream(ctx, cfg, b.pluginRequest(messages, params))
	} else {
		b.logDispatch("chat", true, params)
		stream, err = b.client.ChatCompletionStream(ctx, cfg, b.chatRequest(messages, params))
	}
	if err != nil {
		return nil, err
	}

	return &ChunkStream{source: stream}, nil
}

func (b *ERNIEBot) params(opts []ChatOption) chatParams {
	var p chatParams
	for _, opt := range b.defaults {
		opt(&p)
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (b *ERNIEBot) clientConfig() erniebot.Config {
	return erniebot.Config{
		APIType:     string(b.apiType),
		AccessToken: b.credentials.AccessToken,
		AK:          b.credentials.AK,
		SK:          b.credentials.SK,
	}
}

func (b *ERNIEBot) chatRequest(messages []domain.Message, p chatParams) erniebot.ChatRequest {
	return erniebot.ChatRequest{
		Model:        b.model,
		Messages:     serializeMessages(messages),
		Functions:    p.functions,
		Temperature:  p.temperature,
		TopP:         p.topP,
		PenaltyScore: p.penaltyScore,
		System:       p.system,
		UserID:       p.userID,
		ExtraData:    b.extraData(),
	}
}

// pluginRequest carries only what the plugins endpoint accepts.
func (b *ERNIEBot) pluginRequest(messages []domain.Message, p chatParams) erniebot.PluginRequest {
	return erniebot.PluginRequest{
		Messages:  serializeMessages(messages),
		Plugins:   p.plugins,
		Functions: p.functions,
		UserID:    p.userID,
		ExtraData: b.extraData(),
	}
}

func (b *ERNIEBot) extraData() string {
	data, _ := json.Marshal(map[string]bool{"multi_step_tool_call_close": !b.enableMultiStep})
	return string(data)
}

func (b *ERNIEBot) logDispatch(variant string, stream bool, p chatParams) {
	b.logger.Debug("Dispatching ERNIE Bot request",
		slog.String("model", b.model),
		slog.String("api_type", string(b.apiType)),
		slog.String("variant", variant),
		slog.Bool("stream", stream),
		slog.Int("plugins", len(p.plugins)),
		slog.Int("functions", len(p.functions)),
	)
}

func serializeMessages(messages []domain.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ToMap())
	}
	return out
}

// ChunkStream yields converted reply chunks in arrival order. It is single pass.
type ChunkStream struct {
	source interface {
		Recv() (*erniebot.Response, error)
		Close() error
	}
}

// Recv returns the next chunk, or io.EOF after the last one.
func (s *ChunkStream) Recv() (*domain.AIMessageChunk, error) {
	resp, err := s.source.Recv()
	if err != nil {
		return nil, err
	}

	chunk, err := convertResponse(resp, domain.NewAIMessageChunk)
	if err != nil {
		return nil, err
	}
	chunk.SentenceID = resp.SentenceID
	chunk.IsEnd = resp.IsEnd
	return chunk, nil
}

// Close releases the upstream connection.
func (s *ChunkStream) Close() error {
	return s.source.Close()
}
