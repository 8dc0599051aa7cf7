package erniebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultAIStudioBaseURL is the AI Studio backend endpoint.
	DefaultAIStudioBaseURL = "https://aistudio.baidu.com/llm/lmapi/v1"

	// DefaultQianfanBaseURL is the qianfan backend endpoint.
	DefaultQianfanBaseURL = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop"

	// DefaultTokenURL exchanges a qianfan ak/sk pair for an access token.
	DefaultTokenURL = "https://aip.baidubce.com/oauth/2.0/token"

	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 60 * time.Second

	pluginsPath = "/erniebot/plugins"
)

// Backend names accepted in Config.APIType.
const (
	APITypeAIStudio = "aistudio"
	APITypeQianfan  = "qianfan"
)

// chatPaths maps each chat model to its endpoint path. Both backends share the layout.
var chatPaths = map[string]string{
	"ernie-3.5":      "/chat/completions",
	"ernie-turbo":    "/chat/eb-instant",
	"ernie-4.0":      "/chat/completions_pro",
	"ernie-longtext": "/chat/ernie_bot_8k",
}

var (
	// ErrMissingAccessToken is returned when an AI Studio call has no token.
	ErrMissingAccessToken = errors.New("erniebot: access token is required for the aistudio backend")

	// ErrMissingCredentials is returned when a qianfan call has neither a token nor an ak/sk pair.
	ErrMissingCredentials = errors.New("erniebot: access token or ak/sk pair is required for the qianfan backend")
)

// Config selects the backend and credentials for a single call.
type Config struct {
	APIType     string
	AccessToken string
	AK          string
	SK          string
}

// Client performs ERNIE Bot API calls. It is safe for concurrent use.
type Client struct {
	aistudioURL string
	qianfanURL  string
	tokenURL    string
	httpClient  *http.Client
	timeout     time.Duration
	tokens      *tokenCache
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithAIStudioBaseURL overrides the AI Studio endpoint.
func WithAIStudioBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.aistudioURL = strings.TrimSuffix(u, "/")
	}
}

// WithQianfanBaseURL overrides the qianfan endpoint.
func WithQianfanBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.qianfanURL = strings.TrimSuffix(u, "/")
	}
}

// WithTokenURL overrides the qianfan token exchange endpoint.
func WithTokenURL(u string) ClientOption {
	return func(c *Client) {
		c.tokenURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout. A client passed to WithHTTPClient
// is copied, never modified.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a Client with default endpoints.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		aistudioURL: DefaultAIStudioBaseURL,
		qianfanURL:  DefaultQianfanBaseURL,
		tokenURL:    DefaultTokenURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tokens: newTokenCache(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}

	return c
}

// ChatCompletion performs a blocking chat completion.
func (c *Client) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*Response, error) {
	path, err := chatPath(req.Model)
	if err != nil {
		return nil, err
	}
	req.Stream = false

	resp, _, err := c.call(ctx, cfg, path, req, false)
	return resp, err
}

// ChatCompletionStream performs a streamed chat completion.
func (c *Client) ChatCompletionStream(ctx context.Context, cfg Config, req ChatRequest) (*Stream, error) {
	path, err := chatPath(req.Model)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	return c.openStream(ctx, cfg, path, req)
}

// ChatCompletionWithPlugins performs a blocking chat completion with plugins.
func (c *Client) ChatCompletionWithPlugins(ctx context.Context, cfg Config, req PluginRequest) (*Response, error) {
	req.Stream = false

	resp, _, err := c.call(ctx, cfg, pluginsPath, req, false)
	return resp, err
}

// ChatCompletionWithPluginsStream performs a streamed chat completion with plugins.
func (c *Client) ChatCompletionWithPluginsStream(ctx context.Context, cfg Config, req PluginRequest) (*Stream, error) {
	req.Stream = true

	return c.openStream(ctx, cfg, pluginsPath, req)
}

func (c *Client) openStream(ctx context.Context, cfg Config, path string, body any) (*Stream, error) {
	resp, httpResp, err := c.call(ctx, cfg, path, body, true)
	if err != nil {
		return nil, err
	}
	if httpResp != nil {
		return newStream(httpResp, cfg.APIType), nil
	}
	// The service answered a stream request with one JSON body.
	return newSingleStream(resp), nil
}

// call posts body to path. For stream calls answered with an event stream the
// live *http.Response is returned; otherwise the body is decoded.
// A qianfan token derived from ak/sk that is rejected is refreshed once.
func (c *Client) call(ctx context.Context, cfg Config, path string, body any, stream bool) (*Response, *http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal erniebot request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		httpResp, err := c.send(ctx, cfg, path, payload)
		if err != nil {
			return nil, nil, err
		}

		if stream && httpResp.StatusCode == http.StatusOK && isEventStream(httpResp) {
			return nil, httpResp, nil
		}

		resp, err := readResponse(httpResp, cfg.APIType)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.TokenExpired() && canRefresh(cfg) {
			c.tokens.invalidate(cfg.AK)
			continue
		}
		return resp, nil, err
	}
}

func (c *Client) send(ctx context.Context, cfg Config, path string, payload []byte) (*http.Response, error) {
	token, err := c.accessToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var endpoint string
	switch cfg.APIType {
	case APITypeAIStudio, "":
		endpoint = c.aistudioURL + path
	case APITypeQianfan:
		endpoint = c.qianfanURL + path + "?access_token=" + url.QueryEscape(token)
	default:
		return nil, fmt.Errorf("erniebot: unsupported api type %q", cfg.APIType)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIType != APITypeQianfan {
		httpReq.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute erniebot request: %w", err)
	}
	return resp, nil
}

// readResponse drains and closes resp, decoding either a reply or an *APIError.
func readResponse(resp *http.Response, apiType string) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read erniebot response: %w", err)
	}

	return decodePayload(resp.StatusCode, body, apiType)
}

// decodePayload turns one JSON document from the service into a Response.
func decodePayload(status int, data []byte, apiType string) (*Response, error) {
	data = bytes.TrimSpace(data)

	if apiType == APITypeAIStudio || apiType == "" {
		var env aistudioEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.ErrorCode != nil {
			if *env.ErrorCode != 0 {
				return nil, &APIError{StatusCode: status, Code: *env.ErrorCode, Message: env.ErrorMsg}
			}
			data = env.Result
		}
	}

	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.ErrorCode != 0 {
		return nil, &APIError{StatusCode: status, Code: eb.ErrorCode, Message: eb.ErrorMsg}
	}

	if status >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, &APIError{StatusCode: status, Message: msg}
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal erniebot response: %w", err)
	}
	return &resp, nil
}

func chatPath(model string) (string, error) {
	path, ok := chatPaths[model]
	if !ok {
		return "", fmt.Errorf("erniebot: unsupported model %q", model)
	}
	return path, nil
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}
