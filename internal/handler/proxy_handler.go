// Package handler provides HTTP handlers for the API router.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hpn/hpn-ernie-router/internal/adapter"
	"github.com/hpn/hpn-ernie-router/internal/config"
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/hpn/hpn-ernie-router/internal/erniebot"
	"github.com/hpn/hpn-ernie-router/internal/ui"
)

const (
	// DefaultMaxRetries is the default maximum number of retry attempts.
	DefaultMaxRetries = 3
)

// ProxyHandler serves OpenAI-compatible endpoints on top of ERNIE Bot.
// Failed attempts rotate to the next pooled access token.
type ProxyHandler struct {
	pool         *domain.TokenPool
	factory      adapter.ModelFactory
	cache        Store
	logger       *slog.Logger
	maxRetries   int
	defaultModel string
}

// ProxyHandlerOption is a functional option for configuring ProxyHandler.
type ProxyHandlerOption func(*ProxyHandler)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(max int) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		if max > 0 {
			h.maxRetries = max
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.logger = logger
	}
}

// WithDefaultModel sets the model used when a request names one we don't serve.
func WithDefaultModel(model string) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		if model != "" {
			h.defaultModel = model
		}
	}
}

// WithCacheStore reports the cache counters on /health.
func WithCacheStore(store Store) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.cache = store
	}
}

// NewProxyHandler creates a new ProxyHandler. An empty pool means every
// attempt runs on the factory's own credentials.
func NewProxyHandler(pool *domain.TokenPool, factory adapter.ModelFactory, opts ...ProxyHandlerOption) *ProxyHandler {
	h := &ProxyHandler{
		pool:         pool,
		factory:      factory,
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		defaultModel: domain.ModelERNIE35,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ProxyHandler) HandleChatCompletion(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	req, err := parseChatRequest(body, h.defaultModel)
	if err != nil {
		h.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if req.stream {
		h.streamCompletion(c, req)
		return
	}
	h.blockingCompletion(c, req)
}

func (h *ProxyHandler) blockingCompletion(c *gin.Context, req *chatRequest) {
	var reply *domain.AIMessage

	attempts, err := h.executeWithRetry(c, req.model, func(ctx context.Context, m adapter.ChatModel) error {
		var err error
		reply, err = m.Chat(ctx, req.messages, req.options...)
		return err
	})
	c.Set(ctxKeyAttempts, attempts)

	if err != nil {
		h.sendUpstreamError(c, err, attempts)
		return
	}

	usage := reply.TokenUsage
	if usage.TotalTokens == 0 {
		usage = estimateUsage(req.input, reply.Content)
	}
	RecordUsage(usage)

	c.Set(ctxKeyReplyKind, reply.Kind().String())
	c.JSON(http.StatusOK, toCompletionResponse(newCompletionID(), req.model, reply))
}

// streamCompletion relays chunks as server-sent events. Failover only happens
// before the first byte is written.
func (h *ProxyHandler) streamCompletion(c *gin.Context, req *chatRequest) {
	var stream *adapter.ChunkStream

	attempts, err := h.executeWithRetry(c, req.model, func(ctx context.Context, m adapter.ChatModel) error {
		var err error
		stream, err = m.ChatStream(ctx, req.messages, req.options...)
		return err
	})
	c.Set(ctxKeyAttempts, attempts)

	if err != nil {
		h.sendUpstreamError(c, err, attempts)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	var (
		id              = newCompletionID()
		created         = time.Now().Unix()
		first           = true
		sawFunctionCall bool
		kind            domain.ReplyKind
		usage           domain.TokenUsage
		content         strings.Builder
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.logger.Error("stream interrupted",
				slog.String("error", err.Error()),
				slog.String("model", req.model),
			)
			h.writeEvent(c, gin.H{"error": gin.H{
				"message": err.Error(),
				"type":    "upstream_error",
			}})
			break
		}

		if chunk.FunctionCall != nil {
			sawFunctionCall = true
		}
		if k := chunk.Kind(); k != domain.ReplyText {
			kind = k
		}
		if chunk.TokenUsage.TotalTokens > 0 {
			usage = chunk.TokenUsage
		}
		content.WriteString(chunk.Content)

		h.writeEvent(c, toCompletionChunk(id, created, req.model, chunk, first, sawFunctionCall))
		first = false
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()

	if usage.TotalTokens == 0 {
		usage = estimateUsage(req.input, content.String())
	}
	RecordUsage(usage)
	c.Set(ctxKeyReplyKind, kind.String())
}

func (h *ProxyHandler) writeEvent(c *gin.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode stream event", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// executeWithRetry runs call with a fresh ChatModel per attempt, rotating
// tokens on rate limits, upstream outages and expired tokens.
// Returns the number of attempts made and the last error.
func (h *ProxyHandler) executeWithRetry(c *gin.Context, model string, call func(context.Context, adapter.ChatModel) error) (int, error) {
	var (
		lastErr   error
		usedKeys  []string
		prevToken string
	)

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		token, err := h.nextToken()
		if err != nil {
			h.logger.Warn("no tokens available",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w: last upstream error: %v", err, lastErr)
			}
			return attempt - 1, err
		}

		if prevToken != "" && token != "" {
			ui.PrintSwitching(prevToken, token)
		}
		usedKeys = append(usedKeys, token)
		c.Set(ctxKeyTokenUsed, token)

		h.logger.Debug("attempting request",
			slog.Int("attempt", attempt),
			slog.String("token", maskKey(token)),
			slog.String("model", model),
		)

		chatModel, err := h.factory(model, token)
		if err != nil {
			return attempt, err
		}

		err = call(c.Request.Context(), chatModel)
		if err == nil {
			h.logger.Info("request successful",
				slog.Int("attempt", attempt),
				slog.String("model", model),
			)
			return attempt, nil
		}

		if !h.isRetryableError(err) {
			h.logger.Error("non-retryable error",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return attempt, err
		}

		// Without a pool there is no other credential to fail over to.
		if token == "" {
			h.logger.Warn("retryable error, no pooled tokens to rotate to",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return attempt, err
		}

		h.logger.Warn("retryable error, rotating token",
			slog.Int("attempt", attempt),
			slog.String("token", maskKey(token)),
			slog.String("error", err.Error()),
		)

		h.pool.MarkAsDead(token)
		ui.PrintDeadKey(token, retryReason(err))
		prevToken = token
		lastErr = err
	}

	h.logger.Error("max retries exhausted",
		slog.Int("max_retries", h.maxRetries),
		slog.Any("used_tokens", h.maskKeys(usedKeys)),
	)

	return h.maxRetries, lastErr
}

// nextToken returns the next pooled token, or "" when the pool is empty and
// the factory authenticates on its own.
func (h *ProxyHandler) nextToken() (string, error) {
	if h.pool == nil || h.pool.TotalCount() == 0 {
		return "", nil
	}
	return h.pool.Next()
}

// isRetryableError reports whether another token could succeed where this one failed.
func (h *ProxyHandler) isRetryableError(err error) bool {
	var apiErr *erniebot.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Retryable() || apiErr.TokenExpired()
}

func retryReason(err error) string {
	var apiErr *erniebot.APIError
	if !errors.As(err, &apiErr) {
		return "error"
	}
	switch {
	case apiErr.TokenExpired():
		return "token expired"
	case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.Code != 0 && apiErr.StatusCode < 500:
		return fmt.Sprintf("rate limited (%d)", apiErr.Code)
	default:
		return fmt.Sprintf("upstream %d", apiErr.StatusCode)
	}
}

// sendUpstreamError maps an adapter failure to an OpenAI error body.
func (h *ProxyHandler) sendUpstreamError(c *gin.Context, err error, attempts int) {
	h.logger.Error("completion failed",
		slog.String("error", err.Error()),
		slog.Int("attempts", attempts),
	)

	var apiErr *erniebot.APIError
	switch {
	case errors.Is(err, domain.ErrNoTokensAvailable):
		h.sendOpenAIError(c, http.StatusServiceUnavailable, "server_error", "No access tokens available. Please try again later.")
	case config.IsMissingKeyError(err), errors.Is(err, erniebot.ErrMissingAccessToken), errors.Is(err, erniebot.ErrMissingCredentials):
		h.sendOpenAIError(c, http.StatusInternalServerError, "server_error", "Gateway credentials are not configured.")
	case errors.As(err, &apiErr) && (apiErr.Retryable() || apiErr.TokenExpired()):
		h.sendOpenAIError(c, http.StatusServiceUnavailable, "server_error", "Service temporarily unavailable. Please try again later.")
	case errors.As(err, &apiErr):
		h.sendOpenAIError(c, http.StatusBadRequest, "upstream_error", apiErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.sendOpenAIError(c, http.StatusGatewayTimeout, "server_error", "Upstream request timed out.")
	default:
		h.sendOpenAIError(c, http.StatusBadGateway, "server_error", "Upstream request failed.")
	}
}

// sendOpenAIError sends an error response in OpenAI-compatible format.
func (h *ProxyHandler) sendOpenAIError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
			"param":   nil,
			"code":    nil,
		},
	})
}

// maskKeys returns masked versions of multiple keys.
func (h *ProxyHandler) maskKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, k := range keys {
		masked[i] = maskKey(k)
	}
	return masked
}

func estimateUsage(input, output string) domain.TokenUsage {
	prompt := EstimateTokens(input)
	completion := EstimateTokens(output)
	return domain.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// modelCreated is the listing timestamp for every served model.
const modelCreated = 1687882411

// HandleModels handles GET /v1/models
func (h *ProxyHandler) HandleModels(c *gin.Context) {
	models := domain.SupportedModels()
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m,
			"object":   "model",
			"created":  modelCreated,
			"owned_by": "baidu",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// HandleHealth handles GET /health
func (h *ProxyHandler) HandleHealth(c *gin.Context) {
	var active, dead, total int
	if h.pool != nil {
		active = h.pool.ActiveCount()
		dead = h.pool.DeadCount()
		total = h.pool.TotalCount()
	}

	status := "healthy"
	if total > 0 && active == 0 {
		status = "degraded"
	}

	resp := gin.H{
		"status":        status,
		"default_model": h.defaultModel,
		"active_tokens": active,
		"dead_tokens":   dead,
		"total_tokens":  total,
		"usage":         GetUsage(),
	}
	if h.cache != nil {
		resp["cache"] = h.cache.Stats()
	}

	c.JSON(http.StatusOK, resp)
}
