// Package erniebot is an HTTP client for the ERNIE Bot chat completion API.
package erniebot

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Request Types
// ============================================================================

// Function describes a caller-defined function the model may call.
type Function struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]any   `json:"parameters,omitempty"`
	Responses   map[string]any   `json:"responses,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

// ChatRequest is the body of a plain chat completion call.
// The model is not part of the body; it selects the endpoint path.
type ChatRequest struct {
	Model string `json:"-"`

	// Messages are the serialized conversation turns.
	Messages []map[string]any `json:"messages"`

	Functions    []Function `json:"functions,omitempty"`
	Temperature  *float64   `json:"temperature,omitempty"`
	TopP         *float64   `json:"top_p,omitempty"`
	PenaltyScore *float64   `json:"penalty_score,omitempty"`
	System       string     `json:"system,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	Stream       bool       `json:"stream,omitempty"`

	// ExtraData is forwarded verbatim as the extra_data field.
	ExtraData string `json:"extra_data,omitempty"`
}

// PluginRequest is the body of a chat completion call with plugins.
// Sampling parameters are not accepted by this endpoint.
type PluginRequest struct {
	Messages  []map[string]any `json:"messages"`
	Plugins   []string         `json:"plugins"`
	Functions []Function       `json:"functions,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Stream    bool             `json:"stream,omitempty"`
	ExtraData string           `json:"extra_data,omitempty"`
}

// ============================================================================
// Response Types
// ============================================================================

// Response is one chat completion result, or one fragment of a stream.
type Response struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Created          int64  `json:"created"`
	SentenceID       int    `json:"sentence_id"`
	IsEnd            bool   `json:"is_end"`
	IsTruncated      bool   `json:"is_truncated"`
	Result           string `json:"result"`
	NeedClearHistory bool   `json:"need_clear_history"`

	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// PluginInfo is kept raw: its presence, not its shape, marks a plugin reply.
	PluginInfo  json.RawMessage `json:"plugin_info,omitempty"`
	PluginMetas []PluginMeta    `json:"plugin_metas,omitempty"`

	// SearchInfo is kept as a raw object so an empty {} can be told apart.
	SearchInfo map[string]json.RawMessage `json:"search_info,omitempty"`

	Usage Usage `json:"usage"`
}

// HasPluginInfo reports whether the upstream attached plugin metadata.
// An explicit null counts as absent.
func (r *Response) HasPluginInfo() bool {
	return len(r.PluginInfo) > 0 && string(r.PluginInfo) != "null"
}

// HasSearchInfo reports whether search info is present and non-empty.
func (r *Response) HasSearchInfo() bool {
	return len(r.SearchInfo) > 0
}

// SearchResults decodes search_info.search_results. A missing list yields nil.
func (r *Response) SearchResults() ([]SearchResult, error) {
	raw, ok := r.SearchInfo["search_results"]
	if !ok {
		return nil, nil
	}
	var results []SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return results, nil
}

// FunctionCall is a function invocation chosen by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Thoughts  string `json:"thoughts"`
	Arguments string `json:"arguments"`
}

// PluginMeta describes one plugin used while generating the reply.
type PluginMeta struct {
	PluginID           string `json:"pluginId,omitempty"`
	PluginNameForModel string `json:"pluginNameForModel"`
	PluginNameForHuman string `json:"pluginNameForHuman,omitempty"`
	APIID              string `json:"apiId,omitempty"`
	Operation          string `json:"operation,omitempty"`
}

// SearchResult is one search hit cited by the reply.
type SearchResult struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ============================================================================
// Error Types
// ============================================================================

// errorBody is the error shape ERNIE returns, often with HTTP 200.
type errorBody struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// aistudioEnvelope wraps every AI Studio payload. ErrorCode is a pointer so
// an unwrapped body can be told apart from a successful envelope.
type aistudioEnvelope struct {
	LogID     string          `json:"logId"`
	ErrorCode *int            `json:"errorCode"`
	ErrorMsg  string          `json:"errorMsg"`
	Result    json.RawMessage `json:"result"`
}

// APIError is an error reported by the ERNIE Bot service.
type APIError struct {
	// StatusCode is the HTTP status of the exchange.
	StatusCode int

	// Code is the upstream error_code, 0 when the failure was HTTP-level only.
	Code int

	Message string
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("erniebot API error [%d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("erniebot API error [%d, code %d]: %s", e.StatusCode, e.Code, e.Message)
}

// Upstream error codes with special handling.
const (
	CodeServiceUnavailable = 2
	CodeQPSLimit           = 4
	CodeDailyLimit         = 17
	CodeQPSLimitReached    = 18
	CodeTokenInvalid       = 110
	CodeTokenExpired       = 111
	CodeRPMLimit           = 336501
	CodeTPMLimit           = 336502
)

// Retryable reports whether a different credential or a later attempt may succeed.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeServiceUnavailable, CodeQPSLimit, CodeDailyLimit, CodeQPSLimitReached, CodeRPMLimit, CodeTPMLimit:
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TokenExpired reports whether the access token was rejected.
func (e *APIError) TokenExpired() bool {
	return e.Code == CodeTokenInvalid || e.Code == CodeTokenExpired
}
