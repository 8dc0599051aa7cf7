// Package security keeps ERNIE credentials out of log output.
package security

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Redaction placeholder for sensitive data.
const RedactedPlaceholder = "[REDACTED]"

// redaction is one pattern and what replaces each match.
type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// sensitivePatterns contains patterns for ERNIE credential formats.
// Order matters: the labelled forms run before the bare ones so labels survive.
var sensitivePatterns = []redaction{
	// Credentials in query strings: access_token=..., client_id=..., client_secret=...
	{regexp.MustCompile(`(access_token|client_id|client_secret)=[^&\s"']+`), "${1}=" + RedactedPlaceholder},
	// AI Studio Authorization header: token <hex>
	{regexp.MustCompile(`(?i)(authorization:\s*)?token\s+[a-zA-Z0-9._-]{20,}`), "${1}token " + RedactedPlaceholder},
	// Generic Bearer tokens in strings
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]{20,}`), "Bearer " + RedactedPlaceholder},
	// qianfan access tokens: 24.<hex>.<expiry>.<ts>-<id>
	{regexp.MustCompile(`\b24\.[a-f0-9]{32}\.[0-9.]+-[0-9]+`), RedactedPlaceholder},
	// AI Studio access tokens: 40 hex characters
	{regexp.MustCompile(`\b[a-f0-9]{40}\b`), RedactedPlaceholder},
	// Generic long alphanumeric strings that look like keys (48+ chars)
	{regexp.MustCompile(`[a-zA-Z0-9_]{48,}`), RedactedPlaceholder},
}

// Redact scans a string for sensitive patterns and replaces them.
func Redact(s string) string {
	result := s
	for _, r := range sensitivePatterns {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// RedactedHandler wraps an slog.Handler and redacts sensitive data from log records.
type RedactedHandler struct {
	inner slog.Handler
}

// NewRedactedHandler creates a new handler that wraps an existing handler
// and redacts sensitive data from all log output.
func NewRedactedHandler(inner slog.Handler) *RedactedHandler {
	return &RedactedHandler{inner: inner}
}

// Enabled reports whether the handler handles records at the given level.
func (h *RedactedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle processes a log record, redacting sensitive data.
func (h *RedactedHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)

	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})

	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a new handler with the given attributes added.
func (h *RedactedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactedHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactedHandler) WithGroup(name string) slog.Handler {
	return &RedactedHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(strings.ToLower(a.Key)) {
		return slog.String(a.Key, RedactedPlaceholder)
	}

	value := a.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		group := value.Group()
		redacted := make([]any, len(group))
		for i, ga := range group {
			redacted[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	}

	switch v := value.Any().(type) {
	case string:
		return slog.String(a.Key, Redact(v))
	case []string:
		redacted := make([]string, len(v))
		for i, s := range v {
			redacted[i] = Redact(s)
		}
		return slog.Any(a.Key, redacted)
	case error:
		return slog.String(a.Key, Redact(v.Error()))
	}

	return a
}

// sensitiveKeys are attribute names whose values are always dropped.
// Masked token attributes ("token", "token_used") are left alone.
var sensitiveKeys = map[string]struct{}{
	"ak":            {},
	"sk":            {},
	"access_token":  {},
	"client_id":     {},
	"client_secret": {},
	"api_key":       {},
	"apikey":        {},
	"api-key":       {},
}

// sensitiveFragments mark a key as sensitive wherever they appear in it.
var sensitiveFragments = []string{
	"authorization",
	"secret",
	"password",
	"credential",
	"bearer",
}

func isSensitiveKey(key string) bool {
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	for _, k := range sensitiveFragments {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
