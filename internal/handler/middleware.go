// Package handler provides HTTP handlers for the API router.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hpn/hpn-ernie-router/internal/ui"
)

// Gin context keys shared between the handler and the middleware.
const (
	ctxKeyTokenUsed = "token_used"
	ctxKeyAttempts  = "attempts"
	ctxKeyCacheHit  = "cache_hit"
	ctxKeyReplyKind = "reply_kind"
)

// CORSMiddleware returns a middleware that enables permissive CORS.
// This allows web applications to call the API directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware returns a middleware that logs request details.
// It records the access token used for each request (masked).
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("token_used", maskKey(c.GetString(ctxKeyTokenUsed))),
			slog.Int("attempts", c.GetInt(ctxKeyAttempts)),
			slog.Bool("cache_hit", c.GetBool(ctxKeyCacheHit)),
			slog.String("reply_kind", c.GetString(ctxKeyReplyKind)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// ConsoleMiddleware prints one colored line per request to the terminal.
func ConsoleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		ui.PrintRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.GetString(ctxKeyTokenUsed))
	}
}

// RecoveryMiddleware returns a middleware that recovers from panics.
// It logs the error and returns a 500 response in OpenAI-compatible format.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": "Internal server error",
						"type":    "server_error",
						"code":    "internal_error",
					},
				})
			}
		}()

		c.Next()
	}
}

// StripAuthHeadersMiddleware removes client Authorization headers.
// Upstream calls authenticate with the pooled access token instead.
func StripAuthHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth := c.GetHeader("Authorization"); auth != "" {
			c.Request.Header.Del("Authorization")
			c.Set("original_auth", "***STRIPPED***")
		}

		c.Next()
	}
}

// maskKey returns a masked version of an access token for logging.
// Shows first 8 and last 4 characters.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
