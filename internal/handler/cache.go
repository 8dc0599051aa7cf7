// Package handler provides HTTP handlers for the API router.
package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hpn/hpn-ernie-router/internal/ui"
)

// ══════════════════════════════════════════════════════════════════════════════
// THE FLASH CACHE - Response Caching
// ══════════════════════════════════════════════════════════════════════════════
//
// Key: SHA256 hash of request body
// Value: Serialized OpenAI-compatible completion
// Backends: in-process map (FlashCache) or Redis (RedisCache)
// Streamed completions are never cached.
//
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCacheTTL is the default time-to-live for cache entries.
	DefaultCacheTTL = 5 * time.Minute

	// CleanupInterval is how often the cache cleaner runs.
	CleanupInterval = 1 * time.Minute
)

// Store is a completion cache backend.
type Store interface {
	// Get returns the cached body for key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores body under key for the backend TTL.
	Set(ctx context.Context, key string, body []byte)

	// Stats returns hit/miss counters.
	Stats() CacheStats

	// Close releases background resources.
	Close() error
}

// CacheStats holds cache counters. Size is only tracked by the in-memory backend.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CacheEntry represents a cached response with expiration time.
type CacheEntry struct {
	Response  []byte    // Serialized JSON response
	ExpireAt  time.Time // When this entry expires
	CreatedAt time.Time // When this entry was created
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.ExpireAt)
}

// FlashCache is a thread-safe in-memory Store.
type FlashCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	ttl     time.Duration
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once

	// Stats
	hits   int64
	misses int64
}

// FlashCacheOption is a functional option for configuring FlashCache.
type FlashCacheOption func(*FlashCache)

// WithCacheTTL sets a custom TTL for cache entries.
func WithCacheTTL(ttl time.Duration) FlashCacheOption {
	return func(c *FlashCache) {
		c.ttl = ttl
	}
}

// WithCacheLogger sets a custom logger.
func WithCacheLogger(logger *slog.Logger) FlashCacheOption {
	return func(c *FlashCache) {
		c.logger = logger
	}
}

// NewFlashCache creates a new FlashCache instance.
// It starts a background goroutine for TTL cleanup that runs until Close.
func NewFlashCache(opts ...FlashCacheOption) *FlashCache {
	c := &FlashCache{
		entries: make(map[string]*CacheEntry),
		ttl:     DefaultCacheTTL,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.startCleanup()

	return c
}

// HashRequest generates a SHA256 hash of the request body.
// This hash is used as the cache key.
func HashRequest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// Get retrieves a cached response by key.
func (c *FlashCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	// Check if expired
	if entry.IsExpired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	return entry.Response, true
}

// Set stores a response in the cache with the configured TTL.
func (c *FlashCache) Set(_ context.Context, key string, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &CacheEntry{
		Response:  response,
		ExpireAt:  now.Add(c.ttl),
		CreatedAt: now,
	}
}

// startCleanup periodically removes expired entries.
func (c *FlashCache) startCleanup() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// cleanup removes all expired entries from the cache.
func (c *FlashCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := 0

	for key, entry := range c.entries {
		if now.After(entry.ExpireAt) {
			delete(c.entries, key)
			expired++
		}
	}

	if expired > 0 && c.logger != nil {
		c.logger.Debug("cache cleanup",
			slog.Int("expired_entries", expired),
			slog.Int("remaining_entries", len(c.entries)),
		)
	}
}

// Stats returns cache hit/miss statistics.
func (c *FlashCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}

// Close stops the cleanup goroutine.
func (c *FlashCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// CacheMiddleware returns a Gin middleware that caches completion responses.
// Flow:
//  1. Hash the request body (SHA256)
//  2. Check cache: HIT → Return immediately with ⚡ CACHE HIT log
//  3. MISS → Continue to handler, cache the response
func CacheMiddleware(cache Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only cache POST requests to chat completions
		if c.Request.Method != http.MethodPost ||
			(c.Request.URL.Path != "/v1/chat/completions" && c.Request.URL.Path != "/chat/completions") {
			c.Next()
			return
		}

		// Read request body
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Next()
			return
		}

		// Restore body for downstream handlers
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if isStreamRequest(bodyBytes) {
			c.Next()
			return
		}

		// Generate cache key
		cacheKey := HashRequest(bodyBytes)

		// Check cache
		if cachedResponse, found := cache.Get(c.Request.Context(), cacheKey); found {
			start := time.Now()
			saved := SavedTokens(cachedResponse)
			total := RecordSavings(saved)
			latency := time.Since(start)

			if logger != nil {
				logger.Info("cache hit",
					slog.String("cache_key", cacheKey[:12]+"..."),
					slog.Duration("latency", latency),
					slog.Int("saved_tokens", saved),
				)
			}

			ui.PrintCacheHit(cacheKey, latency)
			ui.PrintTokensSaved(FormatTokens(int64(saved)), FormatTokens(total))

			// Set cache hit flag for logging middleware
			c.Set(ctxKeyCacheHit, true)

			c.Data(http.StatusOK, "application/json", cachedResponse)
			c.Abort()
			return
		}

		// CACHE MISS - capture the response
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = writer

		c.Next()

		// Only cache successful responses (200 OK)
		if c.Writer.Status() == http.StatusOK && writer.body.Len() > 0 {
			cache.Set(c.Request.Context(), cacheKey, writer.body.Bytes())

			if logger != nil {
				logger.Debug("response cached",
					slog.String("cache_key", cacheKey[:12]+"..."),
					slog.Int("size_bytes", writer.body.Len()),
				)
			}
		}
	}
}

// isStreamRequest reports whether the body asks for a streamed completion.
func isStreamRequest(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	return json.Unmarshal(body, &probe) == nil && probe.Stream
}

// responseWriter wraps gin.ResponseWriter to capture the response body.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write captures the response body while writing to the original writer.
func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
