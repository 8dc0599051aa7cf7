// Package handler provides HTTP handlers for the API router.
package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// TokensPerWord is the approximation ratio for space-separated scripts (1 word ≈ 1.3 tokens).
// Each Han, kana or Hangul character counts as one token on its own.
const TokensPerWord = 1.3

// UsageTracker accumulates token usage reported by the upstream and tokens
// saved by cache hits. It uses a global counter that persists across requests.
type UsageTracker struct {
	mu               sync.RWMutex
	requests         int64
	promptTokens     int64
	completionTokens int64
	cacheHits        int64
	savedTokens      int64
}

// UsageSnapshot is a point-in-time copy of the tracker counters.
type UsageSnapshot struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CacheHits        int64 `json:"cache_hits"`
	SavedTokens      int64 `json:"saved_tokens"`
}

// globalUsage is the singleton instance for tracking usage.
var globalUsage = &UsageTracker{}

// RecordUsage adds the usage of one served completion.
func RecordUsage(u domain.TokenUsage) UsageSnapshot {
	globalUsage.mu.Lock()
	defer globalUsage.mu.Unlock()

	globalUsage.requests++
	globalUsage.promptTokens += int64(u.PromptTokens)
	globalUsage.completionTokens += int64(u.CompletionTokens)
	return globalUsage.snapshotLocked()
}

// RecordSavings adds the tokens a cache hit avoided and returns the running total.
func RecordSavings(tokens int) int64 {
	globalUsage.mu.Lock()
	defer globalUsage.mu.Unlock()

	globalUsage.cacheHits++
	globalUsage.savedTokens += int64(tokens)
	return globalUsage.savedTokens
}

// GetUsage returns the current counters.
func GetUsage() UsageSnapshot {
	globalUsage.mu.RLock()
	defer globalUsage.mu.RUnlock()
	return globalUsage.snapshotLocked()
}

// ResetUsage resets all counters (useful for testing).
func ResetUsage() {
	globalUsage.mu.Lock()
	defer globalUsage.mu.Unlock()
	*globalUsage = UsageTracker{}
}

func (u *UsageTracker) snapshotLocked() UsageSnapshot {
	return UsageSnapshot{
		Requests:         u.requests,
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		CacheHits:        u.cacheHits,
		SavedTokens:      u.savedTokens,
	}
}

// EstimateTokens estimates the number of tokens in a text string.
// CJK characters count one each; runs of other letters and digits count as words.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	wordCount := 0
	inWord := false

	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if !inWord {
				wordCount++
				inWord = true
			}
		default:
			inWord = false
		}
	}

	// Apply the 1.3 multiplier to words
	tokens := cjk + int(float64(wordCount)*TokensPerWord)
	if tokens == 0 && wordCount > 0 {
		tokens = 1 // Minimum 1 token if there's any text
	}

	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// ExtractInputText concatenates all message contents for token counting.
func ExtractInputText(messages []openai.ChatCompletionMessage) string {
	var builder strings.Builder

	for _, msg := range messages {
		builder.WriteString(msg.Content)
		builder.WriteString(" ")
	}

	return builder.String()
}

// SavedTokens returns how many tokens a cached completion body represents.
// The recorded usage is preferred; otherwise the text is estimated.
func SavedTokens(cached []byte) int {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		return 0
	}

	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}

	total := 0
	for _, choice := range resp.Choices {
		total += EstimateTokens(choice.Message.Content)
	}
	return total
}

// FormatTokens formats a token count as a short human-readable string.
func FormatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
