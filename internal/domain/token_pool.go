package domain

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoTokensAvailable is returned when every token is benched or the pool is empty.
var ErrNoTokensAvailable = errors.New("no access tokens available in the pool")

// TokenPool hands out ERNIE access tokens round-robin.
// A token that keeps failing upstream is benched for a cooldown and then
// returns to rotation on its own.
type TokenPool struct {
	// tokens holds the tokens currently in rotation, in configuration order.
	tokens []string

	// benched maps a token to the moment it was taken out of rotation.
	benched map[string]time.Time

	// cursor is the atomic round-robin counter.
	cursor int64

	mu      sync.RWMutex
	benchMu sync.RWMutex

	// cooldown is how long a benched token stays out. Zero disables auto-revival.
	cooldown time.Duration

	// known is the initial token set; only these can be benched or revived.
	known map[string]struct{}
}

// NewTokenPool builds a pool from tokens, dropping blanks and duplicates.
func NewTokenPool(tokens []string, cooldown time.Duration) *TokenPool {
	p := &TokenPool{
		tokens:   make([]string, 0, len(tokens)),
		benched:  make(map[string]time.Time),
		cooldown: cooldown,
		known:    make(map[string]struct{}),
	}

	for _, token := range tokens {
		if token == "" {
			continue
		}
		if _, dup := p.known[token]; dup {
			continue
		}
		p.known[token] = struct{}{}
		p.tokens = append(p.tokens, token)
	}

	return p
}

// Next returns the next token in rotation. Safe for concurrent use.
func (p *TokenPool) Next() (string, error) {
	p.reviveExpired()

	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.tokens)
	if n == 0 {
		return "", ErrNoTokensAvailable
	}

	// AddInt64 returns the new value; step back one for the slot we claimed.
	idx := int((atomic.AddInt64(&p.cursor, 1) - 1) % int64(n))
	return p.tokens[idx], nil
}

// MarkAsDead benches token for the pool cooldown. Unknown tokens are ignored.
func (p *TokenPool) MarkAsDead(token string) {
	if _, ok := p.known[token]; !ok {
		return
	}

	p.benchMu.Lock()
	p.benched[token] = time.Now()
	p.benchMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := make([]string, 0, len(p.tokens))
	for _, t := range p.tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	p.tokens = kept
}

// Revive puts a benched token back into rotation.
func (p *TokenPool) Revive(token string) {
	if _, ok := p.known[token]; !ok {
		return
	}

	p.benchMu.Lock()
	_, wasBenched := p.benched[token]
	delete(p.benched, token)
	p.benchMu.Unlock()

	if !wasBenched {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.tokens {
		if t == token {
			return
		}
	}
	p.tokens = append(p.tokens, token)
}

func (p *TokenPool) reviveExpired() {
	if p.cooldown == 0 {
		return
	}

	now := time.Now()
	var due []string

	p.benchMu.RLock()
	for token, at := range p.benched {
		if now.Sub(at) >= p.cooldown {
			due = append(due, token)
		}
	}
	p.benchMu.RUnlock()

	for _, token := range due {
		p.Revive(token)
	}
}

// ActiveCount returns the number of tokens in rotation.
func (p *TokenPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}

// DeadCount returns the number of benched tokens.
func (p *TokenPool) DeadCount() int {
	p.benchMu.RLock()
	defer p.benchMu.RUnlock()
	return len(p.benched)
}

// TotalCount returns the number of tokens the pool manages.
func (p *TokenPool) TotalCount() int {
	return len(p.known)
}

// ActiveTokens returns a copy of the tokens in rotation.
func (p *TokenPool) ActiveTokens() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.tokens))
	copy(out, p.tokens)
	return out
}

// IsDead reports whether token is benched.
func (p *TokenPool) IsDead(token string) bool {
	p.benchMu.RLock()
	defer p.benchMu.RUnlock()
	_, ok := p.benched[token]
	return ok
}
