package erniebot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// tokenExpiryMargin is subtracted from the reported lifetime of a fetched token.
const tokenExpiryMargin = time.Minute

type cachedToken struct {
	token    string
	expireAt time.Time
}

// tokenCache holds access tokens exchanged from qianfan ak/sk pairs, keyed by ak.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cachedToken)}
}

func (tc *tokenCache) get(ak string) (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	entry, ok := tc.entries[ak]
	if !ok || time.Now().After(entry.expireAt) {
		return "", false
	}
	return entry.token, true
}

func (tc *tokenCache) put(ak, token string, ttl time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.entries[ak] = cachedToken{token: token, expireAt: time.Now().Add(ttl)}
}

func (tc *tokenCache) invalidate(ak string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	delete(tc.entries, ak)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// accessToken resolves the token for one call. An explicit token always wins.
func (c *Client) accessToken(ctx context.Context, cfg Config) (string, error) {
	if cfg.AccessToken != "" {
		return cfg.AccessToken, nil
	}

	if cfg.APIType != APITypeQianfan {
		return "", ErrMissingAccessToken
	}
	if cfg.AK == "" || cfg.SK == "" {
		return "", ErrMissingCredentials
	}

	if token, ok := c.tokens.get(cfg.AK); ok {
		return token, nil
	}

	token, ttl, err := c.fetchToken(ctx, cfg.AK, cfg.SK)
	if err != nil {
		return "", err
	}
	c.tokens.put(cfg.AK, token, ttl)
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context, ak, sk string) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", ak)
	q.Set("client_secret", sk)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tr.Error != "" || tr.AccessToken == "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", 0, &APIError{StatusCode: resp.StatusCode, Code: CodeTokenInvalid, Message: "token exchange failed: " + msg}
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin
	if ttl <= 0 {
		ttl = tokenExpiryMargin
	}
	return tr.AccessToken, ttl, nil
}

// canRefresh reports whether a rejected token for cfg can be exchanged again.
func canRefresh(cfg Config) bool {
	return cfg.APIType == APITypeQianfan && cfg.AccessToken == "" && cfg.AK != "" && cfg.SK != ""
}
