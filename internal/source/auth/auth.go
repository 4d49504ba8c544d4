// Package auth caches app-level OAuth tokens obtained via the
// client-credentials grant. Tokens live only in process memory and are
// refreshed lazily after expiry; a safety margin is subtracted from the
// upstream-reported lifetime so a token is never used right at its edge.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// expiryMargin is shaved off the reported TTL before caching. Tokens with a
// reported lifetime at or below the margin are still cached for the margin
// itself so a misbehaving auth server can't force a refresh per call.
const expiryMargin = 60 * time.Second

// CredentialError marks a failed token exchange. Pollers treat it as "skip
// this platform's whole tick" rather than a per-entity failure.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("credential exchange: %v", e.Err) }
func (e *CredentialError) Unwrap() error { return e.Err }

// Cache is a lazy client-credentials token cache for one platform.
// Safe for concurrent use, though in practice a single platform loop owns it.
type Cache struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpc        *http.Client

	now func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New builds a cache for the given token endpoint and app credentials.
func New(tokenURL, clientID, clientSecret string, httpc *http.Client) *Cache {
	if httpc == nil {
		httpc = &http.Client{Timeout: 20 * time.Second}
	}
	return &Cache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc:        httpc,
		now:          time.Now,
	}
}

// Token returns the cached token while it is still fresh, otherwise performs
// one exchange and caches the result. Returns *CredentialError on failure.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expiresAt) {
		return c.token, nil
	}

	if strings.TrimSpace(c.clientID) == "" || strings.TrimSpace(c.clientSecret) == "" {
		return "", &CredentialError{Err: errors.New("client id/secret missing")}
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &CredentialError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &CredentialError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &CredentialError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &CredentialError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if out.AccessToken == "" {
		return "", &CredentialError{Err: errors.New("empty access_token in response")}
	}

	ttl := time.Duration(out.ExpiresIn)*time.Second - expiryMargin
	if ttl < expiryMargin {
		ttl = expiryMargin
	}

	c.token = out.AccessToken
	c.expiresAt = now.Add(ttl)
	return c.token, nil
}

// Invalidate drops the cached token so the next Token() call re-exchanges.
// Used when the upstream API rejects a token before its reported expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
