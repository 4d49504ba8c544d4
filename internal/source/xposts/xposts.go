// Package xposts watches accounts on the short-post platform through a
// third-party search gateway. The gateway's response shape has drifted
// repeatedly; extract.go carries the normalization for every variant seen
// in production.
package xposts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"lookout/internal/source"
)

const DefaultBaseURL = "https://api.twitterapi.io"

// defaultLookback bounds the search window for a handle we have never
// polled before, so a fresh subscription doesn't replay old posts.
const defaultLookback = time.Hour

var handleRe = regexp.MustCompile(`(?i)(?:x\.com|twitter\.com)/([A-Za-z0-9_]{1,15})`)

type Config struct {
	BaseURL string // default DefaultBaseURL
	APIKey  string
	Timeout time.Duration // 0 means 30s
}

type Adapter struct {
	cfg   Config
	httpc *http.Client
	now   func() time.Time

	// lastChecked advances only after a successful fetch so a failed tick
	// re-covers the same window on the next one.
	mu          sync.Mutex
	lastChecked map[string]time.Time
}

func New(cfg Config) *Adapter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		cfg:         cfg,
		httpc:       &http.Client{Timeout: timeout},
		now:         time.Now,
		lastChecked: map[string]time.Time{},
	}
}

func (a *Adapter) Platform() source.Platform { return source.PlatformX }

// NormalizeHandle turns "@Name", profile URLs, and mixed case into the
// canonical lowercase handle. Returns "" for unusable input.
func NormalizeHandle(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if m := handleRe.FindStringSubmatch(s); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(strings.TrimPrefix(s, "@"))
}

// Latest reports the newest post by the handle inside the since/until
// window, or (nil, nil) when the window is empty.
func (a *Adapter) Latest(ctx context.Context, entityID string) (*source.Item, error) {
	handle := NormalizeHandle(entityID)
	if handle == "" {
		return nil, &source.FetchError{Platform: source.PlatformX, Entity: entityID, Err: fmt.Errorf("empty handle")}
	}
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return nil, &source.FetchError{Platform: source.PlatformX, Entity: handle, Err: fmt.Errorf("api key missing")}
	}

	until := a.now().UTC()
	a.mu.Lock()
	since, ok := a.lastChecked[handle]
	a.mu.Unlock()
	if !ok {
		since = until.Add(-defaultLookback)
	}
	// Guard against clock skew producing an inverted window.
	if !since.Before(until) {
		since = until.Add(-5 * time.Second)
	}

	payload, err := a.search(ctx, handle, since, until)
	if err != nil {
		return nil, &source.FetchError{Platform: source.PlatformX, Entity: handle, Err: err}
	}

	a.mu.Lock()
	a.lastChecked[handle] = until
	a.mu.Unlock()

	tweets := extractTweets(payload)
	if len(tweets) == 0 {
		return nil, nil
	}
	return normalizeTweet(tweets[0], handle), nil
}

func (a *Adapter) search(ctx context.Context, handle string, since, until time.Time) (any, error) {
	query := fmt.Sprintf("from:%s since:%s until:%s include:nativeretweets",
		handle, searchTime(since), searchTime(until))

	q := url.Values{"query": {query}, "queryType": {"Latest"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.BaseURL+"/twitter/tweet/advanced_search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", a.cfg.APIKey)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advanced_search: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload, nil
}

func searchTime(t time.Time) string {
	return t.UTC().Format("2006-01-02_15:04:05_UTC")
}
