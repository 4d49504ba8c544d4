// Package twitch watches live streams through the Helix API using an
// app-level token from the auth cache.
package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lookout/internal/source"
	"lookout/internal/source/auth"
)

const (
	DefaultBaseURL = "https://api.twitch.tv/helix"
	TokenURL       = "https://id.twitch.tv/oauth2/token"
)

type Config struct {
	BaseURL  string // default DefaultBaseURL
	ClientID string
	// Timeout bounds each HTTP call. 0 means 15s.
	Timeout time.Duration
}

type Adapter struct {
	cfg    Config
	tokens *auth.Cache
	httpc  *http.Client
}

func New(cfg Config, tokens *auth.Cache) *Adapter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		tokens: tokens,
		httpc:  &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Platform() source.Platform { return source.PlatformTwitch }

// streamRow mirrors the subset of GET /streams we consume.
type streamRow struct {
	ID           string `json:"id"`
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	GameName     string `json:"game_name"`
	ViewerCount  int    `json:"viewer_count"`
	ThumbnailURL string `json:"thumbnail_url"`
	StartedAt    string `json:"started_at"`
}

type userRow struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Latest reports the entity's current live session, or (nil, nil) when the
// broadcaster is offline. The avatar lookup is best-effort: a failed users
// call degrades to an empty avatar instead of failing the poll.
func (a *Adapter) Latest(ctx context.Context, entityID string) (*source.Item, error) {
	login := strings.ToLower(strings.TrimSpace(entityID))
	if login == "" {
		return nil, &source.FetchError{Platform: source.PlatformTwitch, Entity: entityID, Err: fmt.Errorf("empty login")}
	}

	var out struct {
		Data []streamRow `json:"data"`
	}
	if err := a.get(ctx, "/streams", url.Values{"user_login": {login}}, &out); err != nil {
		return nil, &source.FetchError{Platform: source.PlatformTwitch, Entity: login, Err: err}
	}

	if len(out.Data) == 0 || out.Data[0].Type != "live" {
		return nil, nil
	}
	s := out.Data[0]

	item := &source.Item{
		ID:           s.ID,
		URL:          "https://www.twitch.tv/" + firstNonEmpty(s.UserLogin, login),
		Title:        firstNonEmpty(strings.TrimSpace(s.Title), "Twitch Live"),
		Author:       firstNonEmpty(s.UserName, login),
		AuthorURL:    "https://www.twitch.tv/" + firstNonEmpty(s.UserLogin, login),
		Live:         true,
		Game:         s.GameName,
		Viewers:      s.ViewerCount,
		ThumbnailURL: expandThumbnail(s.ThumbnailURL),
	}
	if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
		item.PublishedAt = t
	}

	if u, err := a.user(ctx, login); err == nil && u != nil {
		item.AvatarURL = u.ProfileImageURL
		if u.DisplayName != "" {
			item.Author = u.DisplayName
		}
	}

	return item, nil
}

// ResolveUser verifies that a login exists; used by the management surface
// when a subscription is added. Returns (nil, nil) for an unknown login.
func (a *Adapter) ResolveUser(ctx context.Context, login string) (*source.Item, error) {
	u, err := a.user(ctx, strings.ToLower(strings.TrimSpace(login)))
	if err != nil {
		return nil, &source.FetchError{Platform: source.PlatformTwitch, Entity: login, Err: err}
	}
	if u == nil {
		return nil, nil
	}
	return &source.Item{
		ID:        u.ID,
		URL:       "https://www.twitch.tv/" + u.Login,
		Author:    firstNonEmpty(u.DisplayName, u.Login),
		AuthorURL: "https://www.twitch.tv/" + u.Login,
		AvatarURL: u.ProfileImageURL,
	}, nil
}

func (a *Adapter) user(ctx context.Context, login string) (*userRow, error) {
	var out struct {
		Data []userRow `json:"data"`
	}
	if err := a.get(ctx, "/users", url.Values{"login": {login}}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return &out.Data[0], nil
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, dst any) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-ID", a.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token rejected before its reported expiry; next tick re-exchanges.
		a.tokens.Invalidate()
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}

// expandThumbnail fills Helix's size template and leaves the cache-busting
// token to the dispatcher (it changes per render, not per fetch).
func expandThumbnail(tmpl string) string {
	s := strings.TrimSpace(tmpl)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "{width}x{height}", "1920x1080")
	s = strings.ReplaceAll(s, "{width}", "1920")
	s = strings.ReplaceAll(s, "{height}", "1080")
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
