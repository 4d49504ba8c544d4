// Package youtube watches channel uploads through the Data API v3.
//
// Resolving "latest upload" takes three calls: channel -> uploads playlist
// id (cached per process), playlist -> newest video id, then the videos
// endpoint to classify the item (plain upload, short, or stream VOD) and
// pick up the channel title.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"lookout/internal/source"
)

const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// shortMaxDuration: uploads at or under this runtime are classified as shorts.
const shortMaxDuration = 60 * time.Second

var durationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

type Config struct {
	BaseURL string // default DefaultBaseURL
	APIKey  string
	Timeout time.Duration // 0 means 15s
}

type Adapter struct {
	cfg   Config
	httpc *http.Client

	// uploads playlist ids never change for a channel; cache them for the
	// process lifetime to save one API call per tick.
	mu        sync.Mutex
	playlists map[string]string
}

func New(cfg Config) *Adapter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: timeout},
		playlists: map[string]string{},
	}
}

func (a *Adapter) Platform() source.Platform { return source.PlatformYouTube }

// Latest reports the channel's most recent upload, or (nil, nil) when the
// channel has no resolvable uploads.
func (a *Adapter) Latest(ctx context.Context, entityID string) (*source.Item, error) {
	channelID := strings.TrimSpace(entityID)
	if channelID == "" {
		return nil, &source.FetchError{Platform: source.PlatformYouTube, Entity: entityID, Err: fmt.Errorf("empty channel id")}
	}

	playlistID, err := a.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, &source.FetchError{Platform: source.PlatformYouTube, Entity: channelID, Err: err}
	}
	if playlistID == "" {
		return nil, nil
	}

	videoID, publishedAt, err := a.latestVideoID(ctx, playlistID)
	if err != nil {
		return nil, &source.FetchError{Platform: source.PlatformYouTube, Entity: channelID, Err: err}
	}
	if videoID == "" {
		return nil, nil
	}

	kind, title, channelTitle, err := a.videoMeta(ctx, videoID)
	if err != nil {
		return nil, &source.FetchError{Platform: source.PlatformYouTube, Entity: channelID, Err: err}
	}

	item := &source.Item{
		ID:          videoID,
		URL:         videoURL(videoID, kind),
		Title:       title,
		Author:      channelTitle,
		Kind:        kind,
		PublishedAt: publishedAt,
	}
	return item, nil
}

func videoURL(id string, kind source.Kind) string {
	if kind == source.KindShort {
		return "https://www.youtube.com/shorts/" + id
	}
	return "https://youtu.be/" + id
}

func (a *Adapter) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	a.mu.Lock()
	cached := a.playlists[channelID]
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var out struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	err := a.get(ctx, "/channels", url.Values{
		"part":       {"contentDetails"},
		"id":         {channelID},
		"maxResults": {"1"},
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 {
		return "", nil
	}

	uploads := out.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads != "" {
		a.mu.Lock()
		a.playlists[channelID] = uploads
		a.mu.Unlock()
	}
	return uploads, nil
}

func (a *Adapter) latestVideoID(ctx context.Context, playlistID string) (string, time.Time, error) {
	var out struct {
		Items []struct {
			Snippet struct {
				PublishedAt string `json:"publishedAt"`
				ResourceID  struct {
					VideoID string `json:"videoId"`
				} `json:"resourceId"`
			} `json:"snippet"`
		} `json:"items"`
	}
	err := a.get(ctx, "/playlistItems", url.Values{
		"part":       {"snippet"},
		"playlistId": {playlistID},
		"maxResults": {"1"},
	}, &out)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(out.Items) == 0 {
		return "", time.Time{}, nil
	}

	sn := out.Items[0].Snippet
	var published time.Time
	if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		published = t
	}
	return sn.ResourceID.VideoID, published, nil
}

func (a *Adapter) videoMeta(ctx context.Context, videoID string) (source.Kind, string, string, error) {
	var out struct {
		Items []struct {
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
			LiveStreamingDetails *struct{} `json:"liveStreamingDetails"`
		} `json:"items"`
	}
	err := a.get(ctx, "/videos", url.Values{
		"part":       {"snippet,contentDetails,liveStreamingDetails"},
		"id":         {videoID},
		"maxResults": {"1"},
	}, &out)
	if err != nil {
		return source.KindVideo, "", "", err
	}
	if len(out.Items) == 0 {
		return source.KindVideo, "", "", nil
	}

	it := out.Items[0]
	kind := source.KindVideo
	switch {
	case it.LiveStreamingDetails != nil:
		kind = source.KindStream
	case isShortDuration(it.ContentDetails.Duration):
		kind = source.KindShort
	}
	return kind, it.Snippet.Title, it.Snippet.ChannelTitle, nil
}

// isShortDuration parses an ISO-8601 duration like PT1M3S and reports
// whether the runtime qualifies as a short. Unparseable durations don't.
func isShortDuration(raw string) bool {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return false
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	seconds, _ := strconv.Atoi(zeroIfEmpty(m[3]))
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	return d > 0 && d <= shortMaxDuration
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (a *Adapter) get(ctx context.Context, path string, q url.Values, dst any) error {
	q.Set("key", a.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("youtube %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
