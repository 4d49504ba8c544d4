package source

import (
	"context"
	"fmt"
	"time"
)

// Platform identifies one upstream content source.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformX       Platform = "x"
)

// Kind classifies feed items where the platform distinguishes them
// (YouTube uploads vs shorts vs stream VODs). Live streams and posts use
// KindDefault.
type Kind string

const (
	KindDefault Kind = ""
	KindVideo   Kind = "video"
	KindShort   Kind = "short"
	KindStream  Kind = "stream"
)

// Item is the normalized observable state of one tracked entity.
//
// Upstream responses are messy; adapters fill what they can and leave the
// rest zero. ID is always an opaque string, never parsed as a number
// (upstream ids overflow int64 and are not guaranteed numeric).
type Item struct {
	ID          string
	URL         string
	Title       string
	Text        string
	Author      string // display name
	AuthorURL   string
	AvatarURL   string
	ImageURL    string
	VideoURL    string
	PublishedAt time.Time
	Kind        Kind

	// Live-stream fields.
	Live         bool
	Game         string
	Viewers      int
	ThumbnailURL string // already expanded from the upstream size template
}

// Adapter fetches the current observable state of one tracked entity.
//
// Latest returns (nil, nil) when there is nothing to report (stream
// offline, no post in window). Transport and HTTP failures are returned as
// *FetchError so the caller can distinguish "offline" from "broken".
type Adapter interface {
	Platform() Platform
	Latest(ctx context.Context, entityID string) (*Item, error)
}

// FetchError marks a failed upstream call for a single entity.
type FetchError struct {
	Platform Platform
	Entity   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %q: %v", e.Platform, e.Entity, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
