package xposts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"lookout/internal/source"
)

var (
	statusIDRe = regexp.MustCompile(`/status/(\d+)`)
	tcoRe      = regexp.MustCompile(`\s*https://t\.co/\S+`)
)

// extractTweets pulls the list of tweet objects out of whatever envelope
// the gateway wrapped them in. Known shapes, newest first:
//
//	{"tweets": [...]}
//	{"data": [...]}
//	{"result": {"tweets": [...]}}
//	{"timeline": {"tweets": [...]}}
//	[...] at the top level
//
// Individual entries are sometimes wrapped a second time as {"tweet": {...}}.
func extractTweets(payload any) []map[string]any {
	var raw []any
	switch v := payload.(type) {
	case []any:
		raw = v
	case map[string]any:
		for _, key := range []string{"tweets", "data"} {
			if list, ok := v[key].([]any); ok {
				raw = list
				break
			}
		}
		if raw == nil {
			for _, key := range []string{"result", "timeline"} {
				if inner, ok := v[key].(map[string]any); ok {
					if list, ok := inner["tweets"].([]any); ok {
						raw = list
						break
					}
				}
			}
		}
		if raw == nil {
			// Last resort: the envelope itself may be a single tweet.
			if looksLikeTweet(v) {
				raw = []any{v}
			}
		}
	}

	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if wrapped, ok := m["tweet"].(map[string]any); ok {
			m = wrapped
		}
		if looksLikeTweet(m) {
			out = append(out, m)
		}
	}
	return out
}

func looksLikeTweet(m map[string]any) bool {
	for _, key := range []string{"id", "tweetId", "rest_id", "id_str"} {
		if s := str(m[key]); s != "" {
			return true
		}
	}
	// Some variants omit the id but keep a permalink it can be recovered from.
	return statusIDRe.MatchString(str(m["url"])) || statusIDRe.MatchString(str(m["twitterUrl"]))
}

func normalizeTweet(m map[string]any, handle string) *source.Item {
	id := firstStr(m, "id", "tweetId", "rest_id", "id_str")
	link := firstStr(m, "url", "twitterUrl", "permanentUrl")
	if id == "" {
		if sub := statusIDRe.FindStringSubmatch(link); sub != nil {
			id = sub[1]
		}
	}

	author, ok := m["author"].(map[string]any)
	if !ok {
		author, _ = m["user"].(map[string]any)
	}
	screen := handle
	if author != nil {
		if s := firstStr(author, "userName", "username", "screen_name"); s != "" {
			screen = strings.ToLower(s)
		}
	}
	if link == "" && id != "" {
		link = fmt.Sprintf("https://x.com/%s/status/%s", screen, id)
	}

	item := &source.Item{
		ID:        id,
		URL:       link,
		Text:      cleanText(firstStr(m, "text", "fullText", "full_text")),
		Author:    screen,
		AuthorURL: "https://x.com/" + screen,
	}
	if author != nil {
		if name := firstStr(author, "name", "displayName"); name != "" {
			item.Author = name
		}
		item.AvatarURL = firstStr(author, "profilePicture", "profile_image_url_https", "profile_image_url")
	}
	item.ImageURL, item.VideoURL = extractMedia(m)
	if ts := firstStr(m, "createdAt", "created_at"); ts != "" {
		item.PublishedAt = parseCreatedAt(ts)
	}
	return item
}

// extractMedia returns the first photo URL and the highest-bitrate mp4
// rendition found among the tweet's media entries.
func extractMedia(m map[string]any) (image, video string) {
	var entries []any
	if ext, ok := m["extendedEntities"].(map[string]any); ok {
		entries, _ = ext["media"].([]any)
	}
	if entries == nil {
		if ext, ok := m["extended_entities"].(map[string]any); ok {
			entries, _ = ext["media"].([]any)
		}
	}
	if entries == nil {
		entries, _ = m["media"].([]any)
	}
	if entries == nil {
		if photos, ok := m["photos"].([]any); ok {
			entries = photos
		}
	}

	for _, entry := range entries {
		media, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		kind := str(media["type"])
		switch kind {
		case "video", "animated_gif":
			if video == "" {
				video = bestVariant(media)
			}
		default:
			if image == "" {
				image = firstStr(media, "media_url_https", "url", "mediaUrl")
			}
		}
	}
	if video == "" {
		video = str(m["videoUrl"])
	}
	return image, video
}

func bestVariant(media map[string]any) string {
	info, ok := media["video_info"].(map[string]any)
	if !ok {
		info, ok = media["videoInfo"].(map[string]any)
	}
	if !ok {
		return str(media["videoUrl"])
	}
	variants, _ := info["variants"].([]any)

	type rendition struct {
		url     string
		bitrate float64
	}
	var mp4s []rendition
	for _, v := range variants {
		vm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		ct := firstStr(vm, "content_type", "contentType")
		if ct != "" && ct != "video/mp4" {
			continue
		}
		u := str(vm["url"])
		if u == "" || !strings.Contains(u, ".mp4") {
			continue
		}
		br, _ := vm["bitrate"].(float64)
		mp4s = append(mp4s, rendition{url: u, bitrate: br})
	}
	if len(mp4s) == 0 {
		return ""
	}
	sort.Slice(mp4s, func(i, j int) bool { return mp4s[i].bitrate > mp4s[j].bitrate })
	return mp4s[0].url
}

// cleanText drops the trailing shortened self-links the platform appends
// to post text.
func cleanText(s string) string {
	return strings.TrimSpace(tcoRe.ReplaceAllString(s, ""))
}

func parseCreatedAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "Mon Jan 02 15:04:05 -0700 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return fmt.Sprintf("%.0f", s)
	}
	return ""
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m[k]); s != "" {
			return s
		}
	}
	return ""
}
