package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"lookout/internal/source"
)

// Default announcement lines per platform. Tenants override them per
// subscription.
const (
	DefaultTwitchTemplate  = "{streamer} is live! {url}"
	DefaultYouTubeTemplate = "{ytber} posted a new video: {url}"
	DefaultShortTemplate   = "{ytber} posted a new short: {url}"
	DefaultStreamTemplate  = "{ytber} is streaming: {url}"
	DefaultXTemplate       = "{xuser} posted: {url}"
	DefaultOfflineTemplate = "{streamer} has finished streaming."
)

// invisible joiner used to anchor a link preview without visible text.
const zeroWidth = "‍"

func defaultTemplate(p source.Platform, kind source.Kind) string {
	switch p {
	case source.PlatformTwitch:
		return DefaultTwitchTemplate
	case source.PlatformYouTube:
		switch kind {
		case source.KindShort:
			return DefaultShortTemplate
		case source.KindStream:
			return DefaultStreamTemplate
		default:
			return DefaultYouTubeTemplate
		}
	case source.PlatformX:
		return DefaultXTemplate
	}
	return "{entity}: {url}"
}

// renderTemplate substitutes the subscription placeholders. The author
// aliases all map to the same value so a template written for one
// platform keeps working on another.
func renderTemplate(tmpl, author, url string) string {
	r := strings.NewReplacer(
		"{streamer}", author,
		"{ytber}", author,
		"{xuser}", author,
		"{entity}", author,
		"{url}", url,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

// bustCache appends a timestamp query so chat clients refetch a
// thumbnail that keeps its URL across a broadcast.
func bustCache(rawURL string, at time.Time) string {
	if rawURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sts=%d", rawURL, sep, at.Unix())
}

// renderLive builds the HTML body for a live announcement. The preview
// anchor is hidden text pointing at the thumbnail so the chat client
// shows the stream image instead of the channel page.
func renderLive(tmpl string, item *source.Item, at time.Time) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(renderTemplate(tmpl, item.Author, item.URL)))
	b.WriteString("</b>")
	if item.Title != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(item.Title))
	}
	if item.Game != "" {
		b.WriteString("\nPlaying: ")
		b.WriteString(html.EscapeString(item.Game))
	}
	if item.Viewers > 0 {
		fmt.Fprintf(&b, "\nViewers: %d", item.Viewers)
	}
	b.WriteString("\n")
	b.WriteString(item.URL)
	if thumb := bustCache(item.ThumbnailURL, at); thumb != "" {
		b.WriteString(`<a href="` + thumb + `">` + zeroWidth + `</a>`)
	}
	return b.String()
}

// renderItem builds the HTML body for an upload or post announcement.
// The item URL stays visible so the client previews it directly.
func renderItem(tmpl string, item *source.Item) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(renderTemplate(tmpl, item.Author, item.URL)))
	b.WriteString("</b>")
	if item.Title != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(item.Title))
	}
	if item.Text != "" {
		text := item.Text
		if len([]rune(text)) > 500 {
			text = string([]rune(text)[:500]) + "…"
		}
		b.WriteString("\n")
		b.WriteString(html.EscapeString(text))
	}
	b.WriteString("\n")
	b.WriteString(item.URL)
	if media := firstNonEmpty(item.VideoURL, item.ImageURL); media != "" && media != item.URL {
		b.WriteString(`<a href="` + media + `">` + zeroWidth + `</a>`)
	}
	return b.String()
}

// renderOffline rewrites a live announcement after the broadcast ends.
func renderOffline(tmpl, author, lastTitle string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(renderTemplate(tmpl, author, "")))
	b.WriteString("</b>")
	if lastTitle != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(lastTitle))
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
