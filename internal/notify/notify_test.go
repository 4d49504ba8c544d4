package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"lookout/internal/source"
	"lookout/internal/store"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

type fakeTransport struct {
	sent    []transport.Message
	sentTo  []transport.ChatTarget
	edited  []transport.MessageRef
	nextID  int
	editErr error
}

func (f *fakeTransport) Send(_ context.Context, to transport.ChatTarget, msg transport.Message) (transport.MessageRef, error) {
	f.sent = append(f.sent, msg)
	f.sentTo = append(f.sentTo, to)
	f.nextID++
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) Edit(_ context.Context, ref transport.MessageRef, msg transport.Message) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, ref)
	return nil
}

func testSub(tmpl string) store.Subscription {
	return store.Subscription{
		Tenant:   "guild-1",
		Platform: source.PlatformTwitch,
		Entity:   "somestreamer",
		Display:  "SomeStreamer",
		Chat:     transport.ChatTarget{ChatID: 42, ThreadID: 3},
		Template: tmpl,
	}
}

func TestItemUsesCustomTemplate(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	d := New(tr, Config{}, logx.Nop())

	sub := testSub("{xuser} dropped something: {url}")
	sub.Platform = source.PlatformX
	item := &source.Item{ID: "1", Author: "Some User", URL: "https://x.com/someuser/status/1", Text: "hello"}

	ref, err := d.Item(context.Background(), sub, item)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if ref.IsZero() {
		t.Fatal("ref is zero")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}
	text := tr.sent[0].Text
	if !strings.Contains(text, "Some User dropped something: https://x.com/someuser/status/1") {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(text, "hello") {
		t.Fatalf("text = %q, want post body", text)
	}
	if tr.sentTo[0] != sub.Chat {
		t.Fatalf("sent to %+v", tr.sentTo[0])
	}
}

func TestItemDefaultTemplatesPerKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind source.Kind
		want string
	}{
		{source.KindVideo, "posted a new video"},
		{source.KindShort, "posted a new short"},
		{source.KindStream, "is streaming"},
	}
	for _, tt := range tests {
		tr := &fakeTransport{}
		d := New(tr, Config{}, logx.Nop())
		sub := testSub("")
		sub.Platform = source.PlatformYouTube
		item := &source.Item{ID: "v1", Author: "SomeChannel", URL: "https://youtu.be/v1", Kind: tt.kind}
		if _, err := d.Item(context.Background(), sub, item); err != nil {
			t.Fatalf("Item(%q): %v", tt.kind, err)
		}
		if !strings.Contains(tr.sent[0].Text, tt.want) {
			t.Errorf("kind %q: text = %q, want %q", tt.kind, tr.sent[0].Text, tt.want)
		}
	}
}

func TestLiveRenderIncludesBustedThumbnail(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	d := New(tr, Config{}, logx.Nop())
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	item := &source.Item{
		ID: "b1", Author: "SomeStreamer", URL: "https://www.twitch.tv/somestreamer",
		Title: "speedrun <sunday>", Game: "Celeste", Viewers: 12, Live: true,
		ThumbnailURL: "https://static.example.test/thumb.jpg",
	}
	if _, err := d.Live(context.Background(), testSub(""), item); err != nil {
		t.Fatalf("Live: %v", err)
	}
	text := tr.sent[0].Text
	if !strings.Contains(text, "SomeStreamer is live!") {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(text, "speedrun &lt;sunday&gt;") {
		t.Fatalf("text = %q, want escaped title", text)
	}
	if !strings.Contains(text, fmt.Sprintf("thumb.jpg?ts=%d", at.Unix())) {
		t.Fatalf("text = %q, want cache-busted thumbnail", text)
	}
}

func TestRefreshFallsBackToSend(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{editErr: transport.ErrMessageGone}
	d := New(tr, Config{}, logx.Nop())

	old := transport.MessageRef{ChatID: 42, MessageID: 7}
	item := &source.Item{ID: "b1", Author: "SomeStreamer", URL: "https://www.twitch.tv/somestreamer", Live: true}
	ref, err := d.Refresh(context.Background(), testSub(""), old, item)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if ref == old {
		t.Fatal("expected a replacement message ref")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1 replacement", len(tr.sent))
	}
}

func TestRefreshPropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("network down")
	tr := &fakeTransport{editErr: sentinel}
	d := New(tr, Config{}, logx.Nop())

	old := transport.MessageRef{ChatID: 42, MessageID: 7}
	item := &source.Item{ID: "b1", Author: "S", URL: "u", Live: true}
	ref, err := d.Refresh(context.Background(), testSub(""), old, item)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if ref != old {
		t.Fatalf("ref = %+v, want unchanged", ref)
	}
	if len(tr.sent) != 0 {
		t.Fatal("must not send on non-gone errors")
	}
}

func TestOfflineToleratesGoneMessage(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{editErr: transport.ErrMessageGone}
	d := New(tr, Config{}, logx.Nop())

	err := d.Offline(context.Background(), testSub(""), transport.MessageRef{ChatID: 42, MessageID: 7}, "final title")
	if err != nil {
		t.Fatalf("Offline: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatal("offline must not send replacements")
	}
}

func TestOfflineSkipsZeroRef(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	d := New(tr, Config{}, logx.Nop())
	if err := d.Offline(context.Background(), testSub(""), transport.MessageRef{}, ""); err != nil {
		t.Fatalf("Offline: %v", err)
	}
	if len(tr.edited) != 0 || len(tr.sent) != 0 {
		t.Fatal("nothing should be delivered for a zero ref")
	}
}

func TestRenderTemplateAliases(t *testing.T) {
	t.Parallel()
	got := renderTemplate("{streamer}/{ytber}/{xuser}/{entity} -> {url}", "Name", "https://u")
	if got != "Name/Name/Name/Name -> https://u" {
		t.Fatalf("got %q", got)
	}
}
