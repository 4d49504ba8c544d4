package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"lookout/internal/source"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "lookout.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	sub := Subscription{
		Tenant:   "guild-1",
		Platform: source.PlatformTwitch,
		Entity:   "somestreamer",
		Display:  "SomeStreamer",
		Chat:     transport.ChatTarget{ChatID: -100123, ThreadID: 7},
		Template: "{streamer} is live! {url}",
	}
	if err := st.Put(ctx, sub); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := st.ListPlatform(ctx, source.PlatformTwitch)
	if err != nil {
		t.Fatalf("ListPlatform: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Entity != sub.Entity || got[0].Chat != sub.Chat || got[0].Template != sub.Template {
		t.Fatalf("round trip mismatch: %+v", got[0])
	}
	if got[0].Created.IsZero() {
		t.Fatal("Created not set")
	}

	// Upsert keeps the key, replaces the payload.
	sub.Template = "{streamer} went live {url}"
	if err := st.Put(ctx, sub); err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	got, _ = st.ListPlatform(ctx, source.PlatformTwitch)
	if len(got) != 1 || got[0].Template != sub.Template {
		t.Fatalf("upsert: got %+v", got)
	}
}

func TestRemoveClearsState(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	sub := Subscription{
		Tenant:   "guild-1",
		Platform: source.PlatformYouTube,
		Entity:   "UCabc",
		Chat:     transport.ChatTarget{ChatID: 42},
	}
	if err := st.Put(ctx, sub); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.SaveState(ctx, sub.Key(), SeenState{LastID: "v1", SeenIDs: []string{"v1"}}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	if err := st.Remove(ctx, sub.Key()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := st.Remove(ctx, sub.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove = %v, want ErrNotFound", err)
	}

	state, err := st.State(ctx, sub.Key())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.LastID != "" || len(state.SeenIDs) != 0 {
		t.Fatalf("state survived removal: %+v", state)
	}
}

func TestSetTemplateAndTarget(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	key := Key{Tenant: "guild-1", Platform: source.PlatformX, Entity: "someuser"}
	if err := st.SetTemplate(ctx, key, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetTemplate on missing = %v, want ErrNotFound", err)
	}

	sub := Subscription{Tenant: key.Tenant, Platform: key.Platform, Entity: key.Entity,
		Chat: transport.ChatTarget{ChatID: 1}}
	if err := st.Put(ctx, sub); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := st.SetTemplate(ctx, key, "{xuser} posted {url}"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	if err := st.SetTarget(ctx, key, transport.ChatTarget{ChatID: 2, ThreadID: 3}); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	got, _ := st.ListTenant(ctx, "guild-1")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Template != "{xuser} posted {url}" {
		t.Fatalf("template = %q", got[0].Template)
	}
	if got[0].Chat != (transport.ChatTarget{ChatID: 2, ThreadID: 3}) {
		t.Fatalf("chat = %+v", got[0].Chat)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	key := Key{Tenant: "guild-1", Platform: source.PlatformTwitch, Entity: "somestreamer"}
	in := SeenState{
		LastID:    "b2",
		SeenIDs:   []string{"b1", "b2"},
		Live:      true,
		Message:   transport.MessageRef{ChatID: -100123, MessageID: 55},
		AvatarURL: "https://example.test/avatar.png",
	}
	if err := st.SaveState(ctx, key, in); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	out, err := st.State(ctx, key)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if out.LastID != in.LastID || !out.Live || out.Message != in.Message || out.AvatarURL != in.AvatarURL {
		t.Fatalf("state mismatch: %+v", out)
	}
	if len(out.SeenIDs) != 2 || out.SeenIDs[1] != "b2" {
		t.Fatalf("seen ids = %v", out.SeenIDs)
	}
	if out.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not set")
	}
}

func TestRememberEvictsOldest(t *testing.T) {
	t.Parallel()
	var st SeenState
	for i := 0; i < SeenIDCap+50; i++ {
		st.Remember(fmt.Sprintf("id-%d", i))
	}
	if len(st.SeenIDs) != SeenIDCap {
		t.Fatalf("len = %d, want %d", len(st.SeenIDs), SeenIDCap)
	}
	if st.Seen("id-0") {
		t.Fatal("oldest id should have been evicted")
	}
	newest := fmt.Sprintf("id-%d", SeenIDCap+49)
	if !st.Seen(newest) || st.LastID != newest {
		t.Fatalf("newest id missing: last=%q", st.LastID)
	}

	// Re-remembering a known id must not grow the window.
	st.Remember(newest)
	if len(st.SeenIDs) != SeenIDCap {
		t.Fatalf("len after duplicate = %d, want %d", len(st.SeenIDs), SeenIDCap)
	}
}
