package engine

import (
	"testing"

	"lookout/internal/source"
	"lookout/internal/store"
)

func liveItem(id string) *source.Item {
	return &source.Item{ID: id, Live: true, Author: "streamer", URL: "https://example.test/s"}
}

func TestEvaluateLiveTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		st   store.SeenState
		item *source.Item
		want Decision
	}{
		{name: "offline stays offline", st: store.SeenState{}, item: nil, want: NoChange},
		{name: "goes live", st: store.SeenState{}, item: liveItem("b1"), want: WentLive},
		{name: "still live same broadcast", st: store.SeenState{Live: true, LastID: "b1", SeenIDs: []string{"b1"}}, item: liveItem("b1"), want: StillLive},
		{name: "goes offline", st: store.SeenState{Live: true, LastID: "b1", SeenIDs: []string{"b1"}}, item: nil, want: WentOffline},
		{name: "offline item while live", st: store.SeenState{Live: true, LastID: "b1"}, item: &source.Item{ID: "b1", Live: false}, want: WentOffline},
		{name: "restart with same id is not reannounced", st: store.SeenState{Live: false, LastID: "b1", SeenIDs: []string{"b1"}}, item: liveItem("b1"), want: NoChange},
		{name: "new broadcast id while live", st: store.SeenState{Live: true, LastID: "b1", SeenIDs: []string{"b1"}}, item: liveItem("b2"), want: WentLive},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(source.PlatformTwitch, tt.st, tt.item)
			if got != tt.want {
				t.Fatalf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateNewItems(t *testing.T) {
	t.Parallel()
	st := store.SeenState{SeenIDs: []string{"v1", "v2"}, LastID: "v2"}

	if got := Evaluate(source.PlatformYouTube, st, &source.Item{ID: "v3"}); got != NewItem {
		t.Fatalf("unseen id: Evaluate = %v, want NewItem", got)
	}
	if got := Evaluate(source.PlatformYouTube, st, &source.Item{ID: "v1"}); got != NoChange {
		t.Fatalf("seen id: Evaluate = %v, want NoChange", got)
	}
	if got := Evaluate(source.PlatformYouTube, st, nil); got != NoChange {
		t.Fatalf("nil item: Evaluate = %v, want NoChange", got)
	}
	if got := Evaluate(source.PlatformX, st, &source.Item{ID: ""}); got != NoChange {
		t.Fatalf("empty id: Evaluate = %v, want NoChange", got)
	}
}

// Evaluate is pure; applying the same inputs twice must agree.
func TestEvaluateIdempotent(t *testing.T) {
	t.Parallel()
	st := store.SeenState{Live: true, LastID: "b1", SeenIDs: []string{"b1"}}
	item := liveItem("b1")
	first := Evaluate(source.PlatformTwitch, st, item)
	second := Evaluate(source.PlatformTwitch, st, item)
	if first != second {
		t.Fatalf("decisions differ: %v then %v", first, second)
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	t.Parallel()
	var st store.SeenState

	// Tick 1: broadcast starts.
	if got := Evaluate(source.PlatformTwitch, st, liveItem("b1")); got != WentLive {
		t.Fatalf("tick 1 = %v, want WentLive", got)
	}
	st.Remember("b1")
	st.Live = true

	// Tick 2: still running.
	if got := Evaluate(source.PlatformTwitch, st, liveItem("b1")); got != StillLive {
		t.Fatalf("tick 2 = %v, want StillLive", got)
	}

	// Tick 3: broadcast ends.
	if got := Evaluate(source.PlatformTwitch, st, nil); got != WentOffline {
		t.Fatalf("tick 3 = %v, want WentOffline", got)
	}
	st.Live = false

	// Tick 4: still offline, nothing repeats.
	if got := Evaluate(source.PlatformTwitch, st, nil); got != NoChange {
		t.Fatalf("tick 4 = %v, want NoChange", got)
	}
}
