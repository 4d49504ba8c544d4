// Package engine decides what a fetched item means for a subscription:
// nothing, a fresh notification, or a live-state transition.
package engine

import (
	"lookout/internal/source"
	"lookout/internal/store"
)

type Decision int

const (
	// NoChange means nothing to deliver and no state transition.
	NoChange Decision = iota
	// NewItem is a not-yet-seen upload or post.
	NewItem
	// WentLive is an offline-to-live transition or a brand new broadcast.
	WentLive
	// StillLive is an ongoing broadcast whose announcement should be
	// refreshed in place.
	StillLive
	// WentOffline ends a broadcast previously announced.
	WentOffline
)

func (d Decision) String() string {
	switch d {
	case NoChange:
		return "no_change"
	case NewItem:
		return "new_item"
	case WentLive:
		return "went_live"
	case StillLive:
		return "still_live"
	case WentOffline:
		return "went_offline"
	default:
		return "unknown"
	}
}

// Evaluate is pure: it never mutates the state. Callers apply the
// transition after delivery succeeds.
func Evaluate(p source.Platform, st store.SeenState, item *source.Item) Decision {
	if p == source.PlatformTwitch {
		return evaluateLive(st, item)
	}
	if item == nil || item.ID == "" {
		return NoChange
	}
	if st.Seen(item.ID) {
		return NoChange
	}
	return NewItem
}

func evaluateLive(st store.SeenState, item *source.Item) Decision {
	online := item != nil && item.Live
	switch {
	case !online && st.Live:
		return WentOffline
	case !online:
		return NoChange
	case !st.Live:
		// A restarting broadcast keeps its id; don't announce it twice.
		if st.Seen(item.ID) {
			return NoChange
		}
		return WentLive
	case item.ID != "" && item.ID != st.LastID && !st.Seen(item.ID):
		// New broadcast started before the old one was observed ending.
		return WentLive
	default:
		return StillLive
	}
}
