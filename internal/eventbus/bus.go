// Package eventbus carries in-memory signals between the poll pipeline
// and observers (operational logging, tests).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// TypeNotified fires after a notification is delivered.
	TypeNotified = "notified"
	// TypeSweepDone fires after a platform sweep finishes.
	TypeSweepDone = "sweep_done"
	// TypeFetchError fires when an upstream fetch fails.
	TypeFetchError = "fetch_error"
	// TypeConfigReloaded fires after a config hot reload is applied.
	TypeConfigReloaded = "config_reloaded"
)

// Event describes one occurrence in the pipeline.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers drop events rather than stall publishers.
type Event struct {
	Type     string
	Time     time.Time
	Platform string
	Tenant   string
	Entity   string
	// Detail is event-specific: the decision for TypeNotified, the
	// error text for TypeFetchError.
	Detail string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus with no background
// goroutines of its own.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. A concurrent unsubscribe may close the
		// channel; recover from the send panic in that window.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
