// Package poller drives the per-platform fetch sweeps. Each platform
// runs on its own cron cadence; a sweep fetches every watched entity
// once, evaluates each subscription against its stored state, and
// persists transitions as they are delivered.
package poller

import (
	"context"
	"errors"
	"time"

	"lookout/internal/engine"
	"lookout/internal/eventbus"
	"lookout/internal/notify"
	"lookout/internal/source"
	"lookout/internal/source/auth"
	"lookout/internal/store"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

type Runner struct {
	platform source.Platform
	adapter  source.Adapter
	store    *store.Store
	dispatch *notify.Dispatcher
	bus      eventbus.Bus
	log      logx.Logger

	// gate serializes sweeps; a tick that finds it busy is skipped
	// rather than queued.
	gate chan struct{}
}

func NewRunner(adapter source.Adapter, st *store.Store, dispatch *notify.Dispatcher, bus eventbus.Bus, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		platform: adapter.Platform(),
		adapter:  adapter,
		store:    st,
		dispatch: dispatch,
		bus:      bus,
		log:      log.With(logx.String("platform", string(adapter.Platform()))),
		gate:     make(chan struct{}, 1),
	}
}

func (r *Runner) Platform() source.Platform { return r.platform }

// Tick runs one sweep. Overlapping ticks are dropped so a slow upstream
// never stacks sweeps.
func (r *Runner) Tick(ctx context.Context) {
	select {
	case r.gate <- struct{}{}:
	default:
		r.log.Warn("sweep still running, tick skipped")
		return
	}
	defer func() { <-r.gate }()

	started := time.Now()
	subs, err := r.store.ListPlatform(ctx, r.platform)
	if err != nil {
		r.log.Error("list subscriptions", logx.Err(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	// One fetch per entity regardless of how many tenants watch it.
	items := map[string]*source.Item{}
	fetched := map[string]bool{}
	var notified, failed int

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		item, ok := items[sub.Entity]
		if !ok && !fetched[sub.Entity] {
			fetched[sub.Entity] = true
			item, err = r.adapter.Latest(ctx, sub.Entity)
			if err != nil {
				var credErr *auth.CredentialError
				if errors.As(err, &credErr) {
					// Every remaining fetch would fail the same way.
					r.log.Error("credentials rejected, sweep aborted", logx.Err(err))
					return
				}
				r.log.Warn("fetch failed", logx.String("entity", sub.Entity), logx.Err(err))
				r.publish(eventbus.Event{Type: eventbus.TypeFetchError, Entity: sub.Entity, Detail: err.Error()})
				failed++
				continue
			}
			items[sub.Entity] = item
		} else if !ok {
			// Fetch already failed this sweep.
			continue
		}
		if r.apply(ctx, sub, item) {
			notified++
		}
	}

	r.log.Debug("sweep done",
		logx.Int("subscriptions", len(subs)),
		logx.Int("notified", notified),
		logx.Int("fetch_failures", failed),
		logx.Duration("took", time.Since(started)))
	r.publish(eventbus.Event{Type: eventbus.TypeSweepDone})
}

// apply evaluates one subscription and delivers whatever the decision
// calls for. State is persisted only after delivery succeeds so a
// failed send is retried on the next sweep.
func (r *Runner) apply(ctx context.Context, sub store.Subscription, item *source.Item) bool {
	key := sub.Key()
	st, err := r.store.State(ctx, key)
	if err != nil {
		r.log.Error("load state", logx.String("entity", sub.Entity), logx.Err(err))
		return false
	}

	decision := engine.Evaluate(r.platform, st, item)
	if decision == engine.NoChange {
		return false
	}
	log := r.log.With(
		logx.String("tenant", sub.Tenant),
		logx.String("entity", sub.Entity),
		logx.String("decision", decision.String()))

	switch decision {
	case engine.NewItem:
		if _, err := r.dispatch.Item(ctx, sub, item); err != nil {
			log.Warn("send failed", logx.Err(err))
			return false
		}
		st.Remember(item.ID)
		st.AvatarURL = firstNonEmpty(item.AvatarURL, st.AvatarURL)

	case engine.WentLive:
		ref, err := r.dispatch.Live(ctx, sub, item)
		if err != nil {
			log.Warn("send failed", logx.Err(err))
			return false
		}
		st.Remember(item.ID)
		st.Live = true
		st.Message = ref
		st.AvatarURL = firstNonEmpty(item.AvatarURL, st.AvatarURL)

	case engine.StillLive:
		ref, err := r.dispatch.Refresh(ctx, sub, st.Message, item)
		if err != nil {
			log.Warn("refresh failed", logx.Err(err))
			return false
		}
		st.Message = ref

	case engine.WentOffline:
		if err := r.dispatch.Offline(ctx, sub, st.Message, ""); err != nil {
			log.Warn("offline edit failed", logx.Err(err))
			return false
		}
		st.Live = false
		st.Message = transport.MessageRef{}
	}

	st.UpdatedAt = time.Now()
	if err := r.store.SaveState(ctx, key, st); err != nil {
		log.Error("save state", logx.Err(err))
	}
	if item != nil && item.Author != "" && item.Author != sub.Display {
		if err := r.store.SetDisplay(ctx, key, item.Author); err != nil {
			log.Warn("refresh display name", logx.Err(err))
		}
	}
	log.Info("notified")
	r.publish(eventbus.Event{
		Type:   eventbus.TypeNotified,
		Tenant: sub.Tenant,
		Entity: sub.Entity,
		Detail: decision.String(),
	})
	return decision != engine.StillLive && decision != engine.WentOffline
}

func (r *Runner) publish(e eventbus.Event) {
	if r.bus == nil {
		return
	}
	e.Platform = string(r.platform)
	r.bus.Publish(e)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
