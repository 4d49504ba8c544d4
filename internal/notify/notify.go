// Package notify turns engine decisions into chat messages. It owns the
// outgoing rate limit and the edit-or-resend fallback for live
// announcements.
package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"lookout/internal/source"
	"lookout/internal/store"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

type Config struct {
	// RatePerSec caps outgoing messages across all tenants. 0 means the
	// Bot API guidance of 25/s.
	RatePerSec float64
}

type Dispatcher struct {
	tr      transport.Adapter
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func New(tr transport.Adapter, cfg Config, log logx.Logger) *Dispatcher {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		tr:      tr,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		log:     log,
		now:     time.Now,
	}
}

// Item announces a new upload or post and returns the sent message.
func (d *Dispatcher) Item(ctx context.Context, sub store.Subscription, item *source.Item) (transport.MessageRef, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	tmpl := sub.Template
	if tmpl == "" {
		tmpl = defaultTemplate(sub.Platform, item.Kind)
	}
	msg := transport.Message{
		Text:    renderItem(tmpl, item),
		Preview: &transport.Preview{URL: item.URL, Large: true},
	}
	return d.tr.Send(ctx, sub.Chat, msg)
}

// Live announces a broadcast start and returns the message so later
// ticks can edit it in place.
func (d *Dispatcher) Live(ctx context.Context, sub store.Subscription, item *source.Item) (transport.MessageRef, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	tmpl := sub.Template
	if tmpl == "" {
		tmpl = defaultTemplate(sub.Platform, item.Kind)
	}
	msg := transport.Message{
		Text:    renderLive(tmpl, item, d.now()),
		Preview: &transport.Preview{URL: item.ThumbnailURL, Large: true},
	}
	return d.tr.Send(ctx, sub.Chat, msg)
}

// Refresh edits an existing live announcement with current title, game
// and viewer figures. When the original message is gone it sends a
// replacement and returns the new reference.
func (d *Dispatcher) Refresh(ctx context.Context, sub store.Subscription, ref transport.MessageRef, item *source.Item) (transport.MessageRef, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return ref, err
	}
	tmpl := sub.Template
	if tmpl == "" {
		tmpl = defaultTemplate(sub.Platform, item.Kind)
	}
	msg := transport.Message{
		Text:    renderLive(tmpl, item, d.now()),
		Preview: &transport.Preview{URL: item.ThumbnailURL, Large: true},
	}
	// A lost ref (state written by an older build, or a partial failure)
	// degrades to a fresh announcement.
	if ref.IsZero() {
		return d.tr.Send(ctx, sub.Chat, msg)
	}
	err := d.tr.Edit(ctx, ref, msg)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, transport.ErrMessageGone) {
		return ref, err
	}
	d.log.Warn("live message gone, sending replacement",
		logx.String("tenant", sub.Tenant), logx.String("entity", sub.Entity))
	return d.tr.Send(ctx, sub.Chat, msg)
}

// Offline rewrites a live announcement after the broadcast ends. A
// vanished message is not an error; there is nothing left to close out.
func (d *Dispatcher) Offline(ctx context.Context, sub store.Subscription, ref transport.MessageRef, lastTitle string) error {
	if ref.IsZero() {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	author := sub.Display
	if author == "" {
		author = sub.Entity
	}
	msg := transport.Message{Text: renderOffline(DefaultOfflineTemplate, author, lastTitle)}
	err := d.tr.Edit(ctx, ref, msg)
	if errors.Is(err, transport.ErrMessageGone) {
		return nil
	}
	return err
}
