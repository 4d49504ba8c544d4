// Package app wires configuration, storage, sources, and delivery into
// one runnable unit.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"lookout/internal/config"
	"lookout/internal/eventbus"
	"lookout/internal/notify"
	"lookout/internal/poller"
	"lookout/internal/runtime/supervisor"
	"lookout/internal/source"
	"lookout/internal/source/auth"
	"lookout/internal/source/twitch"
	"lookout/internal/source/xposts"
	"lookout/internal/source/youtube"
	"lookout/internal/store"
	"lookout/internal/transport/telegram"
	logx "lookout/pkg/logx"
)

type App struct {
	cfgPath string
	secrets Secrets

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log      logx.Logger
	logClose io.Closer

	store    *store.Store
	dispatch *notify.Dispatcher
	bus      eventbus.Bus

	sched *poller.Scheduler
}

func New(cfgPath string, secrets Secrets) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	if err := secrets.check(cfg.Sources.Twitch.Enabled, cfg.Sources.YouTube.Enabled, cfg.Sources.X.Enabled); err != nil {
		_ = closeQuiet(logClose)
		return nil, err
	}

	token := secrets.TelegramToken
	if token == "" {
		token = cfg.Telegram.Token
	}
	tg, err := telegram.New(telegram.Config{Token: token}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = closeQuiet(logClose)
		return nil, err
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		_ = closeQuiet(logClose)
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("comp", "store")))
	if err != nil {
		_ = closeQuiet(logClose)
		return nil, err
	}

	dispatch := notify.New(tg, notify.Config{RatePerSec: float64(cfg.Notify.RatePerSec)},
		log.With(logx.String("comp", "notify")))

	return &App{
		cfgPath:  cfgPath,
		secrets:  secrets,
		cfgm:     cfgm,
		log:      log,
		logClose: logClose,
		store:    st,
		dispatch: dispatch,
		bus:      eventbus.New(),
	}, nil
}

// Store exposes the subscription API for admin tooling.
func (a *App) Store() *store.Store { return a.store }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.startPollers(a.cfgm.Get()); err != nil {
		return err
	}

	// The fsnotify watcher can die when the config file's directory is
	// replaced (editors, deploys). Restart it instead of giving up.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: apply only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, newCfg)
			}
		}
	})

	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug-level: sweeps on short cadences are frequent.
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("platform", e.Platform),
					logx.String("entity", e.Entity),
					logx.String("detail", e.Detail))
			}
		}
	})

	a.log.Info("started")
	return nil
}

// applyReload restarts the poll schedules with the new cadences.
// Storage and transport changes need a process restart.
func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	if err := a.secrets.check(cfg.Sources.Twitch.Enabled, cfg.Sources.YouTube.Enabled, cfg.Sources.X.Enabled); err != nil {
		a.log.Warn("reload kept previous sources", logx.Err(err))
		return
	}
	if a.sched != nil {
		stopped := a.sched.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(5 * time.Second):
			a.log.Warn("previous sweeps still running after reload stop window")
		case <-ctx.Done():
			return
		}
		a.sched = nil
	}
	if err := a.startPollers(cfg); err != nil {
		a.log.Error("reload failed to restart pollers", logx.Err(err))
		return
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded})
	a.log.Info("config reloaded")
}

func (a *App) startPollers(cfg *config.Config) error {
	runners, intervals, err := a.buildRunners(cfg)
	if err != nil {
		return err
	}
	if len(runners) == 0 {
		a.log.Warn("no sources enabled")
		return nil
	}
	sched := poller.NewScheduler(a.sup.Context(), a.log.With(logx.String("comp", "poller")))
	for i, r := range runners {
		if err := sched.Add(r, intervals[i]); err != nil {
			return err
		}
	}
	sched.Start(runners...)
	a.sched = sched
	return nil
}

func (a *App) buildRunners(cfg *config.Config) ([]*poller.Runner, []time.Duration, error) {
	var runners []*poller.Runner
	var intervals []time.Duration

	add := func(ad source.Adapter, every time.Duration) {
		runners = append(runners, poller.NewRunner(ad, a.store, a.dispatch, a.bus,
			a.log.With(logx.String("comp", "poller"))))
		intervals = append(intervals, every)
	}

	if sc := cfg.Sources.Twitch; sc.Enabled {
		every, err := config.PollInterval("sources.twitch.interval", sc.Interval,
			config.TwitchDefaultInterval, config.TwitchMinInterval)
		if err != nil {
			return nil, nil, err
		}
		timeout, err := config.ParseDurationOrDefault("sources.twitch.request_timeout", sc.RequestTimeout, 15*time.Second)
		if err != nil {
			return nil, nil, err
		}
		tokens := auth.New(twitch.TokenURL, a.secrets.TwitchClientID, a.secrets.TwitchClientSecret, nil)
		add(twitch.New(twitch.Config{
			BaseURL:  sc.BaseURL,
			ClientID: a.secrets.TwitchClientID,
			Timeout:  timeout,
		}, tokens), every)
	}

	if sc := cfg.Sources.YouTube; sc.Enabled {
		every, err := config.PollInterval("sources.youtube.interval", sc.Interval,
			config.YouTubeDefaultInterval, config.YouTubeMinInterval)
		if err != nil {
			return nil, nil, err
		}
		timeout, err := config.ParseDurationOrDefault("sources.youtube.request_timeout", sc.RequestTimeout, 15*time.Second)
		if err != nil {
			return nil, nil, err
		}
		add(youtube.New(youtube.Config{
			BaseURL: sc.BaseURL,
			APIKey:  a.secrets.YouTubeAPIKey,
			Timeout: timeout,
		}), every)
	}

	if sc := cfg.Sources.X; sc.Enabled {
		every, err := config.PollInterval("sources.x.interval", sc.Interval,
			config.XDefaultInterval, config.XMinInterval)
		if err != nil {
			return nil, nil, err
		}
		timeout, err := config.ParseDurationOrDefault("sources.x.request_timeout", sc.RequestTimeout, 30*time.Second)
		if err != nil {
			return nil, nil, err
		}
		add(xposts.New(xposts.Config{
			BaseURL: sc.BaseURL,
			APIKey:  a.secrets.XAPIKey,
			Timeout: timeout,
		}), every)
	}

	return runners, intervals, nil
}

// validate rejects a config before it is committed or hot-applied.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	checks := []struct {
		name       string
		sc         config.SourceConfig
		def, floor time.Duration
	}{
		{"sources.twitch", cfg.Sources.Twitch, config.TwitchDefaultInterval, config.TwitchMinInterval},
		{"sources.youtube", cfg.Sources.YouTube, config.YouTubeDefaultInterval, config.YouTubeMinInterval},
		{"sources.x", cfg.Sources.X, config.XDefaultInterval, config.XMinInterval},
	}
	for _, c := range checks {
		if !c.sc.Enabled {
			continue
		}
		if _, err := config.PollInterval(c.name+".interval", c.sc.Interval, c.def, c.floor); err != nil {
			return err
		}
		if _, err := config.ParseDurationOrDefault(c.name+".request_timeout", c.sc.RequestTimeout, 0); err != nil {
			return err
		}
	}
	if cfg.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- fn(stepCtx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("pollers", 5*time.Second, func(c context.Context) error {
		if a.sched == nil {
			return nil
		}
		select {
		case <-a.sched.Stop().Done():
		case <-c.Done():
			return c.Err()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return closeQuiet(a.logClose)
}

func closeQuiet(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
