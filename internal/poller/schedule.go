package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "lookout/pkg/logx"
)

// Scheduler runs registered sweeps on fixed cadences. Intervals are
// fixed for the scheduler's lifetime; a config reload replaces the
// whole scheduler.
type Scheduler struct {
	c   *cron.Cron
	ctx context.Context
	log logx.Logger
}

func NewScheduler(ctx context.Context, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{c: cron.New(), ctx: ctx, log: log}
}

// Add schedules the runner and fires an immediate first sweep on Start
// so a restart doesn't wait a full interval to catch up.
func (s *Scheduler) Add(r *Runner, every time.Duration) error {
	_, err := s.c.AddFunc("@every "+every.String(), func() { r.Tick(s.ctx) })
	if err != nil {
		return err
	}
	s.log.Info("sweep scheduled",
		logx.String("platform", string(r.Platform())),
		logx.Duration("every", every))
	return nil
}

func (s *Scheduler) Start(runners ...*Runner) {
	s.c.Start()
	for _, r := range runners {
		go r.Tick(s.ctx)
	}
}

// Stop halts scheduling and returns a context that is done once any
// in-flight sweep jobs return.
func (s *Scheduler) Stop() context.Context {
	return s.c.Stop()
}
