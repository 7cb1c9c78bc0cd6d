package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Scheduler runs sweeps on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	report  func(Report)
	timeout time.Duration
}

// NewScheduler validates spec (standard five-field cron or a descriptor such
// as "@every 1h") and returns a stopped scheduler. Each report goes to
// onReport; nil means Log.
func NewScheduler(sw *Sweeper, spec string, onReport func(Report)) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if onReport == nil {
		onReport = Log
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: sw,
		report:  onReport,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	rep, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("reconcile sweep failed", "error", err)
		return
	}
	s.report(rep)
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	slog.Info("reconcile scheduler started", "entries", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}
