package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultTickTimeout bounds a single scheduled evaluation tick.
const DefaultTickTimeout = 10 * time.Minute

// Ticker runs one evaluation pass.
type Ticker interface {
	Tick(ctx context.Context, asOf time.Time) (*automation.TickReport, error)
}

// Scheduler runs evaluation ticks on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	ticker   Ticker
	schedule string
	timeout  time.Duration
	log      logger.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler for schedule, a standard five-field cron
// expression or a descriptor such as "@every 15m".
func NewScheduler(ticker Ticker, schedule string, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		// overlapping runs are skipped while a tick is still in flight
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ticker:   ticker,
		schedule: schedule,
		timeout:  DefaultTickTimeout,
		log:      log.With("component", "scheduler"),
		now:      time.Now,
	}
}

// SetupJobs registers the evaluation job.
func (s *Scheduler) SetupJobs() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runTick); err != nil {
		return fmt.Errorf("failed to schedule evaluation tick %q: %w", s.schedule, err)
	}
	s.log.Info("evaluation tick scheduled", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("scheduled evaluation tick failed", "error", err)
	}
}

// RunOnce runs a tick at the current time.
func (s *Scheduler) RunOnce(ctx context.Context) (*automation.TickReport, error) {
	return s.ticker.Tick(ctx, s.now().UTC())
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running tick to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.log.Info("stopping scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a tick still running")
	}
}
