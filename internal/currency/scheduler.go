package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"spendlog/internal/log"
)

// Scheduler refreshes an engine on a cron schedule. Failed refreshes are
// logged and retried at the next tick.
type Scheduler struct {
	cron    *cron.Cron
	engine  *Engine
	timeout time.Duration
	logger  *log.Logger
}

// NewScheduler registers the refresh job. schedule accepts standard five-field
// cron expressions and descriptors such as "@every 6h" or "@hourly".
func NewScheduler(engine *Engine, schedule string, logger *log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		engine:  engine,
		timeout: 30 * time.Second,
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentCurrency),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.engine.Refresh(ctx); err != nil {
		s.logger.Warn("Scheduled rate refresh failed", log.FieldError, err)
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the refresh job fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
