// Package scheduler wires up the cron jobs that keep the service tidy: run
// log retention, queue depth reporting and health refresh.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Queue is the view of a work queue the depth report needs.
type Queue interface {
	Name() string
	Depth(ctx context.Context) (int64, error)
}

// Purger deletes run log entries older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Refresher recomputes a health status.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Config selects the cron specs and the run log retention.
type Config struct {
	PurgeSpec  string // default "@every 1h"
	ReportSpec string // default "@every 1m"
	HealthSpec string // default "@every 15s"
	Retention  time.Duration
	Queues     []Queue
	Runs       Purger    // optional
	Health     Refresher // optional
	Now        func() time.Time
}

// Scheduler wraps robfig/cron.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config
}

// New creates a Scheduler. Nothing runs until Start.
func New(cfg Config) *Scheduler {
	if cfg.PurgeSpec == "" {
		cfg.PurgeSpec = "@every 1h"
	}
	if cfg.ReportSpec == "" {
		cfg.ReportSpec = "@every 1m"
	}
	if cfg.HealthSpec == "" {
		cfg.HealthSpec = "@every 15s"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		cfg:  cfg,
	}
}

// Start registers the jobs and starts the scheduler. The health status is
// refreshed immediately so health checks pass without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		fn   func(context.Context)
	}{
		{s.cfg.PurgeSpec, s.purge},
		{s.cfg.ReportSpec, s.report},
		{s.cfg.HealthSpec, s.refresh},
	}
	for _, j := range jobs {
		fn := j.fn
		if _, err := s.cron.AddFunc(j.spec, func() { fn(ctx) }); err != nil {
			return fmt.Errorf("cron.AddFunc(%q): %w", j.spec, err)
		}
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started (purge %s, report %s, health %s)",
		s.cfg.PurgeSpec, s.cfg.ReportSpec, s.cfg.HealthSpec)

	s.refresh(ctx)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

// RunOnce runs every job once, in order.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.purge(ctx)
	s.report(ctx)
	s.refresh(ctx)
}

func (s *Scheduler) purge(ctx context.Context) {
	if s.cfg.Runs == nil || s.cfg.Retention <= 0 {
		return
	}
	cutoff := s.cfg.Now().Add(-s.cfg.Retention)
	n, err := s.cfg.Runs.Purge(ctx, cutoff)
	if err != nil {
		log.Printf("[scheduler] Run log purge error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] Purged %d run log entr(ies) older than %s", n, cutoff.Format(time.RFC3339))
	}
}

func (s *Scheduler) report(ctx context.Context) {
	for _, q := range s.cfg.Queues {
		n, err := q.Depth(ctx)
		if err != nil {
			log.Printf("[scheduler] Depth error for queue %s: %v", q.Name(), err)
			continue
		}
		log.Printf("[scheduler] Queue %s: %d waiting", q.Name(), n)
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	if s.cfg.Health != nil {
		s.cfg.Health.Refresh(ctx)
	}
}
