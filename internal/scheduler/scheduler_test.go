package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"smar/scraper-service/internal/scheduler"
)

type fakeQueue struct {
	name  string
	depth int64
	err   error
	calls atomic.Int32
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Depth(context.Context) (int64, error) {
	q.calls.Add(1)
	return q.depth, q.err
}

type fakePurger struct {
	cutoff time.Time
	calls  int
}

func (p *fakePurger) Purge(_ context.Context, before time.Time) (int64, error) {
	p.calls++
	p.cutoff = before
	return 2, nil
}

type fakeHealth struct{ calls atomic.Int32 }

func (h *fakeHealth) Refresh(context.Context) { h.calls.Add(1) }

func TestRunOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	search := &fakeQueue{name: "search", depth: 4}
	broken := &fakeQueue{name: "reviews", err: errors.New("redis down")}
	runs := &fakePurger{}
	health := &fakeHealth{}

	s := scheduler.New(scheduler.Config{
		Retention: 30 * 24 * time.Hour,
		Queues:    []scheduler.Queue{search, broken},
		Runs:      runs,
		Health:    health,
		Now:       func() time.Time { return now },
	})
	s.RunOnce(context.Background())

	if runs.calls != 1 {
		t.Errorf("purge calls = %d, want 1", runs.calls)
	}
	if want := now.Add(-30 * 24 * time.Hour); !runs.cutoff.Equal(want) {
		t.Errorf("purge cutoff = %v, want %v", runs.cutoff, want)
	}
	if search.calls.Load() != 1 || broken.calls.Load() != 1 {
		t.Error("every queue must be asked for its depth, even after an error")
	}
	if health.calls.Load() != 1 {
		t.Errorf("health refreshes = %d, want 1", health.calls.Load())
	}
}

func TestRunOnce_NoRunLog(t *testing.T) {
	s := scheduler.New(scheduler.Config{Retention: time.Hour})
	s.RunOnce(context.Background()) // must not panic without optional collaborators
}

func TestStart_RefreshesImmediately(t *testing.T) {
	health := &fakeHealth{}
	s := scheduler.New(scheduler.Config{Health: health})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if health.calls.Load() < 1 {
		t.Error("Start must refresh health before the first tick")
	}
}

func TestStart_InvalidCronSpec(t *testing.T) {
	s := scheduler.New(scheduler.Config{PurgeSpec: "every now and then"})
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start with an invalid spec expected error, got nil")
	}
}
