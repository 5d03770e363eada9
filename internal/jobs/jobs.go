// Package jobs holds the queue handlers. Every handler follows the same
// flow: serve from the cache store when possible, otherwise run the
// pipeline and synchronously write the cache store, the result store and
// the run log before the job completes.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
	"smar/scraper-service/internal/runlog"
	"smar/scraper-service/internal/scraper"
	"smar/scraper-service/internal/store"
)

// Error kinds recorded on failed jobs.
const (
	KindNoResults = "no_results"
	KindUpstream  = "upstream"
	KindInvalid   = "invalid"
	KindInternal  = "error"
)

// Classify maps a handler error to the error kind stored on the job.
func Classify(err error) string {
	var nr *scraper.NoResultsError
	var ue *scraper.UpstreamError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &nr):
		return KindNoResults
	case errors.As(err, &ue):
		return KindUpstream
	case errors.As(err, &ve):
		return KindInvalid
	}
	return KindInternal
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Cache     store.Store
	Results   store.Store
	CacheTTL  time.Duration // default store.DefaultCacheTTL
	ResultTTL time.Duration // default store.DefaultResultTTL
	// Runs is optional.
	Runs   runlog.Recorder
	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) defaults() {
	if d.CacheTTL <= 0 {
		d.CacheTTL = store.DefaultCacheTTL
	}
	if d.ResultTTL <= 0 {
		d.ResultTTL = store.DefaultResultTTL
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// run describes one fresh or cached execution.
type run[T any] struct {
	fingerprint string
	entry       runlog.Entry
	fresh       func(ctx context.Context) ([]T, error)
	export      func(results []T) model.ExportEntry
}

func execute[T any](ctx context.Context, d Deps, job *queue.Job, r run[T]) (model.Outcome[T], error) {
	log := d.Logger.With("jobId", job.ID, "fingerprint", r.fingerprint)

	var hit model.Outcome[T]
	ok, err := store.GetJSON(ctx, d.Cache, r.fingerprint, &hit)
	if err != nil {
		log.Warn("cache read failed, running pipeline", "err", err)
	} else if ok {
		hit.FromCache = true
		log.Info("served from cache", "count", hit.TotalCount)
		return hit, nil
	}

	results, err := r.fresh(ctx)
	if err != nil {
		return model.Outcome[T]{}, err
	}
	if results == nil {
		results = []T{}
	}
	out := model.Outcome[T]{TotalCount: len(results), Results: results}

	if err := store.SetJSON(ctx, d.Cache, r.fingerprint, out, d.CacheTTL); err != nil {
		log.Warn("cache write failed", "err", err)
	}

	entry := r.export(results)
	entry.Fingerprint = r.fingerprint
	entry.StoredAt = d.Now().UnixMilli()
	if err := store.SetJSON(ctx, d.Results, r.fingerprint, entry, d.ResultTTL); err != nil {
		log.Warn("result store write failed", "err", err)
	}

	if d.Runs != nil {
		e := r.entry
		e.JobID = job.ID
		e.Fingerprint = r.fingerprint
		e.TotalCount = len(results)
		e.CreatedAt = d.Now().UTC()
		if err := d.Runs.Record(ctx, e); err != nil {
			log.Warn("run log write failed", "err", err)
		}
	}

	log.Info("pipeline finished", "count", len(results))
	return out, nil
}
