package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Handler processes one job. The returned value is stored as the job result.
type Handler interface {
	Process(ctx context.Context, job *Job) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

func (f HandlerFunc) Process(ctx context.Context, job *Job) (any, error) { return f(ctx, job) }

// releaseSrc deletes the in-flight pointer only if it still names ARGV[1].
const releaseSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseScript = redis.NewScript(releaseSrc)

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has finished its current job. All workers share one token bucket
// so at most Limit jobs start per Window.
func (q *Queue) Run(ctx context.Context, h Handler) {
	log := q.opts.Logger.With("queue", q.name)
	limiter := rate.NewLimiter(rate.Every(q.opts.Window/time.Duration(q.opts.Limit)), q.opts.Limit)
	log.Info("queue: workers started", "workers", q.opts.Workers, "limit", q.opts.Limit, "window", q.opts.Window)

	var wg sync.WaitGroup
	for i := range q.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, q.name+"-"+strconv.Itoa(i), limiter, h, log)
		}()
	}
	wg.Wait()
	log.Info("queue: workers stopped")
}

func (q *Queue) work(ctx context.Context, worker string, limiter *rate.Limiter, h Handler, log *slog.Logger) {
	for ctx.Err() == nil {
		res, err := q.rdb.BLPop(ctx, q.opts.PollTimeout, q.waitingKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue: pop failed", "worker", worker, "err", err)
			sleep(ctx, q.opts.PollTimeout)
			continue
		}
		id := res[1]

		if err := limiter.Wait(ctx); err != nil {
			// Shutting down before the job started: put it back at the head.
			if err := q.rdb.LPush(context.WithoutCancel(ctx), q.waitingKey(), id).Err(); err != nil {
				log.Warn("queue: requeue on shutdown failed", "id", id, "err", err)
			}
			return
		}
		// A started job always runs to completion, even across shutdown.
		q.process(context.WithoutCancel(ctx), worker, id, h, log)
	}
}

func (q *Queue) process(ctx context.Context, worker, id string, h Handler, log *slog.Logger) {
	job, err := q.Get(ctx, id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		// Expired while waiting. Its claim expires with it.
		log.Warn("queue: job expired before start", "id", id)
		return
	case errors.Is(err, errInvalidJob):
		log.Warn("queue: dropping unreadable job", "id", id, "err", err)
		q.discard(ctx, id, log)
		return
	case err != nil:
		log.Warn("queue: load job failed, requeueing", "id", id, "err", err)
		if err := q.rdb.LPush(ctx, q.waitingKey(), id).Err(); err != nil {
			log.Warn("queue: requeue failed", "id", id, "err", err)
		}
		return
	}
	if !IsTransitionAllowed(job.State, StateActive) {
		log.Warn("queue: skipping job", "id", id, "state", job.State)
		if IsTerminal(job.State) {
			q.release(ctx, job.Fingerprint, id, log)
		}
		return
	}

	job.State = StateActive
	job.Worker = worker
	job.StartedAt = time.Now().UTC()
	start := q.rdb.Pipeline()
	start.HSet(ctx, q.jobKey(id), "state", string(job.State), "worker", worker, "startedAt", job.StartedAt.UnixMilli())
	start.Expire(ctx, q.jobKey(id), q.opts.Retention)
	start.Expire(ctx, q.inflightKey(job.Fingerprint), q.opts.Retention)
	if _, err := start.Exec(ctx); err != nil {
		log.Warn("queue: mark active failed", "id", id, "err", err)
	}
	q.publish(ctx, job)

	result, runErr := invoke(ctx, h, job)
	job.FinishedAt = time.Now().UTC()
	if runErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			runErr = fmt.Errorf("json marshal result: %w", err)
		} else {
			job.Result = raw
		}
	}
	if runErr != nil {
		job.State = StateFailed
		job.Error = runErr.Error()
		job.ErrorKind = q.opts.Classify(runErr)
		log.Warn("queue: job failed", "id", id, "worker", worker, "kind", job.ErrorKind, "err", runErr)
	} else {
		job.State = StateCompleted
		log.Info("queue: job completed", "id", id, "worker", worker, "took", job.FinishedAt.Sub(job.StartedAt))
	}

	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, q.jobKey(id), job.fields())
	pipe.Expire(ctx, q.jobKey(id), q.opts.Retention)
	pipe.Eval(ctx, releaseSrc, []string{q.inflightKey(job.Fingerprint)}, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn("queue: record outcome failed", "id", id, "err", err)
	}
	q.publish(ctx, job)
}

// discard releases the claim of a job whose hash cannot be decoded so the
// fingerprint can be submitted again.
func (q *Queue) discard(ctx context.Context, id string, log *slog.Logger) {
	fp, err := q.rdb.HGet(ctx, q.jobKey(id), "fingerprint").Result()
	if err != nil {
		log.Warn("queue: read fingerprint failed", "id", id, "err", err)
		return
	}
	q.release(ctx, fp, id, log)
}

// release deletes the in-flight claim of fingerprint if id still holds it.
func (q *Queue) release(ctx context.Context, fingerprint, id string, log *slog.Logger) {
	if err := releaseScript.Run(ctx, q.rdb, []string{q.inflightKey(fingerprint)}, id).Err(); err != nil {
		log.Warn("queue: release claim failed", "id", id, "err", err)
	}
}

// invoke runs the handler, turning a panic into an error.
func invoke(ctx context.Context, h Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Process(ctx, job)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
