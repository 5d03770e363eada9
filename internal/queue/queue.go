package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned by Get for an unknown or expired job id.
var ErrJobNotFound = errors.New("job not found")

// errInvalidJob marks a job hash that exists but cannot be decoded.
var errInvalidJob = errors.New("invalid job")

// EventChannel is the Redis channel every job state change is published on.
const EventChannel = "EVENT_JOB_UPDATED"

// Job is one unit of work as stored in Redis.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	State       State           `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"errorKind,omitempty"`
	Worker      string          `json:"worker,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   time.Time       `json:"startedAt,omitzero"`
	FinishedAt  time.Time       `json:"finishedAt,omitzero"`
}

// Options configures one queue and its worker pool.
type Options struct {
	// Workers is the number of concurrent workers. Default: 1.
	Workers int
	// Limit jobs may start per Window across all workers. Default: 20 per 60s.
	// The limiter is a token bucket refilled at Limit/Window with a burst of
	// Limit: an idle queue can start Limit jobs at once, so the first Window
	// after idling admits up to 2*Limit-1 starts.
	Limit  int
	Window time.Duration
	// Retention is how long a finished job stays pollable. It also bounds
	// how long a waiting or active job holds its fingerprint: the job hash
	// and the in-flight claim expire after Retention, refreshed when the job
	// starts. Default: 24h.
	Retention time.Duration
	// PollTimeout bounds one blocking pop so workers notice shutdown.
	// BLPOP has a one second resolution, so smaller values are raised to 1s.
	// Default: 1s.
	PollTimeout time.Duration
	// Classify maps a handler error to the errorKind stored on the job.
	// Default: every error is "error".
	Classify func(error) string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.PollTimeout < time.Second {
		o.PollTimeout = time.Second
	}
	if o.Classify == nil {
		o.Classify = func(error) string { return "error" }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is a handle on one named Redis queue.
type Queue struct {
	name string
	rdb  *redis.Client
	opts Options
}

// New returns a handle on the queue called name.
func New(rdb *redis.Client, name string, opts Options) *Queue {
	opts.defaults()
	return &Queue{name: name, rdb: rdb, opts: opts}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) jobKey(id string) string { return "queue:" + q.name + ":job:" + id }
func (q *Queue) waitingKey() string { return "queue:" + q.name + ":waiting" }
func (q *Queue) inflightKey(fp string) string { return "queue:" + q.name + ":inflight:" + fp }

// Submit enqueues payload under fingerprint. When a job with the same
// fingerprint is still waiting or active, that job is returned with
// created=false and nothing new is enqueued.
func (q *Queue) Submit(ctx context.Context, fingerprint string, payload any) (*Job, bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("json marshal payload: %w", err)
	}
	job := &Job{
		ID:          uuid.New().String(),
		Queue:       q.name,
		Fingerprint: fingerprint,
		Payload:     raw,
		State:       StateWaiting,
		CreatedAt:   time.Now().UTC(),
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), job.fields())
	pipe.Expire(ctx, q.jobKey(job.ID), q.opts.Retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("submit %s: %w", q.name, err)
	}

	for range 3 {
		claimed, err := q.rdb.SetNX(ctx, q.inflightKey(fingerprint), job.ID, q.opts.Retention).Result()
		if err != nil {
			return nil, false, fmt.Errorf("submit %s: claim: %w", q.name, err)
		}
		if claimed {
			if err := q.rdb.RPush(ctx, q.waitingKey(), job.ID).Err(); err != nil {
				return nil, false, fmt.Errorf("submit %s: push: %w", q.name, err)
			}
			q.publish(ctx, job)
			return job, true, nil
		}

		holder, err := q.rdb.Get(ctx, q.inflightKey(fingerprint)).Result()
		if errors.Is(err, redis.Nil) {
			continue // released in between
		}
		if err != nil {
			return nil, false, fmt.Errorf("submit %s: read claim: %w", q.name, err)
		}
		existing, err := q.Get(ctx, holder)
		if err != nil && !errors.Is(err, ErrJobNotFound) && !errors.Is(err, errInvalidJob) {
			return nil, false, fmt.Errorf("submit %s: %w", q.name, err)
		}
		if err == nil && !IsTerminal(existing.State) {
			if err := q.rdb.Del(ctx, q.jobKey(job.ID)).Err(); err != nil {
				q.opts.Logger.Warn("queue: drop duplicate job hash failed", "queue", q.name, "id", job.ID, "err", err)
			}
			return existing, false, nil
		}
		// Stale pointer: the holder finished, expired or is unreadable.
		if err := releaseScript.Run(ctx, q.rdb, []string{q.inflightKey(fingerprint)}, holder).Err(); err != nil {
			return nil, false, fmt.Errorf("submit %s: release stale claim: %w", q.name, err)
		}
	}
	return nil, false, fmt.Errorf("submit %s: could not claim fingerprint %q", q.name, fingerprint)
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	vals, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return parseJob(vals)
}

// Depth returns the number of waiting jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.waitingKey()).Result()
}

// publish emits a job event. Failures are logged, never returned.
func (q *Queue) publish(ctx context.Context, job *Job) {
	event, _ := json.Marshal(map[string]string{
		"type":        "EVENT_JOB_" + strings.ToUpper(string(job.State)),
		"queue":       q.name,
		"jobId":       job.ID,
		"fingerprint": job.Fingerprint,
		"state":       string(job.State),
	})
	if err := q.rdb.Publish(ctx, EventChannel, event).Err(); err != nil {
		q.opts.Logger.Warn("publish "+EventChannel+" failed", "err", err)
	}
}

func (j *Job) fields() map[string]any {
	f := map[string]any{
		"id":          j.ID,
		"queue":       j.Queue,
		"fingerprint": j.Fingerprint,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"createdAt":   j.CreatedAt.UnixMilli(),
	}
	if len(j.Result) > 0 {
		f["result"] = string(j.Result)
	}
	if j.Error != "" {
		f["error"] = j.Error
		f["errorKind"] = j.ErrorKind
	}
	if j.Worker != "" {
		f["worker"] = j.Worker
	}
	if !j.StartedAt.IsZero() {
		f["startedAt"] = j.StartedAt.UnixMilli()
	}
	if !j.FinishedAt.IsZero() {
		f["finishedAt"] = j.FinishedAt.UnixMilli()
	}
	return f
}

func parseJob(vals map[string]string) (*Job, error) {
	state, err := ParseState(vals["state"])
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errInvalidJob, vals["id"], err)
	}
	j := &Job{
		ID:          vals["id"],
		Queue:       vals["queue"],
		Fingerprint: vals["fingerprint"],
		State:       state,
		Error:       vals["error"],
		ErrorKind:   vals["errorKind"],
		Worker:      vals["worker"],
		CreatedAt:   parseMillis(vals["createdAt"]),
		StartedAt:   parseMillis(vals["startedAt"]),
		FinishedAt:  parseMillis(vals["finishedAt"]),
	}
	if p := vals["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := vals["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	return j, nil
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
