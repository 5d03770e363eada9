// Package runlog keeps a history of fresh scrape completions. The history
// backs the reproducibility log when a caller does not supply the result
// count, and is purged on a schedule.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one fresh completion.
type Entry struct {
	JobID              string
	Kind               string
	Fingerprint        string
	Query              string
	Country            string
	TotalCount         int
	IncludePermissions bool
	CreatedAt          time.Time
}

// Recorder stores and queries run entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Last(ctx context.Context, fingerprint string) (Entry, bool, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

const table = "scrape_runs"

const schema = `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id                  BIGSERIAL PRIMARY KEY,
		job_id              TEXT        NOT NULL,
		kind                TEXT        NOT NULL,
		fingerprint         TEXT        NOT NULL,
		query               TEXT        NOT NULL DEFAULT '',
		country             TEXT        NOT NULL DEFAULT '',
		total_count         INTEGER     NOT NULL,
		include_permissions BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_scrape_runs_fingerprint ON scrape_runs (fingerprint, created_at DESC);`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRecorder is a Recorder on a pgx pool.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgresRecorder wires a pgxpool implementation.
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

// EnsureTable creates the run table and index if they don't exist.
func (r *PostgresRecorder) EnsureTable(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure %s: %w", table, err)
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	query, args, err := insertQuery(e)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Last(ctx context.Context, fingerprint string) (Entry, bool, error) {
	query, args, err := lastQuery(fingerprint)
	if err != nil {
		return Entry{}, false, fmt.Errorf("build select: %w", err)
	}
	var e Entry
	err = r.pool.QueryRow(ctx, query, args...).Scan(
		&e.JobID, &e.Kind, &e.Fingerprint, &e.Query, &e.Country,
		&e.TotalCount, &e.IncludePermissions, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("select last run: %w", err)
	}
	return e, true, nil
}

func (r *PostgresRecorder) Purge(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := purgeQuery(before)
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func insertQuery(e Entry) (string, []any, error) {
	cols := []string{"job_id", "kind", "fingerprint", "query", "country", "total_count", "include_permissions"}
	vals := []any{e.JobID, e.Kind, e.Fingerprint, e.Query, e.Country, e.TotalCount, e.IncludePermissions}
	if !e.CreatedAt.IsZero() {
		cols = append(cols, "created_at")
		vals = append(vals, e.CreatedAt)
	}
	return psql.Insert(table).Columns(cols...).Values(vals...).ToSql()
}

func lastQuery(fingerprint string) (string, []any, error) {
	return psql.Select("job_id", "kind", "fingerprint", "query", "country", "total_count", "include_permissions", "created_at").
		From(table).
		Where(sq.Eq{"fingerprint": fingerprint}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
}

func purgeQuery(before time.Time) (string, []any, error) {
	return psql.Delete(table).Where(sq.Lt{"created_at": before}).ToSql()
}

// Memory is an in-process Recorder used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Recorder = (*Memory)(nil)

func (m *Memory) Record(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Last(_ context.Context, fingerprint string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Fingerprint == fingerprint {
			return m.entries[i], true, nil
		}
	}
	return Entry{}, false, nil
}

func (m *Memory) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	n := int64(len(m.entries) - len(kept))
	m.entries = kept
	return n, nil
}
