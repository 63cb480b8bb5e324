// Package history persists every heartbeat attempt so operators can see
// what the worker did while nobody was watching.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/ledger"
)

// DefaultLimit is used by Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

// MaxLimit caps Recent.
const MaxLimit = 500

// Entry is one recorded attempt.
type Entry struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Endpoint      string    `json:"endpoint"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Stats summarizes the stored attempts.
type Stats struct {
	Total          int64            `json:"total"`
	Succeeded      int64            `json:"succeeded"`
	Failed         int64            `json:"failed"`
	LastSuccessAt  *time.Time       `json:"last_success_at,omitempty"`
	LastFailureAt  *time.Time       `json:"last_failure_at,omitempty"`
	FailuresByKind map[string]int64 `json:"failures_by_kind"`
}

// Repository stores attempts in the history database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ heartbeat.Recorder = (*Repository)(nil)

// NewRepository creates a repository over an already migrated database.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// Record stores one attempt.
func (r *Repository) Record(ctx context.Context, a heartbeat.Attempt) error {
	var txID, kind, message sql.NullString
	if a.TransactionID != "" {
		txID = sql.NullString{String: a.TransactionID, Valid: true}
	}
	if a.Err != nil {
		kind = sql.NullString{String: ledger.ErrorKind(a.Err), Valid: true}
		message = sql.NullString{String: a.Err.Error(), Valid: true}
	}

	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO heartbeat_attempts
			(id, source, endpoint, started_at, duration_ms, transaction_id, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(a.Source),
		a.Endpoint,
		a.StartedAt.UTC().UnixMilli(),
		a.Duration.Milliseconds(),
		txID,
		kind,
		message,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	r.log.Debug().Str("id", id).Str("source", string(a.Source)).Bool("success", a.Err == nil).Msg("Attempt recorded")
	return nil
}

// Recent returns up to limit attempts, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source, endpoint, started_at, duration_ms, transaction_id, error_kind, error_message
		FROM heartbeat_attempts
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                   Entry
			startedAt           int64
			txID, kind, message sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Endpoint, &startedAt, &e.DurationMs, &txID, &kind, &message); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedAt).UTC()
		e.TransactionID = txID.String
		e.ErrorKind = kind.String
		e.ErrorMessage = message.String
		e.Success = !kind.Valid
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return entries, nil
}

// Stats aggregates the stored attempts.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{FailuresByKind: make(map[string]int64)}

	var lastSuccess, lastFailure sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE error_kind IS NULL),
			MAX(started_at) FILTER (WHERE error_kind IS NULL),
			MAX(started_at) FILTER (WHERE error_kind IS NOT NULL)
		FROM heartbeat_attempts`).Scan(&stats.Total, &stats.Succeeded, &lastSuccess, &lastFailure)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	if lastSuccess.Valid {
		t := time.UnixMilli(lastSuccess.Int64).UTC()
		stats.LastSuccessAt = &t
	}
	if lastFailure.Valid {
		t := time.UnixMilli(lastFailure.Int64).UTC()
		stats.LastFailureAt = &t
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT error_kind, COUNT(*)
		FROM heartbeat_attempts
		WHERE error_kind IS NOT NULL
		GROUP BY error_kind`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to group failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, fmt.Errorf("failed to scan failure count: %w", err)
		}
		stats.FailuresByKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("failed to iterate failure counts: %w", err)
	}
	return stats, nil
}

// PruneOlderThan deletes attempts that started before cutoff and returns
// how many were removed.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM heartbeat_attempts WHERE started_at < ?",
		cutoff.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned attempts: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned old attempts")
	}
	return n, nil
}
