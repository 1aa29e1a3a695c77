// Package postgres is the durable [journal.Journal] backend: one call_records
// table plus one transcript_entries table, written fire-and-forget from the
// bridge.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringbridge/telephony/internal/journal"
	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/types"
)

var _ journal.Journal = (*Store)(nil)

// Store is the PostgreSQL-backed call journal.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings to verify connectivity, and runs the schema
// migration. The caller owns the returned Store's lifetime and must call
// Close.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS call_records (
		    call_id    TEXT PRIMARY KEY,
		    provider   TEXT NOT NULL,
		    from_num   TEXT NOT NULL,
		    to_num     TEXT NOT NULL,
		    direction  TEXT NOT NULL,
		    start_time TIMESTAMPTZ NOT NULL,
		    end_time   TIMESTAMPTZ,
		    end_reason TEXT
		);
		CREATE TABLE IF NOT EXISTS transcript_entries (
		    id          BIGSERIAL PRIMARY KEY,
		    call_id     TEXT NOT NULL REFERENCES call_records(call_id),
		    speaker_id  TEXT NOT NULL,
		    text        TEXT NOT NULL,
		    raw_text    TEXT NOT NULL,
		    timestamp   TIMESTAMPTZ NOT NULL,
		    duration_ns BIGINT NOT NULL
		);`
	_, err := pool.Exec(ctx, ddl)
	return err
}

// CallStarted inserts the call record. Errors are logged, not returned:
// journal writes are fire-and-forget from the bridge's perspective.
func (s *Store) CallStarted(rec telephony.CallRecord) {
	const q = `
		INSERT INTO call_records (call_id, provider, from_num, to_num, direction, start_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO NOTHING`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx, q, rec.CallID, rec.Provider, rec.From, rec.To, string(rec.Direction), rec.StartTime); err != nil {
		slog.Error("journal: write call started failed", "call_id", rec.CallID, "error", err)
	}
}

// CallEnded records the end time and reason for callID.
func (s *Store) CallEnded(callID string, reason telephony.EndReason) {
	const q = `UPDATE call_records SET end_time = $2, end_reason = $3 WHERE call_id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx, q, callID, time.Now(), string(reason)); err != nil {
		slog.Error("journal: write call ended failed", "call_id", callID, "error", err)
	}
}

// Transcript appends one transcript entry for callID.
func (s *Store) Transcript(callID string, entry types.TranscriptEntry) {
	const q = `
		INSERT INTO transcript_entries (call_id, speaker_id, text, raw_text, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, q, callID, entry.SpeakerID, entry.Text, entry.RawText, entry.Timestamp, entry.Duration.Nanoseconds())
	if err != nil {
		slog.Error("journal: write transcript entry failed", "call_id", callID, "error", err)
	}
}

// Ping verifies the database connection is reachable. Used by the health
// readiness checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
