// Package store is the Postgres-backed durable store for gateway sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

// PostgresStore mirrors the Redis store: state and transcript expire after
// gateway.SessionTTL without a touch, rate windows after their window.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	cap int
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		ttl: gateway.SessionTTL,
		cap: transcript.ServerCap,
		now: time.Now,
	}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) LoadState(ctx context.Context, sessionID string) (gateway.SessionState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM gateway_sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, s.now()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.DefaultSessionState(), nil
	}
	if err != nil {
		return gateway.SessionState{}, fmt.Errorf("load session state: %w", err)
	}

	state := gateway.DefaultSessionState()
	if err := json.Unmarshal(raw, &state); err != nil {
		return gateway.SessionState{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, sessionID string, state gateway.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions (session_id, state, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`, sessionID, data, now.Add(s.ttl), now); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// AppendTranscript adds entry and keeps only the newest entries. A list whose
// last touch is older than the TTL is discarded first.
func (s *PostgresStore) AppendTranscript(ctx context.Context, sessionID string, entry transcript.Entry) ([]transcript.Entry, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript entry: %w", err)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transcript tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM gateway_transcript
		WHERE session_id = $1
		  AND (SELECT MAX(created_at) FROM gateway_transcript WHERE session_id = $1) <= $2
	`, sessionID, now.Add(-s.ttl)); err != nil {
		return nil, fmt.Errorf("expire transcript: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO gateway_transcript (session_id, entry, created_at) VALUES ($1, $2, $3)
	`, sessionID, data, now); err != nil {
		return nil, fmt.Errorf("append transcript: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM gateway_transcript
		WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM gateway_transcript WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		)
	`, sessionID, s.cap); err != nil {
		return nil, fmt.Errorf("trim transcript: %w", err)
	}

	entries, err := queryEntries(ctx, tx, sessionID, now.Add(-s.ttl))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transcript: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	return queryEntries(ctx, s.db, sessionID, s.now().Add(-s.ttl))
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryEntries(ctx context.Context, q querier, sessionID string, cutoff time.Time) ([]transcript.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT entry FROM gateway_transcript
		WHERE session_id = $1
		  AND (SELECT MAX(created_at) FROM gateway_transcript WHERE session_id = $1) > $2
		ORDER BY id
	`, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	out := make([]transcript.Entry, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		var e transcript.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("unmarshal transcript entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return out, nil
}

// Hit counts one request in a single upsert so concurrent gateways agree on
// the count.
func (s *PostgresStore) Hit(ctx context.Context, sessionID string, limit int, window time.Duration, now time.Time) (gateway.RateDecision, error) {
	windowID := gateway.Window(now, window)
	var hits int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO gateway_rate_windows (session_id, window_id, hits, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (session_id, window_id) DO UPDATE
		SET hits = gateway_rate_windows.hits + 1
		RETURNING hits
	`, sessionID, windowID, now.Add(window)).Scan(&hits)
	if err != nil {
		return gateway.RateDecision{}, fmt.Errorf("rate limit: %w", err)
	}
	decision := gateway.RateDecision{Allowed: hits <= int64(limit), Count: hits}
	if !decision.Allowed {
		decision.RetryIn = gateway.RetryIn(now, window)
	}
	return decision, nil
}

// Prune deletes expired sessions, transcripts and rate windows. Redis does
// this on its own through key expiry.
func (s *PostgresStore) Prune(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	stmts := []struct {
		query string
		arg   time.Time
	}{
		{`DELETE FROM gateway_sessions WHERE expires_at <= $1`, now},
		{`DELETE FROM gateway_rate_windows WHERE expires_at <= $1`, now},
		{`DELETE FROM gateway_transcript t WHERE (SELECT MAX(created_at) FROM gateway_transcript WHERE session_id = t.session_id) <= $1`, now.Add(-s.ttl)},
	}
	for _, stmt := range stmts {
		res, err := s.db.ExecContext(ctx, stmt.query, stmt.arg)
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
