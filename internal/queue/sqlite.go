package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_mutations (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	entity_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	payload BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	unknown_failures INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	next_attempt_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_mutations_seq ON pending_mutations(seq);
CREATE INDEX IF NOT EXISTS idx_pending_mutations_target ON pending_mutations(entity_type, target_id);
`

const upsertMutation = `
INSERT INTO pending_mutations (
	id, seq, entity_type, target_id, kind, state, payload,
	enqueued_at, retry_count, unknown_failures, last_error, next_attempt_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	seq = excluded.seq,
	entity_type = excluded.entity_type,
	target_id = excluded.target_id,
	kind = excluded.kind,
	state = excluded.state,
	payload = excluded.payload,
	enqueued_at = excluded.enqueued_at,
	retry_count = excluded.retry_count,
	unknown_failures = excluded.unknown_failures,
	last_error = excluded.last_error,
	next_attempt_at = excluded.next_attempt_at
`

// SQLiteStore keeps the queue in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// One writer; the queue serializes access anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]domain.PendingMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, entity_type, target_id, kind, state, payload,
		       enqueued_at, retry_count, unknown_failures, last_error, next_attempt_at
		FROM pending_mutations
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingMutation
	for rows.Next() {
		var (
			m                       domain.PendingMutation
			entityType, kind, state string
			payload                 []byte
			enqueuedAt, nextAttempt int64
			lastError               sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Seq, &entityType, &m.TargetID, &kind, &state, &payload,
			&enqueuedAt, &m.RetryCount, &m.UnknownFailures, &lastError, &nextAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.EntityType = domain.EntityType(entityType)
		m.Kind = domain.MutationKind(kind)
		m.State = domain.MutationState(state)
		m.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		m.NextAttemptAt = time.Unix(0, nextAttempt).UTC()
		if lastError.Valid {
			msg := lastError.String
			m.LastError = &msg
		}
		if m.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("mutation %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, m domain.PendingMutation) error {
	return s.PutAll(ctx, []domain.PendingMutation{m})
}

func (s *SQLiteStore) PutAll(ctx context.Context, ms []domain.PendingMutation) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range ms {
		payload, err := encodePayload(m.Payload)
		if err != nil {
			return fmt.Errorf("mutation %s: %w", m.ID, err)
		}
		var lastError sql.NullString
		if m.LastError != nil {
			lastError = sql.NullString{String: *m.LastError, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, upsertMutation,
			m.ID, m.Seq, string(m.EntityType), m.TargetID, string(m.Kind), string(m.State), payload,
			m.EnqueuedAt.UnixNano(), m.RetryCount, m.UnknownFailures, lastError, m.NextAttemptAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to persist mutation %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete mutation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
