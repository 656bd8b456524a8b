package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/persistence"
)

// PostgresStore keeps entities as JSONB rows and announces every committed
// change on a Redis channel per entity type.
type PostgresStore struct {
	pool   *pgxpool.Pool
	push   *persistence.PushChannel
	logger *zap.Logger
}

// NewPostgresStore builds a store over an existing pool and push channel.
// The sync_entities table comes from persistence.RunMigrations. A nil
// push channel disables Subscribe.
func NewPostgresStore(pool *pgxpool.Pool, push *persistence.PushChannel, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, push: push, logger: logger}
}

func (s *PostgresStore) Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var change Change
	switch m.Kind {
	case domain.MutationCreate:
		if domain.IsTempID(m.TargetID) {
			existing, err := s.selectDocument(ctx, tx,
				`SELECT document FROM sync_entities WHERE entity_type = $1 AND client_ref = $2`,
				string(m.EntityType), m.TargetID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, classifyPostgres(err)
			}
			if existing != nil {
				return existing, nil
			}
		}
		doc, err := prepare(m, uuid.NewString(), nil)
		if err != nil {
			return nil, err
		}
		if err := s.writeDocument(ctx, tx, `
			INSERT INTO sync_entities (entity_type, id, client_ref, document, last_mutation_id)
			VALUES ($1, $2, $3, $4, $5)`, m.EntityType, doc, nullable(doc.String(FieldClientRef))); err != nil {
			return nil, err
		}
		change = Change{Type: ChangeUpsert, EntityType: m.EntityType, ID: doc.ID(), Document: doc}

	case domain.MutationUpdate:
		current, err := s.selectDocument(ctx, tx,
			`SELECT document FROM sync_entities WHERE entity_type = $1 AND id = $2 FOR UPDATE`,
			string(m.EntityType), m.TargetID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Rejectedf("%s %s not found", m.EntityType, m.TargetID)
		}
		if err != nil {
			return nil, classifyPostgres(err)
		}
		if alreadyApplied(m, current) {
			return current, nil
		}
		doc, err := prepare(m, m.TargetID, current)
		if err != nil {
			return nil, err
		}
		if err := s.writeDocument(ctx, tx, `
			UPDATE sync_entities
			SET document = $4, last_mutation_id = $5, client_ref = COALESCE(client_ref, $3), updated_at = now()
			WHERE entity_type = $1 AND id = $2`, m.EntityType, doc, nullable(doc.String(FieldClientRef))); err != nil {
			return nil, err
		}
		change = Change{Type: ChangeUpsert, EntityType: m.EntityType, ID: m.TargetID, Document: doc}

	case domain.MutationDelete:
		tag, err := tx.Exec(ctx, `DELETE FROM sync_entities WHERE entity_type = $1 AND id = $2`,
			string(m.EntityType), m.TargetID)
		if err != nil {
			return nil, classifyPostgres(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, nil
		}
		change = Change{Type: ChangeDelete, EntityType: m.EntityType, ID: m.TargetID}

	default:
		return nil, Rejectedf("unsupported mutation kind %q", m.Kind)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPostgres(err)
	}
	s.publish(ctx, change)
	return change.Document, nil
}

func (s *PostgresStore) selectDocument(ctx context.Context, tx pgx.Tx, query string, args ...any) (domain.Document, error) {
	var raw []byte
	if err := tx.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) writeDocument(ctx context.Context, tx pgx.Tx, query string, entityType domain.EntityType, doc domain.Document, clientRef *string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Rejected(fmt.Errorf("encode document: %w", err))
	}
	if _, err := tx.Exec(ctx, query, string(entityType), doc.ID(), clientRef, raw, doc.String(FieldLastMutationID)); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

// publish is best effort: a missed push is healed by the next snapshot.
func (s *PostgresStore) publish(ctx context.Context, change Change) {
	if s.push == nil {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("encode push", zap.Error(err))
		return
	}
	entityType := string(change.EntityType)
	if err := s.push.Publish(context.WithoutCancel(ctx), entityType, payload); err != nil {
		s.logger.Warn("publish push failed", zap.String("channel", s.push.Name(entityType)), zap.Error(err))
	}
}

func (s *PostgresStore) FetchAll(ctx context.Context, entityType domain.EntityType) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM sync_entities WHERE entity_type = $1 ORDER BY id`, string(entityType))
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classifyPostgres(err)
		}
		var doc domain.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, Unknown(fmt.Errorf("decode stored document: %w", err))
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(err)
	}
	return out, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, entityType domain.EntityType, fn func(Change)) (func(), error) {
	if s.push == nil {
		return nil, errors.New("postgres store has no push channel")
	}
	channel := s.push.Name(string(entityType))
	pubsub, err := s.push.Subscribe(ctx, string(entityType))
	if err != nil {
		return nil, Unreachable(err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn("invalid push payload", zap.String("channel", channel), zap.Error(err))
				continue
			}
			fn(change)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return err
	}
	if s.push != nil {
		return s.push.Ping(ctx)
	}
	return nil
}

// Close is a no-op. The pool and push channel belong to the caller.
func (s *PostgresStore) Close() error { return nil }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// classifyPostgres maps driver errors onto the failure taxonomy. Data
// exceptions (class 22) and constraint violations (class 23) are the
// store refusing the write.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
			return Rejected(err)
		}
		return Unknown(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Unreachable(err)
	}
	return normalize(err)
}
