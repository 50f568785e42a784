package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sunset/internal/domain"
)

// Compile-time interface check.
var _ AuditStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS closure_events (
	id                       BIGSERIAL PRIMARY KEY,
	account_id               TEXT        NOT NULL,
	confirmation_number      TEXT        NOT NULL DEFAULT '',
	status                   TEXT        NOT NULL,
	step                     TEXT        NOT NULL,
	progress_pct             INTEGER     NOT NULL DEFAULT 0,
	action                   TEXT        NOT NULL DEFAULT '',
	message                  TEXT        NOT NULL DEFAULT '',
	error                    TEXT        NOT NULL DEFAULT '',
	transfer_relationship_id TEXT        NOT NULL DEFAULT '',
	estimated_completion     TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_closure_events_account ON closure_events (account_id, id);
`

// PostgresConfig holds connection parameters for the PostgreSQL store.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// PostgresStore implements AuditStore using PostgreSQL via a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the schema if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// AppendClosureEvent inserts ev and sets its ID.
func (s *PostgresStore) AppendClosureEvent(ctx context.Context, ev *domain.ClosureEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO closure_events (account_id, confirmation_number, status, step,
		progress_pct, action, message, error, transfer_relationship_id, estimated_completion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := s.pool.QueryRow(ctx, q,
		ev.AccountID, ev.ConfirmationNumber, ev.Status, string(ev.Step),
		ev.ProgressPct, ev.Action, ev.Message, ev.Error, ev.TransferRelationshipID,
		ev.EstimatedCompletion, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("postgres: append closure event %s: %w", ev.AccountID, err)
	}
	return nil
}

// LatestClosureEvent returns the newest event for accountID.
func (s *PostgresStore) LatestClosureEvent(ctx context.Context, accountID string) (*domain.ClosureEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM closure_events WHERE account_id = $1 ORDER BY id DESC LIMIT 1`
	ev, err := scanPostgresEvent(s.pool.QueryRow(ctx, q, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest closure event %s: %w", accountID, err)
	}
	return ev, nil
}

// ListClosureEvents returns events for accountID, oldest first.
func (s *PostgresStore) ListClosureEvents(ctx context.Context, accountID string, limit int) ([]domain.ClosureEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM closure_events WHERE account_id = $1 ORDER BY id DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	events, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closure events %s: %w", accountID, err)
	}
	reverse(events)
	return events, nil
}

// ListActiveClosures returns the latest event per account where that event
// is still in progress and carries a kickoff confirmation number.
func (s *PostgresStore) ListActiveClosures(ctx context.Context) ([]domain.ClosureEvent, error) {
	q := `SELECT DISTINCT ON (account_id) ` + eventColumns + `
		FROM closure_events ORDER BY account_id, id DESC`
	events, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active closures: %w", err)
	}
	active := events[:0]
	for _, ev := range events {
		if ev.Status == domain.ProcessInProgress && ev.ConfirmationNumber != "" {
			active = append(active, ev)
		}
	}
	return active, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]domain.ClosureEvent, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ClosureEvent
	for rows.Next() {
		ev, err := scanPostgresEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func scanPostgresEvent(r rowScanner) (*domain.ClosureEvent, error) {
	var (
		ev   domain.ClosureEvent
		step string
	)
	err := r.Scan(&ev.ID, &ev.AccountID, &ev.ConfirmationNumber, &ev.Status, &step,
		&ev.ProgressPct, &ev.Action, &ev.Message, &ev.Error, &ev.TransferRelationshipID,
		&ev.EstimatedCompletion, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Step = domain.ClosureStep(step)
	return &ev, nil
}
