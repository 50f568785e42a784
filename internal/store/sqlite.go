package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sunset/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ AuditStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS closure_events (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id               TEXT    NOT NULL,
	confirmation_number      TEXT    NOT NULL DEFAULT '',
	status                   TEXT    NOT NULL,
	step                     TEXT    NOT NULL,
	progress_pct             INTEGER NOT NULL DEFAULT 0,
	action                   TEXT    NOT NULL DEFAULT '',
	message                  TEXT    NOT NULL DEFAULT '',
	error                    TEXT    NOT NULL DEFAULT '',
	transfer_relationship_id TEXT    NOT NULL DEFAULT '',
	estimated_completion     INTEGER,
	created_at               INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closure_events_account ON closure_events (account_id, id);
`

// SQLiteStore implements AuditStore backed by a SQLite database. Timestamps
// are stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the schema if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendClosureEvent inserts ev and sets its ID.
func (s *SQLiteStore) AppendClosureEvent(ctx context.Context, ev *domain.ClosureEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	var eta sql.NullInt64
	if ev.EstimatedCompletion != nil {
		eta = sql.NullInt64{Int64: ev.EstimatedCompletion.UnixMilli(), Valid: true}
	}

	const q = `INSERT INTO closure_events (account_id, confirmation_number, status, step,
		progress_pct, action, message, error, transfer_relationship_id, estimated_completion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		ev.AccountID, ev.ConfirmationNumber, ev.Status, string(ev.Step),
		ev.ProgressPct, ev.Action, ev.Message, ev.Error, ev.TransferRelationshipID,
		eta, ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append closure event %s: %w", ev.AccountID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: closure event id: %w", err)
	}
	ev.ID = id
	return nil
}

// LatestClosureEvent returns the newest event for accountID.
func (s *SQLiteStore) LatestClosureEvent(ctx context.Context, accountID string) (*domain.ClosureEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM closure_events WHERE account_id = ? ORDER BY id DESC LIMIT 1`
	ev, err := scanSQLiteEvent(s.db.QueryRowContext(ctx, q, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest closure event %s: %w", accountID, err)
	}
	return ev, nil
}

// ListClosureEvents returns events for accountID, oldest first. With a
// positive limit only the newest limit events are returned.
func (s *SQLiteStore) ListClosureEvents(ctx context.Context, accountID string, limit int) ([]domain.ClosureEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM closure_events WHERE account_id = ? ORDER BY id DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	events, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closure events %s: %w", accountID, err)
	}
	reverse(events)
	return events, nil
}

// ListActiveClosures returns the latest event per account where that event
// is still in progress and carries a kickoff confirmation number.
func (s *SQLiteStore) ListActiveClosures(ctx context.Context) ([]domain.ClosureEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM closure_events e
		WHERE e.id = (SELECT MAX(id) FROM closure_events WHERE account_id = e.account_id)
		AND e.status = ? AND e.confirmation_number <> ''
		ORDER BY e.account_id`
	events, err := s.query(ctx, q, domain.ProcessInProgress)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active closures: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.ClosureEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ClosureEvent
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(r rowScanner) (*domain.ClosureEvent, error) {
	var (
		ev        domain.ClosureEvent
		step      string
		eta       sql.NullInt64
		createdMs int64
	)
	err := r.Scan(&ev.ID, &ev.AccountID, &ev.ConfirmationNumber, &ev.Status, &step,
		&ev.ProgressPct, &ev.Action, &ev.Message, &ev.Error, &ev.TransferRelationshipID,
		&eta, &createdMs)
	if err != nil {
		return nil, err
	}
	ev.Step = domain.ClosureStep(step)
	ev.CreatedAt = time.UnixMilli(createdMs).UTC()
	if eta.Valid {
		t := time.UnixMilli(eta.Int64).UTC()
		ev.EstimatedCompletion = &t
	}
	return &ev, nil
}

func reverse(events []domain.ClosureEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
