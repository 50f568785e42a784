// Package store persists the closure audit trail. Records are append-only
// observability data; nothing in the closure workflow reads them back to
// decide what to do next.
package store

import (
	"context"

	"sunset/internal/domain"
)

// AuditStore persists closure events.
type AuditStore interface {
	// AppendClosureEvent inserts a new event and sets its ID. CreatedAt is
	// filled in when zero.
	AppendClosureEvent(ctx context.Context, ev *domain.ClosureEvent) error

	// LatestClosureEvent returns the most recent event for the account, or
	// domain.ErrNotFound.
	LatestClosureEvent(ctx context.Context, accountID string) (*domain.ClosureEvent, error)

	// ListClosureEvents returns events for the account, oldest first. A
	// limit of zero or less returns everything.
	ListClosureEvents(ctx context.Context, accountID string, limit int) ([]domain.ClosureEvent, error)

	// ListActiveClosures returns the latest event of every account whose
	// confirmed closure is still in progress.
	ListActiveClosures(ctx context.Context) ([]domain.ClosureEvent, error)

	// Close releases the underlying connection.
	Close() error
}

const eventColumns = `id, account_id, confirmation_number, status, step, progress_pct, action,
	message, error, transfer_relationship_id, estimated_completion, created_at`
