// Package broker defines the Broker interface the closure workflow depends on
// and provides implementations backed by the Alpaca Broker API and an
// in-memory simulator.
package broker

import (
	"context"

	"sunset/internal/domain"
)

// Broker abstracts the brokerage operations needed to close an account. Every
// method is idempotent or safe to retry; implementations must never cache
// account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetAccountInfo returns a fresh snapshot of the account. It returns
	// domain.ErrAccountNotFound if the brokerage does not know the account.
	GetAccountInfo(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)

	// CancelAllOrders cancels every open order and returns how many were
	// canceled. It is best-effort.
	CancelAllOrders(ctx context.Context, accountID string) (int, error)

	// LiquidatePositions submits market-close orders for every open
	// position. Zero positions is a successful no-op.
	LiquidatePositions(ctx context.Context, accountID string) (*domain.LiquidationResult, error)

	// WithdrawFunds initiates an outgoing transfer over the given
	// relationship. It returns domain.ErrInsufficientFunds if amount exceeds
	// the withdrawable cash.
	WithdrawFunds(ctx context.Context, accountID, relationshipID string, amount float64) (*domain.Transfer, error)

	// GetTransfer looks up a transfer by id. It returns
	// domain.ErrTransferNotFound if the id is unknown.
	GetTransfer(ctx context.Context, accountID, transferID string) (*domain.Transfer, error)

	// CloseAccount closes the account. It returns domain.ErrAssetsRemaining
	// when positions, orders or cash above the dust threshold remain.
	CloseAccount(ctx context.Context, accountID string) error
}
