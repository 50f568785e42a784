package domain

import "errors"

var (
	// ErrAccountNotFound is returned when the brokerage does not know the account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransferNotFound is returned when a transfer id is unknown.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrInsufficientFunds is returned when a withdrawal exceeds withdrawable cash.
	ErrInsufficientFunds = errors.New("amount exceeds withdrawable cash")

	// ErrAssetsRemaining is returned when closing an account that still holds
	// positions, orders or cash.
	ErrAssetsRemaining = errors.New("account still holds assets")

	// ErrLockHeld is returned when another worker holds the account lock.
	ErrLockHeld = errors.New("lock already held")

	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("not found")
)
