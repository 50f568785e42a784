// Package domain defines the core types shared across the sunset service:
// brokerage account snapshots, closure steps, action results, transfers and
// audit events.
package domain

import (
	"math"
	"time"
)

// AccountStatus is the brokerage-owned lifecycle status of an account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusInactive  AccountStatus = "INACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
	AccountStatusRejected  AccountStatus = "REJECTED"
	AccountStatusDisabled  AccountStatus = "DISABLED"
)

// PositionSide indicates whether a position is long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Order is a pending brokerage order.
type Order struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Status string  `json:"status"`
}

// Position is a security holding in the account.
type Position struct {
	Symbol      string       `json:"symbol"`
	Qty         float64      `json:"qty"`
	Side        PositionSide `json:"side"`
	MarketValue float64      `json:"market_value"`
}

// AccountSnapshot is a point-in-time view of an account. It is fetched fresh
// for every operation and never persisted as the source of truth.
//
// CashWithdrawable never exceeds CashBalance. It excludes unsettled proceeds
// and cash already committed to pending outgoing transfers.
type AccountSnapshot struct {
	AccountID         string        `json:"account_id"`
	Status            AccountStatus `json:"account_status"`
	OpenOrders        []Order       `json:"open_orders"`
	OpenPositions     []Position    `json:"open_positions"`
	CashBalance       float64       `json:"cash_balance"`
	CashWithdrawable  float64       `json:"cash_withdrawable"`
	PendingWithdrawal float64       `json:"pending_withdrawal"`
	PatternDayTrader  bool          `json:"pattern_day_trader"`
	TradingBlocked    bool          `json:"trading_blocked"`
	TransfersBlocked  bool          `json:"transfers_blocked"`
	AccountBlocked    bool          `json:"account_blocked"`
	FetchedAt         time.Time     `json:"fetched_at"`
}

// PendingSettlement returns the cash that has not settled yet. Cash already
// committed to an outgoing transfer is not counted.
func (s *AccountSnapshot) PendingSettlement() float64 {
	return RoundCents(max(s.CashBalance-s.PendingWithdrawal-s.CashWithdrawable, 0))
}

// HeldCash returns the part of the balance that cannot be withdrawn now,
// whether it is still settling or already on its way out.
func (s *AccountSnapshot) HeldCash() float64 {
	return RoundCents(s.CashBalance - s.CashWithdrawable)
}

// LiquidationResult reports the outcome of a liquidate-all request.
type LiquidationResult struct {
	Success           bool `json:"success"`
	LiquidationOrders int  `json:"liquidation_orders_count"`
}

// TransferStatus is the state of a funds transfer on the external rail.
type TransferStatus string

const (
	TransferStatusQueued         TransferStatus = "QUEUED"
	TransferStatusPending        TransferStatus = "PENDING"
	TransferStatusSentToClearing TransferStatus = "SENT_TO_CLEARING"
	TransferStatusApproved       TransferStatus = "APPROVED"
	TransferStatusComplete       TransferStatus = "COMPLETE"
	TransferStatusSettled        TransferStatus = "SETTLED"
	TransferStatusRejected       TransferStatus = "REJECTED"
	TransferStatusCanceled       TransferStatus = "CANCELED"
	TransferStatusReturned       TransferStatus = "RETURNED"
)

// Transfer directions.
const (
	TransferDirectionOutgoing = "OUTGOING"
	TransferDirectionIncoming = "INCOMING"
)

// Completed reports whether funds have left the account for good.
func (s TransferStatus) Completed() bool {
	return s == TransferStatusComplete || s == TransferStatusSettled
}

// Terminal reports whether the transfer will not change state again.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferStatusComplete, TransferStatusSettled, TransferStatusRejected,
		TransferStatusCanceled, TransferStatusReturned:
		return true
	}
	return false
}

// Transfer is a funds movement between the account and an external bank
// account linked by a transfer relationship.
type Transfer struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	RelationshipID string         `json:"relationship_id"`
	Amount         float64        `json:"amount"`
	Direction      string         `json:"direction"`
	Status         TransferStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RoundCents rounds a dollar amount to the nearest cent.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Cents converts a dollar amount to integer cents.
func Cents(v float64) int64 {
	return int64(math.Round(v * 100))
}
