package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sunset/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimAccount seeds an account held by the SimulatorBroker.
type SimAccount struct {
	ID               string
	Status           domain.AccountStatus
	Orders           []domain.Order
	Positions        []domain.Position
	SettledCash      float64
	UnsettledCash    float64
	PatternDayTrader bool
	TradingBlocked   bool
	TransfersBlocked bool
	AccountBlocked   bool
}

type simAccount struct {
	SimAccount
	transfers map[string]*domain.Transfer
}

// SimulatorBroker implements the Broker interface for paper mode and tests.
// It keeps accounts in memory and models settlement: liquidation proceeds are
// unsettled until Settle is called, and withdrawals hold cash until
// CompleteTransfer is called.
type SimulatorBroker struct {
	mu         sync.Mutex
	accounts   map[string]*simAccount
	dust       float64
	autoSettle bool
	calls      map[string]int
	now        func() time.Time
}

// NewSimulatorBroker creates a new SimulatorBroker with no accounts. dust is
// the residual cash below which CloseAccount accepts the account.
func NewSimulatorBroker(dust float64) *SimulatorBroker {
	return &SimulatorBroker{
		accounts: make(map[string]*simAccount),
		dust:     dust,
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// AddAccount stores (or replaces) an account.
func (b *SimulatorBroker) AddAccount(a SimAccount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.Status == "" {
		a.Status = domain.AccountStatusActive
	}
	b.accounts[a.ID] = &simAccount{SimAccount: a, transfers: make(map[string]*domain.Transfer)}
}

// SetAutoSettle makes every account read first settle unsettled cash and
// complete queued transfers, so a paper closure can run to completion
// without Settle and CompleteTransfer calls.
func (b *SimulatorBroker) SetAutoSettle(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoSettle = on
}

// Settle moves all unsettled cash to settled cash.
func (b *SimulatorBroker) Settle(accountID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.settle()
	return nil
}

// CompleteTransfer marks a pending transfer complete and removes its amount
// from the account.
func (b *SimulatorBroker) CompleteTransfer(accountID, transferID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	t, ok := a.transfers[transferID]
	if !ok {
		return domain.ErrTransferNotFound
	}
	a.complete(t)
	return nil
}

// CallCount returns how many times the named Broker method was invoked.
func (b *SimulatorBroker) CallCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// GetAccountInfo returns a snapshot of the simulated account.
func (b *SimulatorBroker) GetAccountInfo(_ context.Context, accountID string) (*domain.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["GetAccountInfo"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}

	if b.autoSettle {
		a.settle()
		for _, t := range a.transfers {
			a.complete(t)
		}
	}

	pending := a.pendingOut()
	snap := &domain.AccountSnapshot{
		AccountID:         a.ID,
		Status:            a.Status,
		OpenOrders:        append([]domain.Order(nil), a.Orders...),
		OpenPositions:     append([]domain.Position(nil), a.Positions...),
		CashBalance:       domain.RoundCents(a.SettledCash + a.UnsettledCash),
		CashWithdrawable:  domain.RoundCents(max(a.SettledCash-pending, 0)),
		PendingWithdrawal: pending,
		PatternDayTrader:  a.PatternDayTrader,
		TradingBlocked:    a.TradingBlocked,
		TransfersBlocked:  a.TransfersBlocked,
		AccountBlocked:    a.AccountBlocked,
		FetchedAt:         b.now(),
	}
	return snap, nil
}

// CancelAllOrders drops every open order.
func (b *SimulatorBroker) CancelAllOrders(_ context.Context, accountID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["CancelAllOrders"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	n := len(a.Orders)
	a.Orders = nil
	return n, nil
}

// LiquidatePositions fills a market-close order for every position at its
// market value. Proceeds stay unsettled until Settle.
func (b *SimulatorBroker) LiquidatePositions(_ context.Context, accountID string) (*domain.LiquidationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["LiquidatePositions"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	n := len(a.Positions)
	for _, p := range a.Positions {
		a.UnsettledCash = domain.RoundCents(a.UnsettledCash + p.MarketValue)
	}
	a.Positions = nil
	return &domain.LiquidationResult{Success: true, LiquidationOrders: n}, nil
}

// WithdrawFunds queues an outgoing transfer.
func (b *SimulatorBroker) WithdrawFunds(_ context.Context, accountID, relationshipID string, amount float64) (*domain.Transfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["WithdrawFunds"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	withdrawable := a.SettledCash - a.pendingOut()
	if domain.Cents(amount) > domain.Cents(withdrawable) {
		return nil, fmt.Errorf("simulator: withdraw $%.2f of $%.2f: %w", amount, withdrawable, domain.ErrInsufficientFunds)
	}
	t := &domain.Transfer{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		RelationshipID: relationshipID,
		Amount:         domain.RoundCents(amount),
		Direction:      domain.TransferDirectionOutgoing,
		Status:         domain.TransferStatusQueued,
		CreatedAt:      b.now(),
	}
	a.transfers[t.ID] = t
	out := *t
	return &out, nil
}

// GetTransfer returns a copy of the transfer.
func (b *SimulatorBroker) GetTransfer(_ context.Context, accountID, transferID string) (*domain.Transfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["GetTransfer"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	t, ok := a.transfers[transferID]
	if !ok {
		return nil, fmt.Errorf("simulator: transfer %s: %w", transferID, domain.ErrTransferNotFound)
	}
	out := *t
	return &out, nil
}

// CloseAccount closes the account if nothing of value remains.
func (b *SimulatorBroker) CloseAccount(_ context.Context, accountID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["CloseAccount"]++

	a, ok := b.accounts[accountID]
	if !ok {
		return fmt.Errorf("simulator: %s: %w", accountID, domain.ErrAccountNotFound)
	}
	balance := a.SettledCash + a.UnsettledCash
	if len(a.Positions) > 0 || len(a.Orders) > 0 || domain.Cents(balance) >= domain.Cents(b.dust) {
		return fmt.Errorf("simulator: close %s: %w", accountID, domain.ErrAssetsRemaining)
	}
	a.Status = domain.AccountStatusClosed
	return nil
}

func (a *simAccount) settle() {
	a.SettledCash = domain.RoundCents(a.SettledCash + a.UnsettledCash)
	a.UnsettledCash = 0
}

func (a *simAccount) complete(t *domain.Transfer) {
	if t.Status.Terminal() {
		return
	}
	t.Status = domain.TransferStatusComplete
	a.SettledCash = domain.RoundCents(a.SettledCash - t.Amount)
}

// pendingOut sums outgoing transfers that have not reached a terminal state.
func (a *simAccount) pendingOut() float64 {
	var sum float64
	for _, t := range a.transfers {
		if !t.Status.Terminal() {
			sum += t.Amount
		}
	}
	return domain.RoundCents(sum)
}
