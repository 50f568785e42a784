package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"sunset/internal/broker"
	"sunset/internal/domain"
)

// Service exposes the closure operations. Each operation reads a fresh
// snapshot, validates, and performs at most one destructive brokerage call.
// Broker errors are converted into failed results; they never escape.
type Service struct {
	broker      broker.Broker
	classifier  Classifier
	log         *slog.Logger
	resumeTable map[domain.ClosureStep]stepHandler
}

// NewService creates a Service wired with the given broker and classifier.
func NewService(b broker.Broker, c Classifier, log *slog.Logger) *Service {
	s := &Service{
		broker:     b,
		classifier: c,
		log:        log.With("component", "closure"),
	}
	s.resumeTable = s.newResumeTable()
	return s
}

// Classifier returns the classifier used by the service.
func (s *Service) Classifier() Classifier {
	return s.classifier
}

// CheckPreconditions reports whether closure may start. It has no side
// effects.
func (s *Service) CheckPreconditions(ctx context.Context, accountID string) domain.Readiness {
	snap, err := s.broker.GetAccountInfo(ctx, accountID)
	if err != nil {
		s.log.ErrorContext(ctx, "precondition check failed", "account_id", accountID, "error", err)
		return domain.Readiness{Ready: false, Reason: err.Error(), Error: err.Error()}
	}

	r := domain.Readiness{
		Ready:         true,
		AccountStatus: snap.Status,
		OpenOrders:    len(snap.OpenOrders),
		OpenPositions: len(snap.OpenPositions),
		CashBalance:   snap.CashBalance,
	}

	switch {
	case snap.Status == domain.AccountStatusClosed:
		r.Ready, r.Code, r.Reason = false, domain.CodeAlreadyClosed, "Account is already closed"
	case snap.Status != domain.AccountStatusActive:
		r.Ready, r.Code = false, domain.CodeNotReady
		r.Reason = fmt.Sprintf("Account status is %s; closure requires an ACTIVE account", snap.Status)
	case snap.AccountBlocked:
		r.Ready, r.Code, r.Reason = false, domain.CodeNotReady, "Account is blocked by the brokerage"
	case snap.TradingBlocked:
		r.Ready, r.Code, r.Reason = false, domain.CodeNotReady, "Trading is blocked on this account; positions cannot be liquidated"
	case snap.TransfersBlocked:
		r.Ready, r.Code, r.Reason = false, domain.CodeNotReady, "Transfers are blocked on this account; funds cannot be withdrawn"
	case snap.PatternDayTrader:
		r.Ready, r.Code, r.Reason = false, domain.CodeNotReady, "Account has a pattern day trading restriction; contact support to close it"
	}
	return r
}

// LiquidatePositions cancels open orders (best-effort) and submits market
// close orders for every position. It does not wait for fills. Zero
// positions is a success with a liquidation count of zero.
func (s *Service) LiquidatePositions(ctx context.Context, accountID string) domain.ActionResult {
	canceled, err := s.broker.CancelAllOrders(ctx, accountID)
	if err != nil {
		s.log.WarnContext(ctx, "cancel orders failed", "account_id", accountID, "error", err)
	}

	res, err := s.broker.LiquidatePositions(ctx, accountID)
	if err != nil {
		s.log.ErrorContext(ctx, "liquidation failed", "account_id", accountID, "error", err)
		return domain.ActionResult{
			Success:        false,
			Step:           domain.StepLiquidatingPositions,
			Error:          err.Error(),
			OrdersCanceled: canceled,
		}
	}

	s.log.InfoContext(ctx, "liquidation submitted",
		"account_id", accountID, "orders_canceled", canceled, "liquidation_orders", res.LiquidationOrders)
	return domain.ActionResult{
		Success:           true,
		Step:              domain.StepLiquidatingPositions,
		ActionTaken:       domain.ActionLiquidatedPositions,
		Message:           fmt.Sprintf("Submitted %d liquidation orders", res.LiquidationOrders),
		OrdersCanceled:    canceled,
		LiquidationOrders: res.LiquidationOrders,
	}
}

// WithdrawFunds withdraws cash over the transfer relationship. A nil amount
// withdraws everything currently withdrawable.
func (s *Service) WithdrawFunds(ctx context.Context, accountID, relationshipID string, amount *float64) domain.ActionResult {
	fail := func(code, msg string) domain.ActionResult {
		return domain.ActionResult{Success: false, Step: domain.StepWithdrawingFunds, Code: code, Error: msg}
	}

	if strings.TrimSpace(relationshipID) == "" {
		return fail(domain.CodeRelationshipRequired, "ACH relationship ID required for fund withdrawal")
	}

	snap, err := s.broker.GetAccountInfo(ctx, accountID)
	if err != nil {
		return fail("", err.Error())
	}
	if s.classifier.IsDust(snap.CashWithdrawable) {
		return fail(domain.CodeNoWithdrawableFunds, "No withdrawable funds")
	}

	want := snap.CashWithdrawable
	if amount != nil {
		want = domain.RoundCents(*amount)
		if domain.Cents(want) <= 0 {
			return fail(domain.CodeInvalidAmount, "Withdrawal amount must be positive")
		}
		if domain.Cents(want) > domain.Cents(snap.CashWithdrawable) {
			return fail(domain.CodeAmountExceedsWithdrawable,
				fmt.Sprintf("Requested $%.2f exceeds withdrawable $%.2f", want, snap.CashWithdrawable))
		}
	}

	t, err := s.broker.WithdrawFunds(ctx, accountID, relationshipID, want)
	if err != nil {
		s.log.ErrorContext(ctx, "withdrawal failed", "account_id", accountID, "amount", want, "error", err)
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return fail(domain.CodeAmountExceedsWithdrawable, err.Error())
		}
		return fail("", err.Error())
	}

	s.log.InfoContext(ctx, "withdrawal initiated",
		"account_id", accountID, "transfer_id", t.ID, "amount", t.Amount, "status", t.Status)
	return domain.ActionResult{
		Success:        true,
		Step:           domain.StepWithdrawingFunds,
		ActionTaken:    domain.ActionWithdrewFunds,
		Message:        fmt.Sprintf("Withdrawal of $%.2f initiated", t.Amount),
		TransferID:     t.ID,
		TransferStatus: t.Status,
		Amount:         t.Amount,
	}
}

// CloseAccount closes the account once no positions, orders or cash above
// the threshold remain. It never force-closes.
func (s *Service) CloseAccount(ctx context.Context, accountID string) domain.ActionResult {
	snap, err := s.broker.GetAccountInfo(ctx, accountID)
	if err != nil {
		return domain.ActionResult{Success: false, Step: domain.StepClosingAccount, Error: err.Error()}
	}
	if snap.Status == domain.AccountStatusClosed {
		return domain.ActionResult{
			Success:       true,
			Step:          domain.StepCompleted,
			ActionTaken:   domain.ActionNone,
			Message:       "Account is already closed",
			AccountStatus: snap.Status,
		}
	}

	var reasons []string
	if n := len(snap.OpenPositions); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d open positions", n))
	}
	if n := len(snap.OpenOrders); n > 0 {
		reasons = append(reasons, fmt.Sprintf("%d open orders", n))
	}
	if !s.classifier.IsDust(snap.CashBalance) {
		reasons = append(reasons, fmt.Sprintf("$%.2f remaining", snap.CashBalance))
	}
	if len(reasons) > 0 {
		return domain.ActionResult{
			Success:       false,
			Step:          domain.StepClosingAccount,
			Code:          domain.CodeAssetsRemaining,
			Error:         "Cannot close account: " + strings.Join(reasons, ", "),
			AccountStatus: snap.Status,
		}
	}

	if err := s.broker.CloseAccount(ctx, accountID); err != nil {
		s.log.ErrorContext(ctx, "close account failed", "account_id", accountID, "error", err)
		res := domain.ActionResult{Success: false, Step: domain.StepClosingAccount, Error: err.Error(), AccountStatus: snap.Status}
		if errors.Is(err, domain.ErrAssetsRemaining) {
			res.Code = domain.CodeAssetsRemaining
		}
		return res
	}

	s.log.InfoContext(ctx, "account closed", "account_id", accountID)
	return domain.ActionResult{
		Success:       true,
		Step:          domain.StepCompleted,
		ActionTaken:   domain.ActionClosedAccount,
		Message:       "Account closed",
		AccountStatus: domain.AccountStatusClosed,
	}
}

// GetClosureStatus builds the composite status view from one snapshot.
// Broker errors are returned so callers can tell an unknown account
// (domain.ErrAccountNotFound) from an outage.
func (s *Service) GetClosureStatus(ctx context.Context, accountID string) (*domain.ClosureStatus, error) {
	snap, err := s.broker.GetAccountInfo(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(snap), nil
}

func (s *Service) statusOf(snap *domain.AccountSnapshot) *domain.ClosureStatus {
	step := s.classifier.DetermineCurrentStep(snap)
	return &domain.ClosureStatus{
		AccountID:         snap.AccountID,
		AccountStatus:     snap.Status,
		CurrentStep:       step,
		StepProgress:      s.classifier.progress(step, snap),
		ReadyForNextStep:  s.classifier.IsReadyForNextStep(step, snap),
		OpenOrders:        len(snap.OpenOrders),
		OpenPositions:     len(snap.OpenPositions),
		CashBalance:       snap.CashBalance,
		CashWithdrawable:  snap.CashWithdrawable,
		PendingSettlement: snap.PendingSettlement(),
		PendingWithdrawal: snap.PendingWithdrawal,
		CanRetry:          step != domain.StepCompleted,
	}
}

// SettlementStatus reports how much cash is still settling.
func (s *Service) SettlementStatus(ctx context.Context, accountID string) (*domain.SettlementStatus, error) {
	snap, err := s.broker.GetAccountInfo(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.SettlementStatus{
		SettlementComplete:         !s.classifier.settling(snap),
		CashAvailableForWithdrawal: snap.CashWithdrawable,
		PendingSettlement:          snap.PendingSettlement(),
	}, nil
}

// WithdrawalStatus reports the state of a transfer created during closure.
func (s *Service) WithdrawalStatus(ctx context.Context, accountID, transferID string) (*domain.WithdrawalStatus, error) {
	t, err := s.broker.GetTransfer(ctx, accountID, transferID)
	if err != nil {
		return nil, err
	}
	return &domain.WithdrawalStatus{
		TransferID:        t.ID,
		TransferCompleted: t.Status.Completed(),
		TransferStatus:    t.Status,
		Amount:            t.Amount,
	}, nil
}
