// Package closure drives a brokerage account through closure. The current
// step is inferred from a fresh account snapshot on every call, so the
// workflow can be resumed at any time without a persisted progress cursor.
package closure

import "sunset/internal/domain"

// DefaultDeMinimis is the residual cash treated as effectively zero.
const DefaultDeMinimis = 1.00

// Classifier infers closure steps from account snapshots. It holds no state
// besides its threshold and is safe for concurrent use.
type Classifier struct {
	deMinimisCents int64
}

// NewClassifier creates a Classifier using deMinimis dollars as the dust
// threshold. Non-positive values fall back to DefaultDeMinimis.
func NewClassifier(deMinimis float64) Classifier {
	if deMinimis <= 0 {
		deMinimis = DefaultDeMinimis
	}
	return Classifier{deMinimisCents: domain.Cents(deMinimis)}
}

// DeMinimis returns the dust threshold in dollars.
func (c Classifier) DeMinimis() float64 {
	return float64(c.deMinimisCents) / 100
}

// DetermineCurrentStep returns the workflow step the account is in. It is a
// pure function of the snapshot; rules are evaluated in order:
//
//  1. closed account: COMPLETED
//  2. rejected, disabled or blocked account: FAILED
//  3. open orders or positions: LIQUIDATING_POSITIONS
//  4. unsettled cash: WAITING_SETTLEMENT
//  5. withdrawable cash at or above the threshold: WITHDRAWING_FUNDS
//  6. otherwise: CLOSING_ACCOUNT
func (c Classifier) DetermineCurrentStep(s *domain.AccountSnapshot) domain.ClosureStep {
	switch {
	case s.Status == domain.AccountStatusClosed:
		return domain.StepCompleted
	case s.Status == domain.AccountStatusRejected, s.Status == domain.AccountStatusDisabled, s.AccountBlocked:
		return domain.StepFailed
	case len(s.OpenOrders) > 0 || len(s.OpenPositions) > 0:
		return domain.StepLiquidatingPositions
	case c.cashHeld(s):
		return domain.StepWaitingSettlement
	case domain.Cents(s.CashWithdrawable) >= c.deMinimisCents:
		return domain.StepWithdrawingFunds
	default:
		return domain.StepClosingAccount
	}
}

// IsReadyForNextStep evaluates the exit condition of step against the
// snapshot.
func (c Classifier) IsReadyForNextStep(step domain.ClosureStep, s *domain.AccountSnapshot) bool {
	switch step {
	case domain.StepInitiated, domain.StepCompleted:
		return true
	case domain.StepCancelingOrders:
		return len(s.OpenOrders) == 0
	case domain.StepLiquidatingPositions:
		return len(s.OpenOrders) == 0 && len(s.OpenPositions) == 0
	case domain.StepWaitingSettlement:
		return !c.cashHeld(s)
	case domain.StepWithdrawingFunds:
		return c.IsDust(s.CashBalance)
	case domain.StepClosingAccount:
		return len(s.OpenOrders) == 0 && len(s.OpenPositions) == 0 && c.IsDust(s.CashBalance)
	default:
		return false
	}
}

// IsDust reports whether amount is below the de-minimis threshold.
func (c Classifier) IsDust(amount float64) bool {
	return domain.Cents(amount) < c.deMinimisCents
}

// cashHeld reports whether part of the balance cannot be withdrawn yet,
// either because it is settling or because a transfer is in flight.
func (c Classifier) cashHeld(s *domain.AccountSnapshot) bool {
	return domain.Cents(s.HeldCash()) > 0
}

// settling reports whether trade proceeds are still unsettled.
func (c Classifier) settling(s *domain.AccountSnapshot) bool {
	return domain.Cents(s.PendingSettlement()) > 0
}

// progress returns the milestone flags implied by the snapshot.
func (c Classifier) progress(step domain.ClosureStep, s *domain.AccountSnapshot) domain.StepProgress {
	closed := s.Status == domain.AccountStatusClosed
	liquidated := closed || (len(s.OpenOrders) == 0 && len(s.OpenPositions) == 0)
	settled := liquidated && !c.settling(s)
	// Withdrawn once nothing withdrawable is left; an in-flight transfer
	// counts as withdrawn.
	withdrawn := settled && step != domain.StepFailed &&
		c.IsDust(s.CashWithdrawable) && c.IsDust(s.CashBalance-s.PendingWithdrawal)
	return domain.StepProgress{
		OrdersCanceled:      closed || len(s.OpenOrders) == 0,
		PositionsLiquidated: liquidated,
		SettlementComplete:  settled,
		FundsWithdrawn:      closed || withdrawn,
		AccountClosed:       closed,
	}
}
