package closure

import (
	"context"
	"fmt"

	"sunset/internal/domain"
)

// StepResumeError is reported when Resume could not determine the current
// step at all.
const StepResumeError domain.ClosureStep = "resume_error"

type resumeRequest struct {
	accountID      string
	relationshipID string
	status         *domain.ClosureStatus
}

type stepHandler func(ctx context.Context, req resumeRequest) domain.ActionResult

func (s *Service) newResumeTable() map[domain.ClosureStep]stepHandler {
	return map[domain.ClosureStep]stepHandler{
		domain.StepCompleted:            s.resumeCompleted,
		domain.StepFailed:               s.resumeFailed,
		domain.StepLiquidatingPositions: s.resumeLiquidating,
		domain.StepWaitingSettlement:    s.resumeWaitingSettlement,
		domain.StepWithdrawingFunds:     s.resumeWithdrawing,
		domain.StepClosingAccount:       s.resumeClosing,
	}
}

// Resume re-derives the current step from a fresh snapshot and takes the
// single next action for it. It keeps no state between calls, so it is safe
// to call repeatedly from a scheduler or a user retry: every destructive
// branch re-checks eligibility against live data first.
func (s *Service) Resume(ctx context.Context, accountID, relationshipID string) (result domain.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "resume panicked", "account_id", accountID, "panic", r)
			result = domain.ActionResult{Success: false, Step: StepResumeError, Error: fmt.Sprint(r)}
		}
	}()

	status, err := s.GetClosureStatus(ctx, accountID)
	if err != nil {
		s.log.ErrorContext(ctx, "resume status failed", "account_id", accountID, "error", err)
		return domain.ActionResult{Success: false, Step: StepResumeError, Error: err.Error()}
	}

	handler, ok := s.resumeTable[status.CurrentStep]
	if !ok {
		return domain.ActionResult{
			Success: false,
			Step:    status.CurrentStep,
			Code:    domain.CodeUnknownStep,
			Error:   "Unknown closure step",
		}
	}

	result = handler(ctx, resumeRequest{accountID: accountID, relationshipID: relationshipID, status: status})
	s.log.InfoContext(ctx, "closure resumed",
		"account_id", accountID,
		"step", status.CurrentStep,
		"action", result.ActionTaken,
		"success", result.Success,
	)
	return result
}

func (s *Service) resumeCompleted(_ context.Context, _ resumeRequest) domain.ActionResult {
	return domain.ActionResult{
		Success:       true,
		Step:          domain.StepCompleted,
		ActionTaken:   domain.ActionNone,
		Message:       "Account closure already completed",
		AccountStatus: domain.AccountStatusClosed,
	}
}

// resumeFailed restarts liquidation only if the account is eligible again.
func (s *Service) resumeFailed(ctx context.Context, req resumeRequest) domain.ActionResult {
	ready := s.CheckPreconditions(ctx, req.accountID)
	if !ready.Ready {
		return domain.ActionResult{
			Success: false,
			Step:    domain.StepFailed,
			Code:    ready.Code,
			Error:   ready.Reason,
		}
	}
	res := s.LiquidatePositions(ctx, req.accountID)
	if res.Success {
		res.ActionTaken = domain.ActionRestartedLiquidation
	}
	return res
}

func (s *Service) resumeLiquidating(ctx context.Context, req resumeRequest) domain.ActionResult {
	st := req.status
	switch {
	case !st.ReadyForNextStep:
		res := s.LiquidatePositions(ctx, req.accountID)
		if res.Success {
			res.ActionTaken = domain.ActionRetriedLiquidation
		}
		return res
	case s.classifier.IsDust(st.CashBalance):
		return s.CloseAccount(ctx, req.accountID)
	case domain.Cents(st.CashWithdrawable) < domain.Cents(st.CashBalance):
		return s.stillWaiting(st)
	default:
		return s.withdraw(ctx, req)
	}
}

func (s *Service) resumeWaitingSettlement(ctx context.Context, req resumeRequest) domain.ActionResult {
	if !req.status.ReadyForNextStep {
		return s.stillWaiting(req.status)
	}
	return s.withdraw(ctx, req)
}

func (s *Service) resumeWithdrawing(ctx context.Context, req resumeRequest) domain.ActionResult {
	st := req.status
	switch {
	case s.classifier.IsDust(st.CashBalance):
		return s.CloseAccount(ctx, req.accountID)
	case domain.Cents(st.CashWithdrawable) < domain.Cents(st.CashBalance):
		if domain.Cents(st.PendingSettlement) == 0 {
			return s.stillWaiting(st)
		}
		return domain.ActionResult{
			Success:     true,
			Step:        domain.StepWaitingSettlement,
			ActionTaken: domain.ActionWaitingForSettlement,
			Message:     fmt.Sprintf("New unsettled cash of $%.2f appeared; waiting for settlement", st.PendingSettlement),
		}
	default:
		return s.withdraw(ctx, req)
	}
}

func (s *Service) resumeClosing(ctx context.Context, req resumeRequest) domain.ActionResult {
	return s.CloseAccount(ctx, req.accountID)
}

// stillWaiting reports why withdrawable cash is short of the balance:
// unsettled proceeds, a withdrawal still in flight, or both.
func (s *Service) stillWaiting(st *domain.ClosureStatus) domain.ActionResult {
	var msg string
	switch {
	case domain.Cents(st.PendingSettlement) > 0 && domain.Cents(st.PendingWithdrawal) > 0:
		msg = fmt.Sprintf("Waiting for $%.2f to settle and withdrawal of $%.2f to complete; try again later",
			st.PendingSettlement, st.PendingWithdrawal)
	case domain.Cents(st.PendingWithdrawal) > 0:
		msg = fmt.Sprintf("Waiting for withdrawal of $%.2f to complete; try again later", st.PendingWithdrawal)
	default:
		msg = fmt.Sprintf("Waiting for $%.2f to settle; try again later", st.PendingSettlement)
	}
	return domain.ActionResult{
		Success:     true,
		Step:        domain.StepWaitingSettlement,
		ActionTaken: domain.ActionStillWaiting,
		Message:     msg,
	}
}

// withdraw requires a transfer relationship before touching the broker.
func (s *Service) withdraw(ctx context.Context, req resumeRequest) domain.ActionResult {
	if req.relationshipID == "" {
		return domain.ActionResult{
			Success: false,
			Step:    req.status.CurrentStep,
			Code:    domain.CodeRelationshipRequired,
			Error:   fmt.Sprintf("ACH relationship ID required to withdraw funds at step %s", req.status.CurrentStep),
		}
	}
	return s.WithdrawFunds(ctx, req.accountID, req.relationshipID, nil)
}
