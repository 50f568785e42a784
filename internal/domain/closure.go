package domain

import "time"

// ClosureStep is a stage of the account closure workflow. The current step is
// always derived from an AccountSnapshot, never stored as control state.
type ClosureStep string

const (
	StepInitiated            ClosureStep = "INITIATED"
	StepCancelingOrders      ClosureStep = "CANCELING_ORDERS"
	StepLiquidatingPositions ClosureStep = "LIQUIDATING_POSITIONS"
	StepWaitingSettlement    ClosureStep = "WAITING_SETTLEMENT"
	StepWithdrawingFunds     ClosureStep = "WITHDRAWING_FUNDS"
	StepClosingAccount       ClosureStep = "CLOSING_ACCOUNT"
	StepCompleted            ClosureStep = "COMPLETED"
	StepFailed               ClosureStep = "FAILED"
)

// Actions reported in ActionResult.ActionTaken.
const (
	ActionNone                 = "none"
	ActionLiquidatedPositions  = "liquidated_positions"
	ActionRestartedLiquidation = "restarted_liquidation"
	ActionRetriedLiquidation   = "retried_liquidation"
	ActionWithdrewFunds        = "withdrew_funds"
	ActionClosedAccount        = "closed_account"
	ActionStillWaiting         = "still_waiting"
	ActionWaitingForSettlement = "waiting_for_settlement"
)

// Validation codes carried by failed results. A failure without a code is an
// opaque system error.
const (
	CodeNotReady                  = "not_ready"
	CodeAlreadyClosed             = "already_closed"
	CodeNoWithdrawableFunds       = "no_withdrawable_funds"
	CodeAmountExceedsWithdrawable = "amount_exceeds_withdrawable"
	CodeInvalidAmount             = "invalid_amount"
	CodeRelationshipRequired      = "relationship_required"
	CodeAssetsRemaining           = "assets_remaining"
	CodeUnknownStep               = "unknown_step"
)

// ActionResult is the outcome of one closure operation.
type ActionResult struct {
	Success           bool           `json:"success"`
	Step              ClosureStep    `json:"step"`
	ActionTaken       string         `json:"action_taken,omitempty"`
	Message           string         `json:"message,omitempty"`
	Error             string         `json:"error,omitempty"`
	Code              string         `json:"code,omitempty"`
	TransferID        string         `json:"transfer_id,omitempty"`
	TransferStatus    TransferStatus `json:"transfer_status,omitempty"`
	Amount            float64        `json:"amount,omitempty"`
	OrdersCanceled    int            `json:"orders_canceled"`
	LiquidationOrders int            `json:"liquidation_orders_count"`
	AccountStatus     AccountStatus  `json:"account_status,omitempty"`
}

// Validation reports whether the failure was caused by caller input or
// account eligibility rather than a system error.
func (r *ActionResult) Validation() bool {
	return !r.Success && r.Code != ""
}

// Readiness is the result of a precondition check.
type Readiness struct {
	Ready         bool          `json:"ready"`
	Reason        string        `json:"reason,omitempty"`
	Code          string        `json:"code,omitempty"`
	Error         string        `json:"error,omitempty"`
	AccountStatus AccountStatus `json:"account_status,omitempty"`
	OpenOrders    int           `json:"open_orders"`
	OpenPositions int           `json:"open_positions"`
	CashBalance   float64       `json:"cash_balance"`
}

// StepProgress flags which milestones the account has already passed.
type StepProgress struct {
	OrdersCanceled      bool `json:"orders_canceled"`
	PositionsLiquidated bool `json:"positions_liquidated"`
	SettlementComplete  bool `json:"settlement_complete"`
	FundsWithdrawn      bool `json:"funds_withdrawn"`
	AccountClosed       bool `json:"account_closed"`
}

// ClosureStatus is a read-only composite view built from one snapshot.
type ClosureStatus struct {
	AccountID         string        `json:"account_id"`
	AccountStatus     AccountStatus `json:"account_status"`
	CurrentStep       ClosureStep   `json:"current_step"`
	StepProgress      StepProgress  `json:"step_progress"`
	ReadyForNextStep  bool          `json:"ready_for_next_step"`
	OpenOrders        int           `json:"open_orders"`
	OpenPositions     int           `json:"open_positions"`
	CashBalance       float64       `json:"cash_balance"`
	CashWithdrawable  float64       `json:"cash_withdrawable"`
	PendingSettlement float64       `json:"pending_settlement"`
	PendingWithdrawal float64       `json:"pending_withdrawal"`
	CanRetry          bool          `json:"can_retry"`
}

// SettlementStatus describes how much cash is still settling.
type SettlementStatus struct {
	SettlementComplete         bool    `json:"settlement_complete"`
	CashAvailableForWithdrawal float64 `json:"cash_available_for_withdrawal"`
	PendingSettlement          float64 `json:"pending_settlement"`
}

// WithdrawalStatus describes a transfer initiated during closure.
type WithdrawalStatus struct {
	TransferID        string         `json:"transfer_id"`
	TransferCompleted bool           `json:"transfer_completed"`
	TransferStatus    TransferStatus `json:"transfer_status"`
	Amount            float64        `json:"amount"`
}

// Closure process statuses recorded in the audit trail.
const (
	ProcessInProgress = "in_progress"
	ProcessCompleted  = "completed"
	ProcessFailed     = "failed"
)

// ClosureEvent is one append-only audit record of the automated closure
// process. It is observability data; the workflow never reads it back to
// decide what to do next.
type ClosureEvent struct {
	ID                     int64       `json:"id"`
	AccountID              string      `json:"account_id"`
	ConfirmationNumber     string      `json:"confirmation_number,omitempty"`
	Status                 string      `json:"status"`
	Step                   ClosureStep `json:"step"`
	ProgressPct            int         `json:"progress_pct"`
	Action                 string      `json:"action,omitempty"`
	Message                string      `json:"message,omitempty"`
	Error                  string      `json:"error,omitempty"`
	TransferRelationshipID string      `json:"transfer_relationship_id,omitempty"`
	EstimatedCompletion    *time.Time  `json:"estimated_completion,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
}
