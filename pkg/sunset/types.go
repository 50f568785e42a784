package sunset

import "time"

// Readiness is the result of a closure precondition check.
type Readiness struct {
	Ready         bool    `json:"ready"`
	Reason        string  `json:"reason,omitempty"`
	Code          string  `json:"code,omitempty"`
	Error         string  `json:"error,omitempty"`
	AccountStatus string  `json:"account_status,omitempty"`
	OpenOrders    int     `json:"open_orders"`
	OpenPositions int     `json:"open_positions"`
	CashBalance   float64 `json:"cash_balance"`
}

// StepProgress flags the milestones an account has passed.
type StepProgress struct {
	OrdersCanceled      bool `json:"orders_canceled"`
	PositionsLiquidated bool `json:"positions_liquidated"`
	SettlementComplete  bool `json:"settlement_complete"`
	FundsWithdrawn      bool `json:"funds_withdrawn"`
	AccountClosed       bool `json:"account_closed"`
}

// Status is the closure status of one account.
type Status struct {
	AccountID         string       `json:"account_id"`
	AccountStatus     string       `json:"account_status"`
	CurrentStep       string       `json:"current_step"`
	StepProgress      StepProgress `json:"step_progress"`
	ReadyForNextStep  bool         `json:"ready_for_next_step"`
	OpenOrders        int          `json:"open_orders"`
	OpenPositions     int          `json:"open_positions"`
	CashBalance       float64      `json:"cash_balance"`
	CashWithdrawable  float64      `json:"cash_withdrawable"`
	PendingSettlement float64      `json:"pending_settlement"`
	PendingWithdrawal float64      `json:"pending_withdrawal"`
	CanRetry          bool         `json:"can_retry"`
}

// ActionResult is the outcome of a resume call.
type ActionResult struct {
	Success           bool    `json:"success"`
	Step              string  `json:"step"`
	ActionTaken       string  `json:"action_taken,omitempty"`
	Message           string  `json:"message,omitempty"`
	Error             string  `json:"error,omitempty"`
	Code              string  `json:"code,omitempty"`
	TransferID        string  `json:"transfer_id,omitempty"`
	TransferStatus    string  `json:"transfer_status,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
	OrdersCanceled    int     `json:"orders_canceled"`
	LiquidationOrders int     `json:"liquidation_orders_count"`
	AccountStatus     string  `json:"account_status,omitempty"`
}

// InitiateResult is returned when an automated closure starts.
type InitiateResult struct {
	ActionResult
	PositionsLiquidated int        `json:"positions_liquidated"`
	ConfirmationNumber  string     `json:"confirmation_number,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// WithdrawResult reports an initiated withdrawal.
type WithdrawResult struct {
	Success    bool    `json:"success"`
	TransferID string  `json:"transfer_id"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount"`
	Message    string  `json:"message,omitempty"`
}

// CloseResult reports a closed account.
type CloseResult struct {
	Success       bool   `json:"success"`
	AccountStatus string `json:"account_status"`
	Message       string `json:"message,omitempty"`
}

// SettlementStatus describes how much cash is still settling.
type SettlementStatus struct {
	SettlementComplete         bool    `json:"settlement_complete"`
	CashAvailableForWithdrawal float64 `json:"cash_available_for_withdrawal"`
	PendingSettlement          float64 `json:"pending_settlement"`
}

// WithdrawalStatus describes one withdrawal transfer.
type WithdrawalStatus struct {
	TransferID        string  `json:"transfer_id"`
	TransferCompleted bool    `json:"transfer_completed"`
	TransferStatus    string  `json:"transfer_status"`
	Amount            float64 `json:"amount"`
}

// AuditEvent is one record of the closure audit trail.
type AuditEvent struct {
	ID                     int64      `json:"id"`
	AccountID              string     `json:"account_id"`
	ConfirmationNumber     string     `json:"confirmation_number,omitempty"`
	Status                 string     `json:"status"`
	Step                   string     `json:"step"`
	ProgressPct            int        `json:"progress_pct"`
	Action                 string     `json:"action,omitempty"`
	Message                string     `json:"message,omitempty"`
	Error                  string     `json:"error,omitempty"`
	TransferRelationshipID string     `json:"transfer_relationship_id,omitempty"`
	EstimatedCompletion    *time.Time `json:"estimated_completion,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

type auditResponse struct {
	AccountID string       `json:"account_id"`
	Events    []AuditEvent `json:"events"`
}
