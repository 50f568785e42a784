// Package httpapi maps the account closure operations onto a JSON REST API.
package httpapi

import (
	"sunset/internal/domain"
)

// InitiateRequest is the body of POST /account-closure/initiate/{account_id}.
type InitiateRequest struct {
	TransferRelationshipID  string `json:"transfer_relationship_id"`
	ConfirmPermanentClosure bool   `json:"confirm_permanent_closure"`
}

// WithdrawRequest is the body of POST /account-closure/withdraw-funds/{account_id}.
// A nil Amount withdraws everything withdrawable.
type WithdrawRequest struct {
	TransferRelationshipID string   `json:"transfer_relationship_id"`
	Amount                 *float64 `json:"amount,omitempty"`
}

// CloseRequest is the body of POST /account-closure/close-account/{account_id}.
type CloseRequest struct {
	FinalConfirmation bool `json:"final_confirmation"`
}

// ResumeRequest is the optional body of POST /account-closure/resume/{account_id}.
type ResumeRequest struct {
	TransferRelationshipID string `json:"transfer_relationship_id,omitempty"`
}

// WithdrawResponse reports an initiated withdrawal.
type WithdrawResponse struct {
	Success    bool                  `json:"success"`
	TransferID string                `json:"transfer_id"`
	Status     domain.TransferStatus `json:"status"`
	Amount     float64               `json:"amount"`
	Message    string                `json:"message,omitempty"`
}

// CloseResponse reports a closed account.
type CloseResponse struct {
	Success       bool                 `json:"success"`
	AccountStatus domain.AccountStatus `json:"account_status"`
	Message       string               `json:"message,omitempty"`
}

// AuditResponse lists the audit trail of one account, oldest first.
type AuditResponse struct {
	AccountID string                `json:"account_id"`
	Events    []domain.ClosureEvent `json:"events"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Success bool               `json:"success"`
	Error   string             `json:"error"`
	Code    string             `json:"code,omitempty"`
	Step    domain.ClosureStep `json:"step,omitempty"`
}
