// Package sunset is a Go SDK for the sunset account closure API.
package sunset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the sunset-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new sunset API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code,omitempty"`
	Step       string `json:"step,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sunset: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sunset: %d: %s", e.StatusCode, e.Message)
}

// CheckReadiness reports whether the account can be closed. A not-ready
// account is a normal result, not an error.
func (c *Client) CheckReadiness(ctx context.Context, accountID string) (*Readiness, error) {
	var out Readiness
	status, err := c.do(ctx, http.MethodGet, "/account-closure/check-readiness/"+url.PathEscape(accountID), nil, &out)
	if err != nil && status != http.StatusBadRequest {
		return nil, err
	}
	return &out, nil
}

// Initiate starts the automated closure. confirm must be true for the
// server to act.
func (c *Client) Initiate(ctx context.Context, accountID, relationshipID string, confirm bool) (*InitiateResult, error) {
	body := map[string]any{
		"transfer_relationship_id":  relationshipID,
		"confirm_permanent_closure": confirm,
	}
	var out InitiateResult
	if _, err := c.do(ctx, http.MethodPost, "/account-closure/initiate/"+url.PathEscape(accountID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the closure status of an account.
func (c *Client) Status(ctx context.Context, accountID string) (*Status, error) {
	var out Status
	if _, err := c.do(ctx, http.MethodGet, "/account-closure/status/"+url.PathEscape(accountID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdraw requests a withdrawal. A nil amount withdraws everything
// withdrawable.
func (c *Client) Withdraw(ctx context.Context, accountID, relationshipID string, amount *float64) (*WithdrawResult, error) {
	body := map[string]any{"transfer_relationship_id": relationshipID}
	if amount != nil {
		body["amount"] = *amount
	}
	var out WithdrawResult
	if _, err := c.do(ctx, http.MethodPost, "/account-closure/withdraw-funds/"+url.PathEscape(accountID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SettlementStatus reports unsettled cash.
func (c *Client) SettlementStatus(ctx context.Context, accountID string) (*SettlementStatus, error) {
	var out SettlementStatus
	if _, err := c.do(ctx, http.MethodGet, "/account-closure/settlement-status/"+url.PathEscape(accountID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawalStatus reports the state of one withdrawal transfer.
func (c *Client) WithdrawalStatus(ctx context.Context, accountID, transferID string) (*WithdrawalStatus, error) {
	var out WithdrawalStatus
	path := "/account-closure/withdrawal-status/" + url.PathEscape(accountID) + "/" + url.PathEscape(transferID)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close permanently closes an account that holds no assets.
func (c *Client) Close(ctx context.Context, accountID string, confirm bool) (*CloseResult, error) {
	var out CloseResult
	body := map[string]any{"final_confirmation": confirm}
	if _, err := c.do(ctx, http.MethodPost, "/account-closure/close-account/"+url.PathEscape(accountID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume advances the closure by at most one step. Validation failures come
// back as a result with Success false.
func (c *Client) Resume(ctx context.Context, accountID, relationshipID string) (*ActionResult, error) {
	var body any
	if relationshipID != "" {
		body = map[string]any{"transfer_relationship_id": relationshipID}
	}
	var out ActionResult
	if _, err := c.do(ctx, http.MethodPost, "/account-closure/resume/"+url.PathEscape(accountID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Audit returns the closure audit trail, oldest first. limit <= 0 returns
// every event.
func (c *Client) Audit(ctx context.Context, accountID string, limit int) ([]AuditEvent, error) {
	path := "/account-closure/audit/" + url.PathEscape(accountID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out auditResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// do sends the request and decodes the JSON response into out. For non-2xx
// responses the body is decoded into out as well when possible, and an *Error
// is returned alongside the status code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
