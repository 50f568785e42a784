package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"sunset/internal/domain"
	"sunset/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca Broker API.
// Trading resources are addressed per account under /v1/trading/accounts and
// decoded into the trading SDK types, which share the same wire format.
type AlpacaBroker struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	dust       float64
	httpClient *http.Client
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. limiter may be nil to disable pacing.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, dust float64, limiter *util.RateLimiter, log *slog.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dust:       dust,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		log:        log.With("component", "alpaca-broker"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// APIError is a non-2xx response from the Broker API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("alpaca: http %d", e.StatusCode)
	}
	return fmt.Sprintf("alpaca: http %d: %s", e.StatusCode, e.Message)
}

// accountExtras carries Broker API fields the trading SDK account type does
// not model. The SDK types are decoded separately since they implement their
// own unmarshalers.
type accountExtras struct {
	CashWithdrawable decimal.Decimal `json:"cash_withdrawable"`
}

type positionExtras struct {
	MarketValue decimal.NullDecimal `json:"market_value"`
}

type orderExtras struct {
	Qty decimal.NullDecimal `json:"qty"`
}

type closePositionResult struct {
	Symbol string `json:"symbol"`
	Status int    `json:"status"`
}

type cancelOrderResult struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

type transferEntity struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	RelationshipID string          `json:"relationship_id"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      string          `json:"direction"`
	CreatedAt      time.Time       `json:"created_at"`
}

type createTransferRequest struct {
	TransferType   string `json:"transfer_type"`
	RelationshipID string `json:"relationship_id"`
	Amount         string `json:"amount"`
	Direction      string `json:"direction"`
}

// GetAccountInfo assembles a snapshot from the trading account, open orders,
// positions and outgoing transfers. Cash committed to outgoing transfers that
// have not completed is excluded from the withdrawable amount.
func (b *AlpacaBroker) GetAccountInfo(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	id := url.PathEscape(accountID)

	var (
		acct      alpacaapi.Account
		acctExt   accountExtras
		orders    []alpacaapi.Order
		orderExt  []orderExtras
		positions []alpacaapi.Position
		posExt    []positionExtras
	)
	if err := b.doDual(ctx, "/v1/trading/accounts/"+id+"/account", &acct, &acctExt); err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	if err := b.doDual(ctx, "/v1/trading/accounts/"+id+"/orders?status=open", &orders, &orderExt); err != nil {
		return nil, fmt.Errorf("list orders %s: %w", accountID, err)
	}
	if err := b.doDual(ctx, "/v1/trading/accounts/"+id+"/positions", &positions, &posExt); err != nil {
		return nil, fmt.Errorf("list positions %s: %w", accountID, err)
	}

	transfers, err := b.listTransfers(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var pending float64
	for _, t := range transfers {
		if t.Direction == domain.TransferDirectionOutgoing && !t.Status.Terminal() {
			pending += t.Amount
		}
	}
	pending = domain.RoundCents(pending)

	cash := domain.RoundCents(acct.Cash.InexactFloat64())
	withdrawable := domain.RoundCents(acctExt.CashWithdrawable.InexactFloat64() - pending)
	withdrawable = min(max(withdrawable, 0), max(cash, 0))

	snap := &domain.AccountSnapshot{
		AccountID:         accountID,
		Status:            mapAccountStatus(string(acct.Status)),
		OpenOrders:        make([]domain.Order, 0, len(orders)),
		OpenPositions:     make([]domain.Position, 0, len(positions)),
		CashBalance:       cash,
		CashWithdrawable:  withdrawable,
		PendingWithdrawal: pending,
		PatternDayTrader:  acct.PatternDayTrader,
		TradingBlocked:    acct.TradingBlocked,
		TransfersBlocked:  acct.TransfersBlocked,
		AccountBlocked:    acct.AccountBlocked,
		FetchedAt:         time.Now(),
	}
	for i, o := range orders {
		var qty float64
		if i < len(orderExt) {
			qty = orderExt[i].Qty.Decimal.InexactFloat64()
		}
		snap.OpenOrders = append(snap.OpenOrders, domain.Order{
			ID:     o.ID,
			Symbol: o.Symbol,
			Side:   string(o.Side),
			Qty:    qty,
			Status: string(o.Status),
		})
	}
	for i, p := range positions {
		var value float64
		if i < len(posExt) {
			value = posExt[i].MarketValue.Decimal.InexactFloat64()
		}
		side := domain.PositionSideLong
		if p.Qty.IsNegative() || strings.EqualFold(string(p.Side), "short") {
			side = domain.PositionSideShort
		}
		snap.OpenPositions = append(snap.OpenPositions, domain.Position{
			Symbol:      p.Symbol,
			Qty:         p.Qty.InexactFloat64(),
			Side:        side,
			MarketValue: domain.RoundCents(value),
		})
	}
	return snap, nil
}

// CancelAllOrders cancels every open order on the account.
func (b *AlpacaBroker) CancelAllOrders(ctx context.Context, accountID string) (int, error) {
	var results []cancelOrderResult
	path := "/v1/trading/accounts/" + url.PathEscape(accountID) + "/orders"
	if err := b.do(ctx, http.MethodDelete, path, nil, &results); err != nil {
		return 0, fmt.Errorf("cancel orders %s: %w", accountID, err)
	}

	canceled := 0
	for _, r := range results {
		if r.Status >= 200 && r.Status < 300 {
			canceled++
		} else {
			b.log.WarnContext(ctx, "order cancel rejected", "account_id", accountID, "order_id", r.ID, "status", r.Status)
		}
	}
	return canceled, nil
}

// LiquidatePositions closes every position with market orders, canceling any
// open orders that hold shares first.
func (b *AlpacaBroker) LiquidatePositions(ctx context.Context, accountID string) (*domain.LiquidationResult, error) {
	var results []closePositionResult
	path := "/v1/trading/accounts/" + url.PathEscape(accountID) + "/positions?cancel_orders=true"
	if err := b.do(ctx, http.MethodDelete, path, nil, &results); err != nil {
		return nil, fmt.Errorf("liquidate %s: %w", accountID, err)
	}

	var failed []string
	submitted := 0
	for _, r := range results {
		if r.Status >= 200 && r.Status < 300 {
			submitted++
		} else {
			failed = append(failed, r.Symbol)
		}
	}
	if len(failed) > 0 {
		return &domain.LiquidationResult{Success: false, LiquidationOrders: submitted},
			fmt.Errorf("liquidate %s: close rejected for %s", accountID, strings.Join(failed, ", "))
	}
	return &domain.LiquidationResult{Success: true, LiquidationOrders: submitted}, nil
}

// WithdrawFunds creates an outgoing ACH transfer after re-checking the
// withdrawable balance.
func (b *AlpacaBroker) WithdrawFunds(ctx context.Context, accountID, relationshipID string, amount float64) (*domain.Transfer, error) {
	snap, err := b.GetAccountInfo(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if domain.Cents(amount) <= 0 || domain.Cents(amount) > domain.Cents(snap.CashWithdrawable) {
		return nil, fmt.Errorf("withdraw $%.2f of $%.2f: %w", amount, snap.CashWithdrawable, domain.ErrInsufficientFunds)
	}

	req := createTransferRequest{
		TransferType:   "ach",
		RelationshipID: relationshipID,
		Amount:         decimal.NewFromFloat(amount).StringFixed(2),
		Direction:      domain.TransferDirectionOutgoing,
	}
	var t transferEntity
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/transfers"
	if err := b.do(ctx, http.MethodPost, path, req, &t); err != nil {
		return nil, fmt.Errorf("create transfer %s: %w", accountID, err)
	}

	b.log.InfoContext(ctx, "transfer created",
		"account_id", accountID, "transfer_id", t.ID, "amount", req.Amount, "status", t.Status)
	out := t.toDomain()
	return &out, nil
}

// GetTransfer looks up one transfer of the account.
func (b *AlpacaBroker) GetTransfer(ctx context.Context, accountID, transferID string) (*domain.Transfer, error) {
	transfers, err := b.listTransfers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range transfers {
		if transfers[i].ID == transferID {
			return &transfers[i], nil
		}
	}
	return nil, fmt.Errorf("transfer %s: %w", transferID, domain.ErrTransferNotFound)
}

// CloseAccount re-validates that nothing of value remains and then requests
// closure.
func (b *AlpacaBroker) CloseAccount(ctx context.Context, accountID string) error {
	snap, err := b.GetAccountInfo(ctx, accountID)
	if err != nil {
		return err
	}
	if len(snap.OpenPositions) > 0 || len(snap.OpenOrders) > 0 || domain.Cents(snap.CashBalance) >= domain.Cents(b.dust) {
		return fmt.Errorf("close %s: %d positions, %d orders, $%.2f cash: %w",
			accountID, len(snap.OpenPositions), len(snap.OpenOrders), snap.CashBalance, domain.ErrAssetsRemaining)
	}

	path := "/v1/accounts/" + url.PathEscape(accountID) + "/actions/close"
	if err := b.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("close %s: %w", accountID, err)
	}
	b.log.InfoContext(ctx, "account closed", "account_id", accountID)
	return nil
}

func (b *AlpacaBroker) listTransfers(ctx context.Context, accountID string) ([]domain.Transfer, error) {
	var entities []transferEntity
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/transfers"
	if err := b.do(ctx, http.MethodGet, path, nil, &entities); err != nil {
		return nil, fmt.Errorf("list transfers %s: %w", accountID, err)
	}
	out := make([]domain.Transfer, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.toDomain())
	}
	return out, nil
}

func (t transferEntity) toDomain() domain.Transfer {
	return domain.Transfer{
		ID:             t.ID,
		AccountID:      t.AccountID,
		RelationshipID: t.RelationshipID,
		Amount:         domain.RoundCents(t.Amount.InexactFloat64()),
		Direction:      strings.ToUpper(t.Direction),
		Status:         domain.TransferStatus(strings.ToUpper(t.Status)),
		CreatedAt:      t.CreatedAt,
	}
}

// doDual GETs path and decodes the body into both the SDK value and the
// extras value.
func (b *AlpacaBroker) doDual(ctx context.Context, path string, sdk, extras any) error {
	var raw json.RawMessage
	if err := b.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, sdk); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, extras); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// do sends one request and decodes the JSON response into out (if non-nil).
// A 404 is reported as domain.ErrAccountNotFound.
func (b *AlpacaBroker) do(ctx context.Context, method, path string, body, out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(b.apiKey, b.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Join(domain.ErrAccountNotFound, apiErr)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// mapAccountStatus normalises Broker API account statuses.
func mapAccountStatus(s string) domain.AccountStatus {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return domain.AccountStatusActive
	case "ACCOUNT_CLOSED", "CLOSED":
		return domain.AccountStatusClosed
	case "INACTIVE":
		return domain.AccountStatusInactive
	case "DISABLED", "ACCOUNT_DISABLED":
		return domain.AccountStatusDisabled
	case "REJECTED":
		return domain.AccountStatusRejected
	case "SUSPENDED":
		return domain.AccountStatusSuspended
	default:
		return domain.AccountStatus(strings.ToUpper(s))
	}
}

// LoadTradingCalendar fetches trading days from the Alpaca trading calendar
// for [start, end] and loads them into a TradingCalendar.
func LoadTradingCalendar(apiKey, apiSecret, baseURL string, start, end time.Time) (*util.TradingCalendar, error) {
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	days, err := client.GetCalendar(alpacaapi.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days returned from calendar")
	}

	dates := make([]string, 0, len(days))
	for _, d := range days {
		dates = append(dates, d.Date)
	}
	cal := util.NewTradingCalendar(nil)
	cal.SetTradingDays(dates)
	return cal, nil
}
