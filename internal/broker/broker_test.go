package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunset/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://broker-api.sandbox.alpaca.markets", 1, nil, discardLogger())
	assert.Equal(t, "alpaca", b.Name())
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(1)
	assert.Equal(t, "simulator", b.Name())
}

func TestSimulatorSettlementFlow(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(1)
	b.AddAccount(SimAccount{
		ID:          "acct-1",
		Orders:      []domain.Order{{ID: "o1", Symbol: "AAPL", Side: "buy", Qty: 1}},
		Positions:   []domain.Position{{Symbol: "AAPL", Qty: 10, Side: domain.PositionSideLong, MarketValue: 1900}},
		SettledCash: 100,
	})

	n, err := b.CancelAllOrders(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := b.LiquidatePositions(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.LiquidationOrders)

	snap, err := b.GetAccountInfo(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, snap.OpenPositions)
	assert.Equal(t, 2000.0, snap.CashBalance)
	assert.Equal(t, 100.0, snap.CashWithdrawable)

	require.NoError(t, b.Settle("acct-1"))
	snap, err = b.GetAccountInfo(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, snap.CashWithdrawable)

	_, err = b.WithdrawFunds(ctx, "acct-1", "rel-1", 2500)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	tr, err := b.WithdrawFunds(ctx, "acct-1", "rel-1", 2000)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusQueued, tr.Status)

	snap, err = b.GetAccountInfo(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, snap.CashBalance)
	assert.Equal(t, 0.0, snap.CashWithdrawable)
	assert.Equal(t, 2000.0, snap.PendingWithdrawal)

	assert.ErrorIs(t, b.CloseAccount(ctx, "acct-1"), domain.ErrAssetsRemaining)

	require.NoError(t, b.CompleteTransfer("acct-1", tr.ID))
	got, err := b.GetTransfer(ctx, "acct-1", tr.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Completed())

	require.NoError(t, b.CloseAccount(ctx, "acct-1"))
	snap, err = b.GetAccountInfo(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusClosed, snap.Status)
}

func TestSimulatorAutoSettle(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(1)
	b.SetAutoSettle(true)
	b.AddAccount(SimAccount{
		ID:        "paper",
		Positions: []domain.Position{{Symbol: "SPY", Qty: 1, MarketValue: 500}},
	})

	_, err := b.LiquidatePositions(ctx, "paper")
	require.NoError(t, err)
	snap, err := b.GetAccountInfo(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 500.0, snap.CashWithdrawable)

	tr, err := b.WithdrawFunds(ctx, "paper", "rel", 500)
	require.NoError(t, err)
	snap, err = b.GetAccountInfo(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.CashBalance)
	assert.Equal(t, 0.0, snap.PendingWithdrawal)

	got, err := b.GetTransfer(ctx, "paper", tr.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Completed())
	require.NoError(t, b.CloseAccount(ctx, "paper"))
}

func TestSimulatorUnknownAccount(t *testing.T) {
	b := NewSimulatorBroker(1)
	_, err := b.GetAccountInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	b.AddAccount(SimAccount{ID: "acct-1"})
	_, err = b.GetTransfer(context.Background(), "acct-1", "nope")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

// fakeBrokerAPI serves the subset of Broker API routes the adapter uses.
func fakeBrokerAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()

	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /v1/trading/accounts/{id}/account", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "account")
		if r.PathValue("id") == "missing" {
			write(w, http.StatusNotFound, map[string]any{"code": 40410000, "message": "account not found"})
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			write(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
			return
		}
		write(w, http.StatusOK, map[string]any{
			"id":                 r.PathValue("id"),
			"status":             "ACTIVE",
			"cash":               "1500.25",
			"cash_withdrawable":  "1200.25",
			"pattern_day_trader": true,
		})
	})
	mux.HandleFunc("GET /v1/trading/accounts/{id}/orders", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "orders")
		write(w, http.StatusOK, []map[string]any{
			{"id": "o-1", "symbol": "MSFT", "side": "sell", "qty": "3", "status": "new"},
		})
	})
	mux.HandleFunc("GET /v1/trading/accounts/{id}/positions", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "positions")
		write(w, http.StatusOK, []map[string]any{
			{"symbol": "MSFT", "qty": "3", "side": "long", "market_value": "1260.30"},
		})
	})
	mux.HandleFunc("GET /v1/accounts/{id}/transfers", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "transfers")
		write(w, http.StatusOK, []map[string]any{
			{"id": "t-1", "relationship_id": "rel-1", "status": "QUEUED", "amount": "200.00", "direction": "OUTGOING"},
			{"id": "t-0", "relationship_id": "rel-1", "status": "COMPLETE", "amount": "50.00", "direction": "OUTGOING"},
		})
	})
	mux.HandleFunc("POST /v1/accounts/{id}/transfers", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "create-transfer")
		var body createTransferRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		write(w, http.StatusOK, map[string]any{
			"id": "t-2", "relationship_id": body.RelationshipID, "status": "QUEUED",
			"amount": body.Amount, "direction": body.Direction,
		})
	})
	mux.HandleFunc("DELETE /v1/trading/accounts/{id}/positions", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "liquidate:"+r.URL.Query().Get("cancel_orders"))
		write(w, http.StatusMultiStatus, []map[string]any{{"symbol": "MSFT", "status": 200}})
	})
	mux.HandleFunc("DELETE /v1/trading/accounts/{id}/orders", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "cancel")
		write(w, http.StatusMultiStatus, []map[string]any{{"id": "o-1", "status": 200}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAlpacaBrokerGetAccountInfo(t *testing.T) {
	srv, _ := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())

	snap, err := b.GetAccountInfo(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, domain.AccountStatusActive, snap.Status)
	assert.Equal(t, 1500.25, snap.CashBalance)
	// 1200.25 withdrawable minus the queued 200.00 transfer.
	assert.Equal(t, 1000.25, snap.CashWithdrawable)
	assert.Equal(t, 200.0, snap.PendingWithdrawal)
	assert.True(t, snap.PatternDayTrader)
	require.Len(t, snap.OpenOrders, 1)
	assert.Equal(t, 3.0, snap.OpenOrders[0].Qty)
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, 1260.30, snap.OpenPositions[0].MarketValue)
}

func TestAlpacaBrokerNotFound(t *testing.T) {
	srv, _ := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())

	_, err := b.GetAccountInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAlpacaBrokerLiquidateAndCancel(t *testing.T) {
	srv, calls := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())
	ctx := context.Background()

	n, err := b.CancelAllOrders(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := b.LiquidatePositions(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.LiquidationOrders)
	assert.Contains(t, *calls, "liquidate:true")
}

func TestAlpacaBrokerWithdraw(t *testing.T) {
	srv, calls := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())
	ctx := context.Background()

	_, err := b.WithdrawFunds(ctx, "acct-1", "rel-1", 5000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.NotContains(t, *calls, "create-transfer")

	tr, err := b.WithdrawFunds(ctx, "acct-1", "rel-1", 1000.25)
	require.NoError(t, err)
	assert.Equal(t, "t-2", tr.ID)
	assert.Equal(t, 1000.25, tr.Amount)
	assert.Equal(t, domain.TransferStatusQueued, tr.Status)
}

func TestAlpacaBrokerGetTransfer(t *testing.T) {
	srv, _ := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())
	ctx := context.Background()

	tr, err := b.GetTransfer(ctx, "acct-1", "t-0")
	require.NoError(t, err)
	assert.True(t, tr.Status.Completed())

	_, err = b.GetTransfer(ctx, "acct-1", "t-404")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestAlpacaBrokerCloseRefusesWithAssets(t *testing.T) {
	srv, _ := fakeBrokerAPI(t)
	b := NewAlpacaBroker("key", "secret", srv.URL, 1, nil, discardLogger())

	err := b.CloseAccount(context.Background(), "acct-1")
	assert.ErrorIs(t, err, domain.ErrAssetsRemaining)
}

func TestMapAccountStatus(t *testing.T) {
	tests := map[string]domain.AccountStatus{
		"ACTIVE":         domain.AccountStatusActive,
		"account_closed": domain.AccountStatusClosed,
		"DISABLED":       domain.AccountStatusDisabled,
		"ONBOARDING":     domain.AccountStatus("ONBOARDING"),
	}
	for in, want := range tests {
		assert.Equal(t, want, mapAccountStatus(in), in)
	}
}
