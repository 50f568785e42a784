package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunset/internal/config"
	"sunset/internal/domain"
)

func TestNewBrokerSeedsSimulator(t *testing.T) {
	cfg := config.Default()
	cfg.Simulator = config.Simulator{
		Accounts: []config.SimAccount{
			{
				ID:          "paper-1",
				SettledCash: 250,
				OpenOrders:  []string{"TSLA"},
				Positions:   []config.SimPosition{{Symbol: "AAPL", Qty: 5, MarketValue: 950}},
			},
			{ID: "paper-closed", Status: "CLOSED"},
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, cal := newBroker(cfg, log)
	assert.Nil(t, cal)
	assert.Equal(t, "simulator", b.Name())

	snap, err := b.GetAccountInfo(context.Background(), "paper-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, snap.Status)
	assert.Equal(t, 250.0, snap.CashBalance)
	require.Len(t, snap.OpenOrders, 1)
	assert.Equal(t, "TSLA", snap.OpenOrders[0].Symbol)
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, domain.PositionSideLong, snap.OpenPositions[0].Side)

	snap, err = b.GetAccountInfo(context.Background(), "paper-closed")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusClosed, snap.Status)

	_, err = b.GetAccountInfo(context.Background(), "unseeded")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestShippedConfigSeedsPaperAccounts(t *testing.T) {
	t.Setenv("SUNSET_BROKER", "")
	t.Setenv("POSTGRES_DSN", "")
	cfg, err := config.Load("../../config/sunset.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Simulator.Accounts)

	b, _ := newBroker(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, a := range cfg.Simulator.Accounts {
		_, err := b.GetAccountInfo(context.Background(), a.ID)
		assert.NoError(t, err, a.ID)
	}
}
