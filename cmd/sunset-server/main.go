package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sunset/internal/api"
	"sunset/internal/broker"
	"sunset/internal/closure"
	"sunset/internal/config"
	"sunset/internal/domain"
	"sunset/internal/httpapi"
	"sunset/internal/lock"
	"sunset/internal/process"
	"sunset/internal/store"
	"sunset/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sunset-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, cal := newBroker(cfg, logger)

	var st store.AuditStore
	err := util.Retry(ctx, 5, time.Second, func(ctx context.Context) error {
		var err error
		st, err = store.Open(ctx, cfg.Storage.Driver, cfg.Storage.SQLitePath, store.PostgresConfig{
			DSN:      cfg.Storage.PostgresDSN,
			MaxConns: cfg.Storage.MaxConns,
		})
		return err
	}, func(attempt int, err error) {
		logger.Warn("opening audit store", "attempt", attempt, "driver", cfg.Storage.Driver, "error", err)
	})
	if err != nil {
		return err
	}
	defer st.Close()

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		var rl *lock.RedisLocker
		err := util.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
			var err error
			rl, err = lock.NewRedisLocker(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			return err
		}, nil)
		if err != nil {
			// Without the lock a single replica is still safe.
			logger.Warn("redis lock unavailable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rl.Close()
			locker = rl
		}
	}

	classifier := closure.NewClassifier(cfg.Closure.DeMinimis)
	svc := closure.NewService(b, classifier, logger)
	runner := process.NewRunner(svc, st, locker, cal, process.Options{
		SettlementDays: cfg.Closure.SettlementDays,
		TransferDays:   cfg.Closure.TransferDays,
		LockTTL:        cfg.Closure.LockTTL,
	}, logger)
	defer runner.Close()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	sweeper := process.NewSweeper(runner, st, cfg.Closure.SweepInterval, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweeper.Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	handler := httpapi.NewServer(svc, runner, st, logger).Handler()
	srv := api.NewServer(cfg.Server.Addr(), cfg.Server.GRPCAddr(), handler, logger)

	logger.Info("sunset-server starting",
		"broker", b.Name(),
		"storage", cfg.Storage.Driver,
		"de_minimis", cfg.Closure.DeMinimis,
	)
	err = srv.ListenAndServe(ctx)
	logger.Info("shutting down sunset-server")
	// The sweeper must stop before the runner closes its audit queue.
	cancelSweep()
	<-sweepDone
	return err
}

// newBroker builds the configured broker. For Alpaca the trading calendar is
// loaded too; on failure the weekday calendar is used.
func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, *util.TradingCalendar) {
	if cfg.Broker.Name != "alpaca" {
		sim := broker.NewSimulatorBroker(cfg.Closure.DeMinimis)
		sim.SetAutoSettle(cfg.Simulator.AutoSettle)
		for _, a := range simAccounts(cfg.Simulator) {
			sim.AddAccount(a)
		}
		logger.Warn("using in-memory simulator broker",
			"accounts", len(cfg.Simulator.Accounts), "auto_settle", cfg.Simulator.AutoSettle)
		return sim, nil
	}

	limiter := util.NewRateLimiter(cfg.Alpaca.RateLimitPerMin, 10)
	b := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		cfg.Closure.DeMinimis, limiter, logger)

	now := time.Now()
	cal, err := broker.LoadTradingCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.TradingURL,
		now.AddDate(0, 0, -7), now.AddDate(0, 3, 0))
	if err != nil {
		logger.Warn("loading trading calendar, falling back to weekdays", "error", err)
		return b, nil
	}
	return b, cal
}

func simAccounts(cfg config.Simulator) []broker.SimAccount {
	out := make([]broker.SimAccount, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		acct := broker.SimAccount{
			ID:               a.ID,
			Status:           domain.AccountStatus(a.Status),
			SettledCash:      a.SettledCash,
			UnsettledCash:    a.UnsettledCash,
			PatternDayTrader: a.PatternDayTrader,
			TradingBlocked:   a.TradingBlocked,
			TransfersBlocked: a.TransfersBlocked,
			AccountBlocked:   a.AccountBlocked,
		}
		for _, p := range a.Positions {
			acct.Positions = append(acct.Positions, domain.Position{
				Symbol:      p.Symbol,
				Qty:         p.Qty,
				Side:        domain.PositionSideLong,
				MarketValue: p.MarketValue,
			})
		}
		for i, sym := range a.OpenOrders {
			acct.Orders = append(acct.Orders, domain.Order{
				ID:     fmt.Sprintf("%s-%d", a.ID, i+1),
				Symbol: sym,
				Side:   "buy",
				Status: "new",
			})
		}
		out = append(out, acct)
	}
	return out
}
