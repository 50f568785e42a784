package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"SUNSET_CONFIG", "SUNSET_BROKER", "PORT",
	"BROKER_API_KEY", "BROKER_API_SECRET", "ALPACA_BASE_URL", "ALPACA_TRADING_URL",
	"SQLITE_PATH", "POSTGRES_DSN", "REDIS_ADDR", "REDIS_PASSWORD",
	"CLOSURE_DE_MINIMIS", "LOG_LEVEL", "LOG_FORMAT",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sunset.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 8181
  grpc_port: 0
broker:
  name: alpaca
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://broker-api.alpaca.markets"
storage:
  driver: sqlite
  sqlite_path: "/tmp/sunset/audit.db"
closure:
  de_minimis: 50
  sweep_interval: 5m
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Server.Addr(); got != "127.0.0.1:8181" {
		t.Errorf("Server.Addr() = %q, want %q", got, "127.0.0.1:8181")
	}
	if got := cfg.Server.GRPCAddr(); got != "" {
		t.Errorf("Server.GRPCAddr() = %q, want empty", got)
	}
	if cfg.Broker.Name != "alpaca" {
		t.Errorf("Broker.Name = %q, want %q", cfg.Broker.Name, "alpaca")
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.BaseURL != "https://broker-api.alpaca.markets" {
		t.Errorf("Alpaca.BaseURL = %q", cfg.Alpaca.BaseURL)
	}
	if cfg.Storage.SQLitePath != "/tmp/sunset/audit.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Closure.DeMinimis != 50 {
		t.Errorf("Closure.DeMinimis = %v, want 50", cfg.Closure.DeMinimis)
	}
	if cfg.Closure.SweepInterval != 5*time.Minute {
		t.Errorf("Closure.SweepInterval = %v, want 5m", cfg.Closure.SweepInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	// Fields absent from the file keep their defaults.
	if cfg.Closure.TransferDays != 3 {
		t.Errorf("Closure.TransferDays = %d, want 3", cfg.Closure.TransferDays)
	}
	if cfg.Alpaca.RateLimitPerMin != 200 {
		t.Errorf("Alpaca.RateLimitPerMin = %d, want 200", cfg.Alpaca.RateLimitPerMin)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Name != "simulator" {
		t.Errorf("Broker.Name = %q, want simulator", cfg.Broker.Name)
	}
	if cfg.Closure.DeMinimis != 1.00 {
		t.Errorf("Closure.DeMinimis = %v, want 1.00", cfg.Closure.DeMinimis)
	}
	if got := cfg.Server.GRPCAddr(); got != "0.0.0.0:9090" {
		t.Errorf("Server.GRPCAddr() = %q, want %q", got, "0.0.0.0:9090")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "file-key"
  api_secret: "file-secret"
`)
	t.Setenv("SUNSET_BROKER", "alpaca")
	t.Setenv("BROKER_API_KEY", "broker-key")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/sunset")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PORT", "9999")
	t.Setenv("CLOSURE_DE_MINIMIS", "0.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want APCA_API_KEY_ID to win", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "file-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "file-secret")
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Closure.DeMinimis != 0.5 {
		t.Errorf("Closure.DeMinimis = %v, want 0.5", cfg.Closure.DeMinimis)
	}
}

func TestLoadSimulatorAccounts(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
simulator:
  auto_settle: true
  accounts:
    - id: paper-1
      settled_cash: 1200.50
      unsettled_cash: 300
      open_orders: [AAPL]
      positions:
        - symbol: MSFT
          qty: 2
          market_value: 840
    - id: paper-closed
      status: CLOSED
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Simulator.AutoSettle {
		t.Error("Simulator.AutoSettle = false, want true")
	}
	accts := cfg.Simulator.Accounts
	if len(accts) != 2 {
		t.Fatalf("Simulator.Accounts = %d, want 2", len(accts))
	}
	a := accts[0]
	if a.ID != "paper-1" || a.SettledCash != 1200.50 || a.UnsettledCash != 300 {
		t.Errorf("accounts[0] = %+v", a)
	}
	if len(a.Positions) != 1 || a.Positions[0].Symbol != "MSFT" || a.Positions[0].MarketValue != 840 {
		t.Errorf("accounts[0].Positions = %+v", a.Positions)
	}
	if len(a.OpenOrders) != 1 || a.OpenOrders[0] != "AAPL" {
		t.Errorf("accounts[0].OpenOrders = %v, want [AAPL]", a.OpenOrders)
	}
	if accts[1].Status != "CLOSED" {
		t.Errorf("accounts[1].Status = %q, want CLOSED", accts[1].Status)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown broker", func(c *Config) { c.Broker.Name = "ibkr" }},
		{"alpaca without credentials", func(c *Config) { c.Broker.Name = "alpaca" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"negative threshold", func(c *Config) { c.Closure.DeMinimis = -1 }},
		{"simulator account without id", func(c *Config) {
			c.Simulator.Accounts = []SimAccount{{SettledCash: 5}}
		}},
		{"duplicate simulator account", func(c *Config) {
			c.Simulator.Accounts = []SimAccount{{ID: "a"}, {ID: "a"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("SUNSET_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("SUNSET_CONFIG", "/etc/sunset.yaml")
	if got := Path(); got != "/etc/sunset.yaml" {
		t.Errorf("Path() = %q, want %q", got, "/etc/sunset.yaml")
	}
}
