// Package config loads the sunset service configuration from YAML with
// environment and .env overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when SUNSET_CONFIG is unset.
const DefaultPath = "config/sunset.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the sunset service.
type Config struct {
	Server    Server    `yaml:"server"`
	Broker    Broker    `yaml:"broker"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Simulator Simulator `yaml:"simulator"`
	Storage   Storage   `yaml:"storage"`
	Redis     Redis     `yaml:"redis"`
	Closure   Closure   `yaml:"closure"`
	Logging   Logging   `yaml:"logging"`
}

// Server holds network listener configuration. A zero GRPCPort disables the
// gRPC health listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Broker selects the brokerage adapter: "alpaca" or "simulator".
type Broker struct {
	Name string `yaml:"name"`
}

// Alpaca holds credentials and endpoints for the Alpaca Broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	TradingURL      string `yaml:"trading_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Simulator seeds the in-memory broker used in paper mode.
type Simulator struct {
	// AutoSettle settles cash and completes transfers on the next read.
	AutoSettle bool         `yaml:"auto_settle"`
	Accounts   []SimAccount `yaml:"accounts"`
}

// SimAccount is one paper account.
type SimAccount struct {
	ID               string        `yaml:"id"`
	Status           string        `yaml:"status"`
	SettledCash      float64       `yaml:"settled_cash"`
	UnsettledCash    float64       `yaml:"unsettled_cash"`
	Positions        []SimPosition `yaml:"positions"`
	OpenOrders       []string      `yaml:"open_orders"`
	PatternDayTrader bool          `yaml:"pattern_day_trader"`
	TradingBlocked   bool          `yaml:"trading_blocked"`
	TransfersBlocked bool          `yaml:"transfers_blocked"`
	AccountBlocked   bool          `yaml:"account_blocked"`
}

// SimPosition is a paper holding.
type SimPosition struct {
	Symbol      string  `yaml:"symbol"`
	Qty         float64 `yaml:"qty"`
	MarketValue float64 `yaml:"market_value"`
}

// Storage selects and configures the audit store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int    `yaml:"max_conns"`
}

// Redis configures the advisory account lock. An empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Closure holds workflow thresholds and timings.
type Closure struct {
	DeMinimis      float64       `yaml:"de_minimis"`
	SettlementDays int           `yaml:"settlement_days"`
	TransferDays   int           `yaml:"transfer_days"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for any field the file leaves out.
func Default() *Config {
	return &Config{
		Server: Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Broker: Broker{Name: "simulator"},
		Alpaca: Alpaca{
			BaseURL:         "https://broker-api.sandbox.alpaca.markets",
			TradingURL:      "https://paper-api.alpaca.markets",
			RateLimitPerMin: 200,
		},
		Storage: Storage{Driver: "sqlite", SQLitePath: "data/sunset.db", MaxConns: 4},
		Closure: Closure{
			DeMinimis:      1.00,
			SettlementDays: 1,
			TransferDays:   3,
			SweepInterval:  15 * time.Minute,
			LockTTL:        2 * time.Minute,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration file path from SUNSET_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("SUNSET_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at path over the defaults, then
// applies .env and environment variable overrides. A missing file is not an
// error; the defaults and environment are used instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Broker.Name {
	case "simulator":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("broker alpaca requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("unknown broker %q", c.Broker.Name)
	}

	seen := make(map[string]bool, len(c.Simulator.Accounts))
	for _, a := range c.Simulator.Accounts {
		if a.ID == "" {
			return fmt.Errorf("simulator account without id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate simulator account %q", a.ID)
		}
		seen[a.ID] = true
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage driver sqlite requires sqlite_path")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage driver postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Closure.DeMinimis < 0 {
		return fmt.Errorf("closure.de_minimis must not be negative")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the gRPC listen address, or "" when disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUNSET_BROKER"); v != "" {
		cfg.Broker.Name = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_TRADING_URL"); v != "" {
		cfg.Alpaca.TradingURL = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
		cfg.Storage.Driver = "postgres"
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("CLOSURE_DE_MINIMIS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Closure.DeMinimis = f
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars take priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
