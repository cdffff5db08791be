package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	DriverMemory   = "memory"
)

// Reconciler confirmation modes
const (
	ConfirmDemo    = "demo"
	ConfirmOnchain = "onchain"
)

type Config struct {
	// Telegram
	BotToken    string `env:"BOT_TOKEN"`
	InboxChatID int64  `env:"INBOX_CHAT_ID"`

	// HTTP
	HTTPPort   int    `env:"HTTP_PORT" envDefault:"8080"`
	AdminToken string `env:"ADMIN_TOKEN"`

	// Database
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"DB_DSN" envDefault:"./anchor.db"`

	// Lighthouse
	LighthouseAPIKey     string `env:"LIGHTHOUSE_API_KEY"`
	LighthouseUploadURL  string `env:"LIGHTHOUSE_UPLOAD_URL" envDefault:"https://node.lighthouse.storage/api/v0/add"`
	LighthouseGatewayURL string `env:"LIGHTHOUSE_GATEWAY_URL" envDefault:"https://gateway.lighthouse.storage/ipfs"`

	// Ledger
	AnchorRPC            string        `env:"ANCHOR_RPC"`
	AnchorPrivateKey     string        `env:"ANCHOR_PK"`
	AnchorContract       string        `env:"ANCHOR_ADDR"`
	AnchorBeneficiary    string        `env:"ANCHOR_BENEFICIARY"`
	AnchorNamespace      string        `env:"ANCHOR_NAMESPACE" envDefault:"did:web:lighthouse.storage"`
	AnchorConfirmTimeout time.Duration `env:"ANCHOR_CONFIRM_TIMEOUT" envDefault:"2m"`

	// Pipeline
	ReprocessAnchored bool `env:"REPROCESS_ANCHORED" envDefault:"false"`

	// Reconciler
	ConfirmMode       string        `env:"CONFIRM_MODE" envDefault:"demo"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.ConfirmMode = strings.ToLower(strings.TrimSpace(cfg.ConfirmMode))
	cfg.LighthouseGatewayURL = strings.TrimSuffix(cfg.LighthouseGatewayURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that parse but cannot work together.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %s, %s or %s, got %q", DriverSQLite, DriverPostgres, DriverMemory, c.DBDriver)
	}

	switch c.ConfirmMode {
	case ConfirmDemo:
	case ConfirmOnchain:
		if !c.LedgerEnabled() {
			return fmt.Errorf("CONFIRM_MODE=onchain requires ANCHOR_RPC, ANCHOR_PK and ANCHOR_ADDR")
		}
	default:
		return fmt.Errorf("CONFIRM_MODE must be %s or %s, got %q", ConfirmDemo, ConfirmOnchain, c.ConfirmMode)
	}

	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.AnchorConfirmTimeout <= 0 {
		return fmt.Errorf("ANCHOR_CONFIRM_TIMEOUT must be positive")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	return nil
}

// LedgerEnabled reports whether ledger credentials are configured.
func (c *Config) LedgerEnabled() bool {
	return c.AnchorRPC != "" && c.AnchorPrivateKey != "" && c.AnchorContract != ""
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
