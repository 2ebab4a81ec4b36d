package server

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ServerVersion is reported in labels and handshake replies.
const ServerVersion = "1.0.0"

// Mod-control join policies.
const (
	ModPolicyLog    = "log"
	ModPolicyReject = "reject"
)

// Config holds process-wide configuration. Per-match settings (name,
// password, mode, player cap) come from the create-match request.
type Config struct {
	Addr       string `env:"WS_ADDR" envDefault:":8080"`
	DataPath   string `env:"DATA_PATH" envDefault:"./data/matchserver.db"`
	PublicHost string `env:"PUBLIC_HOST" envDefault:"localhost"`
	PublicPort int    `env:"PUBLIC_PORT" envDefault:"8080"`
	Region     string `env:"REGION" envDefault:"default"`

	// Match lifecycle
	MaxEmptySec  int           `env:"MAX_EMPTY_SEC" envDefault:"300"`
	SaveInterval time.Duration `env:"SAVE_INTERVAL" envDefault:"60s"`

	// Asset broker quotas
	MaxCraftsPerUser int `env:"MAX_CRAFTS_PER_USER" envDefault:"10"`
	MaxFolders       int `env:"MAX_FOLDERS" envDefault:"50"`
	MaxAssetKB       int `env:"MAX_ASSET_KB" envDefault:"2048"`

	// Mod-control enforcement at join: "log" or "reject".
	ModControlPolicy string `env:"MOD_CONTROL_POLICY" envDefault:"log"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from an optional .env file plus the
// environment. Environment variables win over .env entries.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enum fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.MaxEmptySec < 0 {
		return fmt.Errorf("MAX_EMPTY_SEC must be >= 0, got %d", c.MaxEmptySec)
	}
	if c.MaxCraftsPerUser < 1 {
		return fmt.Errorf("MAX_CRAFTS_PER_USER must be > 0, got %d", c.MaxCraftsPerUser)
	}
	if c.MaxFolders < 1 {
		return fmt.Errorf("MAX_FOLDERS must be > 0, got %d", c.MaxFolders)
	}
	if c.ModControlPolicy != ModPolicyLog && c.ModControlPolicy != ModPolicyReject {
		return fmt.Errorf("MOD_CONTROL_POLICY must be %q or %q, got %q", ModPolicyLog, ModPolicyReject, c.ModControlPolicy)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}

// NewLogger builds the process logger from config.
func NewLogger(c *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if c.LogFormat == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "matchserver").Logger()
}
