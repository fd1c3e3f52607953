// Package config loads the engine's typed configuration from a JSON
// file, with secrets (database DSN, encryption key) read only from
// environment variables and never persisted to the config file —
// mirroring this corpus's split between config.json and
// env-var-only credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DatabaseConfig selects and configures the Progress/Job/Account store
// backing. DSN is never read from the config file (json:"-"); it comes
// only from the CHATRELAY_POSTGRES_DSN environment variable.
type DatabaseConfig struct {
	// Mode is "file" (JSON-file store, default, no DSN needed) or "sql"
	// (database/sql via pgx or modernc.org/sqlite, selected by the DSN
	// scheme: "postgres://" or "sqlite://"/"file:").
	Mode string `json:"mode"`
	// FileDir is the root directory for the file-backed store when Mode == "file".
	FileDir string `json:"file_dir,omitempty"`
	DSN     string `json:"-"`
}

// GatewayConfig configures the Control API / subscriber WebSocket HTTP server.
type GatewayConfig struct {
	ListenAddr     string   `json:"listen_addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// TelemetryConfig toggles OpenTelemetry tracing. Prometheus metrics are
// not toggled here; MetricsAddr is decoded but nothing reads it.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	TracingEnabled bool   `json:"tracing_enabled"`
	MetricsAddr    string `json:"metrics_addr,omitempty"`
}

// Config is the engine's root configuration.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// EncryptionKey seals/opens account session blobs (cryptoutil). It
	// is NEVER read from the config file, only CHATRELAY_ENCRYPTION_KEY
	// (32 raw bytes, base64-encoded).
	EncryptionKey string `json:"-"`
}

const (
	envPostgresDSN   = "CHATRELAY_POSTGRES_DSN"
	envEncryptionKey = "CHATRELAY_ENCRYPTION_KEY"
)

// Load reads path as JSON and fills in secret fields from the environment.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.Database.DSN = os.Getenv(envPostgresDSN)
	cfg.EncryptionKey = os.Getenv(envEncryptionKey)

	if cfg.Database.Mode == "" {
		cfg.Database.Mode = "file"
	}
	if cfg.Database.Mode == "file" && cfg.Database.FileDir == "" {
		cfg.Database.FileDir = "./data"
	}
	if cfg.Gateway.ListenAddr == "" {
		cfg.Gateway.ListenAddr = ":8080"
	}
	return cfg, nil
}

// ResolveConfigPath mirrors this corpus's flag > env > default precedence.
func ResolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CHATRELAY_CONFIG"); env != "" {
		return env
	}
	return "config.json"
}
