package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Mode != "file" {
		t.Fatalf("Database.Mode = %q, want file", cfg.Database.Mode)
	}
	if cfg.Database.FileDir != "./data" {
		t.Fatalf("Database.FileDir = %q, want ./data", cfg.Database.FileDir)
	}
	if cfg.Gateway.ListenAddr != ":8080" {
		t.Fatalf("Gateway.ListenAddr = %q, want :8080", cfg.Gateway.ListenAddr)
	}
}

func TestLoadReadsSecretsFromEnvNotFile(t *testing.T) {
	path := writeConfig(t, `{"database": {"mode": "sql"}}`)
	t.Setenv("CHATRELAY_POSTGRES_DSN", "sqlite:///tmp/x.db")
	t.Setenv("CHATRELAY_ENCRYPTION_KEY", "a-test-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "sqlite:///tmp/x.db" {
		t.Fatalf("Database.DSN = %q, want env value", cfg.Database.DSN)
	}
	if cfg.EncryptionKey != "a-test-key" {
		t.Fatalf("EncryptionKey = %q, want env value", cfg.EncryptionKey)
	}
	if cfg.Database.FileDir != "" {
		t.Fatalf("FileDir should not default when mode is sql, got %q", cfg.Database.FileDir)
	}
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	if got := ResolveConfigPath("explicit.json"); got != "explicit.json" {
		t.Fatalf("flag precedence: got %q", got)
	}

	t.Setenv("CHATRELAY_CONFIG", "env.json")
	if got := ResolveConfigPath(""); got != "env.json" {
		t.Fatalf("env precedence: got %q", got)
	}

	os.Unsetenv("CHATRELAY_CONFIG")
	if got := ResolveConfigPath(""); got != "config.json" {
		t.Fatalf("default: got %q", got)
	}
}
