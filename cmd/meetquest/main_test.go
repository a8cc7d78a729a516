package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `
# comment line
TELEGRAM_TOKEN=from_dotenv
MEETQUEST_MAX_TICKETS=42
ALREADY_SET=dotenv_value

MALFORMED LINE
=no_key
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("MEETQUEST_MAX_TICKETS", "")
	t.Setenv("ALREADY_SET", "env_wins")
	os.Unsetenv("TELEGRAM_TOKEN")
	os.Unsetenv("MEETQUEST_MAX_TICKETS")

	loadDotEnv(path)

	if got := os.Getenv("TELEGRAM_TOKEN"); got != "from_dotenv" {
		t.Fatalf("TELEGRAM_TOKEN = %q, want from_dotenv", got)
	}
	if got := os.Getenv("MEETQUEST_MAX_TICKETS"); got != "42" {
		t.Fatalf("MEETQUEST_MAX_TICKETS = %q, want 42", got)
	}
	if got := os.Getenv("ALREADY_SET"); got != "env_wins" {
		t.Fatalf("existing env var overwritten: %q", got)
	}
}

func TestLoadDotEnv_MissingFileIsNoop(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
}
