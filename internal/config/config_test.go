package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	if err := os.WriteFile(ConfigPath(home), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_DefaultsWithTokenFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEETQUEST_HOME", home)
	t.Setenv("TELEGRAM_TOKEN", "1234567890:TESTTOKENTESTTOKENTESTTOKENTEST")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("home = %q, want %q", cfg.HomeDir, home)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Raffle.MaxTickets != 1000 {
		t.Fatalf("max tickets = %d, want 1000", cfg.Raffle.MaxTickets)
	}
	if cfg.Quest.PuzzleAttempts != 2 {
		t.Fatalf("puzzle attempts = %d, want 2", cfg.Quest.PuzzleAttempts)
	}
	if cfg.Export.Schedule != "*/5 * * * *" {
		t.Fatalf("schedule = %q", cfg.Export.Schedule)
	}
	if cfg.Export.Dir != filepath.Join(home, "exports") {
		t.Fatalf("export dir = %q", cfg.Export.Dir)
	}
	if cfg.Telegram.WelcomeImage != filepath.Join(home, "images", "welcome.png") {
		t.Fatalf("welcome image = %q", cfg.Telegram.WelcomeImage)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEETQUEST_HOME", home)
	t.Setenv("TELEGRAM_TOKEN", "")
	writeConfig(t, home, `
log_level: debug
telegram:
  token: "1234567890:FILETOKENFILETOKENFILETOKENFILE"
  admin_chat_ids: [100, 200]
  admin_usernames: ["@Org", " Helper ", ""]
raffle:
  max_tickets: 50
quest:
  puzzle_attempts: 3
export:
  schedule: "0 * * * *"
telemetry:
  enabled: true
  exporter: none
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Raffle.MaxTickets != 50 {
		t.Fatalf("max tickets = %d", cfg.Raffle.MaxTickets)
	}
	if cfg.Quest.PuzzleAttempts != 3 {
		t.Fatalf("puzzle attempts = %d", cfg.Quest.PuzzleAttempts)
	}
	if len(cfg.Telegram.AdminChatIDs) != 2 {
		t.Fatalf("admin ids = %v", cfg.Telegram.AdminChatIDs)
	}
	want := []string{"org", "helper"}
	if len(cfg.Telegram.AdminUsernames) != len(want) {
		t.Fatalf("admin usernames = %v, want %v", cfg.Telegram.AdminUsernames, want)
	}
	for i := range want {
		if cfg.Telegram.AdminUsernames[i] != want[i] {
			t.Fatalf("admin usernames = %v, want %v", cfg.Telegram.AdminUsernames, want)
		}
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Exporter != "none" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEETQUEST_HOME", home)
	writeConfig(t, home, `
telegram:
  token: "1234567890:FILETOKENFILETOKENFILETOKENFILE"
raffle:
  max_tickets: 50
`)
	t.Setenv("TELEGRAM_TOKEN", "1234567890:ENVTOKENENVTOKENENVTOKENENVTOKEN")
	t.Setenv("MEETQUEST_MAX_TICKETS", "7")
	t.Setenv("MEETQUEST_ADMIN_CHAT_IDS", "1, 2,3")
	t.Setenv("MEETQUEST_ADMIN_USERNAMES", "@Boss,aide")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(cfg.Telegram.Token, "ENVTOKEN") {
		t.Fatalf("token = %q, want env override", cfg.Telegram.Token)
	}
	if cfg.Raffle.MaxTickets != 7 {
		t.Fatalf("max tickets = %d, want 7", cfg.Raffle.MaxTickets)
	}
	if len(cfg.Telegram.AdminChatIDs) != 3 {
		t.Fatalf("admin ids = %v", cfg.Telegram.AdminChatIDs)
	}
	if len(cfg.Telegram.AdminUsernames) != 2 || cfg.Telegram.AdminUsernames[0] != "boss" {
		t.Fatalf("admin usernames = %v", cfg.Telegram.AdminUsernames)
	}
}

func TestLoad_MissingTokenFails(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MEETQUEST_HOME", home)
	t.Setenv("TELEGRAM_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without telegram token")
	}
}

func TestNormalize_Floors(t *testing.T) {
	cfg := defaultConfig()
	cfg.HomeDir = t.TempDir()
	cfg.Raffle.MaxTickets = -5
	cfg.Quest.PuzzleAttempts = 0
	normalize(&cfg)

	if cfg.Raffle.MaxTickets != 1000 {
		t.Fatalf("max tickets = %d, want 1000", cfg.Raffle.MaxTickets)
	}
	if cfg.Quest.PuzzleAttempts != 2 {
		t.Fatalf("puzzle attempts = %d, want 2", cfg.Quest.PuzzleAttempts)
	}
}
