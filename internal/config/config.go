// Package config loads and normalizes the daemon configuration from
// config.yaml in the meetquest home directory, with environment
// overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/meetquest/internal/otel"
)

// TelegramConfig holds the bot transport settings.
type TelegramConfig struct {
	Token          string   `yaml:"token"`
	AdminChatIDs   []int64  `yaml:"admin_chat_ids"`
	AdminUsernames []string `yaml:"admin_usernames"`
	WelcomeImage   string   `yaml:"welcome_image"`
}

// RaffleConfig bounds the ticket pool.
type RaffleConfig struct {
	MaxTickets int `yaml:"max_tickets"`
}

// QuestConfig tunes answer validation.
type QuestConfig struct {
	PuzzleAttempts int `yaml:"puzzle_attempts"`
}

// ExportConfig controls the raffle table files.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Telegram  TelegramConfig `yaml:"telegram"`
	Raffle    RaffleConfig   `yaml:"raffle"`
	Quest     QuestConfig    `yaml:"quest"`
	Export    ExportConfig   `yaml:"export"`
	Telemetry otel.Config    `yaml:"telemetry"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Raffle:   RaffleConfig{MaxTickets: 1000},
		Quest:    QuestConfig{PuzzleAttempts: 2},
		Export:   ExportConfig{Schedule: "*/5 * * * *"},
	}
}

func HomeDir() string {
	if override := os.Getenv("MEETQUEST_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".meetquest")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create meetquest home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Raffle.MaxTickets <= 0 {
		cfg.Raffle.MaxTickets = 1000
	}
	if cfg.Quest.PuzzleAttempts < 2 {
		cfg.Quest.PuzzleAttempts = 2
	}
	if strings.TrimSpace(cfg.Export.Dir) == "" {
		cfg.Export.Dir = filepath.Join(cfg.HomeDir, "exports")
	}
	if strings.TrimSpace(cfg.Export.Schedule) == "" {
		cfg.Export.Schedule = "*/5 * * * *"
	}
	if strings.TrimSpace(cfg.Telegram.WelcomeImage) == "" {
		cfg.Telegram.WelcomeImage = filepath.Join(cfg.HomeDir, "images", "welcome.png")
	}

	// Admin usernames are matched case-insensitively without the @ prefix.
	cleaned := cfg.Telegram.AdminUsernames[:0]
	for _, name := range cfg.Telegram.AdminUsernames {
		name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
		if name != "" {
			cleaned = append(cleaned, name)
		}
	}
	cfg.Telegram.AdminUsernames = cleaned
}

func validate(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is not configured: set telegram.token in %s or TELEGRAM_TOKEN", ConfigPath(cfg.HomeDir))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
	if raw := os.Getenv("MEETQUEST_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MEETQUEST_MAX_TICKETS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Raffle.MaxTickets = v
		}
	}
	if raw := os.Getenv("MEETQUEST_EXPORT_DIR"); raw != "" {
		cfg.Export.Dir = raw
	}
	if raw := os.Getenv("MEETQUEST_EXPORT_SCHEDULE"); raw != "" {
		cfg.Export.Schedule = raw
	}
	if raw := os.Getenv("MEETQUEST_ADMIN_CHAT_IDS"); raw != "" {
		var ids []int64
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if v, err := strconv.ParseInt(field, 10, 64); err == nil {
				ids = append(ids, v)
			}
		}
		if len(ids) > 0 {
			cfg.Telegram.AdminChatIDs = ids
		}
	}
	if raw := os.Getenv("MEETQUEST_ADMIN_USERNAMES"); raw != "" {
		var names []string
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field != "" {
				names = append(names, field)
			}
		}
		if len(names) > 0 {
			cfg.Telegram.AdminUsernames = names
		}
	}
}
