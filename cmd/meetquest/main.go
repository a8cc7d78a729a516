package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/meetquest/internal/bus"
	"github.com/basket/meetquest/internal/channels"
	"github.com/basket/meetquest/internal/config"
	"github.com/basket/meetquest/internal/cron"
	"github.com/basket/meetquest/internal/engine"
	"github.com/basket/meetquest/internal/export"
	otelPkg "github.com/basket/meetquest/internal/otel"
	"github.com/basket/meetquest/internal/persistence"
	"github.com/basket/meetquest/internal/quest"
	"github.com/basket/meetquest/internal/raffle"
	"github.com/basket/meetquest/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1.0-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Start the raffle quest bot

FLAGS:
`, os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  MEETQUEST_HOME          Data directory (default: ~/.meetquest)
  TELEGRAM_TOKEN          Required: Telegram bot API token
  MEETQUEST_MAX_TICKETS   Ticket pool cap (default: 1000)
  MEETQUEST_ADMIN_CHAT_IDS   Comma-separated admin chat IDs
  MEETQUEST_ADMIN_USERNAMES  Comma-separated admin usernames
`)
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("meetquest", Version)
		return
	}

	// Mirror logs to stdout when attached to a terminal; file-only otherwise
	// unless MEETQUEST_LOG_STDOUT forces mirroring (e.g. under systemd).
	quietLogs := !isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("MEETQUEST_LOG_STDOUT") == ""

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "meetquest.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", dbPath)

	eventBus := bus.New()
	catalog := quest.NewCatalog(cfg.Quest.PuzzleAttempts)
	allocator := raffle.New(store, cfg.Raffle.MaxTickets)

	remaining, err := allocator.Remaining(ctx)
	if err != nil {
		fatalStartup(logger, "E_RAFFLE_SCAN", err)
	}
	logger.Info("startup phase", "phase", "raffle_ready",
		"max_tickets", allocator.Max(), "remaining", remaining)

	eng, err := engine.New(engine.Config{
		Store:     store,
		Catalog:   catalog,
		Allocator: allocator,
		Bus:       eventBus,
		Logger:    logger,
		Tracer:    otelProvider.Tracer,
		Metrics:   metrics,
	})
	if err != nil {
		fatalStartup(logger, "E_ENGINE_INIT", err)
	}

	exporter := export.New(store, cfg.Export.Dir, logger)

	scheduler, err := cron.NewScheduler(cron.Config{
		Exporter: exporter,
		Logger:   logger,
		Expr:     cfg.Export.Schedule,
	})
	if err != nil {
		fatalStartup(logger, "E_SCHEDULER_INIT", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	channel := channels.NewTelegramChannel(channels.TelegramConfig{
		Token:          cfg.Telegram.Token,
		AdminChatIDs:   cfg.Telegram.AdminChatIDs,
		AdminUsernames: cfg.Telegram.AdminUsernames,
		WelcomeImage:   cfg.Telegram.WelcomeImage,
	}, eng, exporter, logger, eventBus)

	logger.Info("startup phase", "phase", "channel_starting", "channel", channel.Name())
	if err := channel.Start(ctx); err != nil && ctx.Err() == nil {
		fatalStartup(logger, "E_CHANNEL_START", err)
	}

	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"meetquest","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
