package cron_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/meetquest/internal/cron"
	"github.com/basket/meetquest/internal/export"
	"github.com/basket/meetquest/internal/persistence"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewScheduler_RejectsBadExpression(t *testing.T) {
	if _, err := cron.NewScheduler(cron.Config{Expr: "not a cron line"}); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}

func TestNewScheduler_DefaultsSchedule(t *testing.T) {
	if _, err := cron.NewScheduler(cron.Config{Exporter: nil}); err != nil {
		t.Fatalf("default schedule rejected: %v", err)
	}
}

func TestScheduler_RefreshesOnStartup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateParticipant(ctx, 1, "Аня", "Аня Иванова", "anya", time.Now()); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	if _, _, err := store.IssueTicket(ctx, 1, 100, time.Now()); err != nil {
		t.Fatalf("issue ticket: %v", err)
	}

	exporter := export.New(store, t.TempDir(), nil)
	sched, err := cron.NewScheduler(cron.Config{Exporter: exporter})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	// The startup refresh should materialize the table without waiting
	// for the first cron boundary.
	waitFor(t, 3*time.Second, func() bool {
		_, err := os.Stat(exporter.CSVPath())
		return err == nil
	})
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 8, 31, 12, 3, 0, 0, time.UTC)

	next, err := cron.NextRunTime("*/5 * * * *", after)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want := time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	next, err = cron.NextRunTime("0 18 * * *", after)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want = time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := cron.NextRunTime("bogus", after); err == nil {
		t.Fatal("expected parse error")
	}
}
