package export_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/basket/meetquest/internal/export"
	"github.com/basket/meetquest/internal/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addTicketed(t *testing.T, store *persistence.Store, id int64, display, full, handle string) int {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateParticipant(ctx, id, display, full, handle, time.Now()); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	n, _, err := store.IssueTicket(ctx, id, 100, time.Now())
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	return n
}

func TestRefresh_NoParticipantsWritesNothing(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	e := export.New(store, dir, nil)

	n, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
	if _, err := os.Stat(e.CSVPath()); !os.IsNotExist(err) {
		t.Fatal("csv written despite empty table")
	}
	if _, err := os.Stat(e.TXTPath()); !os.IsNotExist(err) {
		t.Fatal("txt written despite empty table")
	}
}

func TestRefresh_CSVFormat(t *testing.T) {
	store := openTestStore(t)
	addTicketed(t, store, 1, "Аня", "Аня Иванова", "anya")
	addTicketed(t, store, 2, "Боря", "Борис Петров", "")

	e := export.New(store, t.TempDir(), nil)
	n, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}

	raw, err := os.ReadFile(e.CSVPath())
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	content := string(raw)
	if !strings.HasPrefix(content, "\xEF\xBB\xBF") {
		t.Fatal("csv lacks UTF-8 BOM")
	}
	lines := strings.Split(strings.TrimRight(strings.TrimPrefix(content, "\xEF\xBB\xBF"), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want 2 (no header)", len(lines))
	}
	if lines[0] != "@anya;Аня;1" {
		t.Fatalf("line 1 = %q, want @anya;Аня;1", lines[0])
	}
	if lines[1] != ";Боря;2" {
		t.Fatalf("line 2 = %q, want ;Боря;2", lines[1])
	}
}

func TestRefresh_TXTIsCP1251(t *testing.T) {
	store := openTestStore(t)
	addTicketed(t, store, 1, "Вера", "Вера Сидорова", "vera")

	e := export.New(store, t.TempDir(), nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	raw, err := os.ReadFile(e.TXTPath())
	if err != nil {
		t.Fatalf("read txt: %v", err)
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		t.Fatalf("decode cp1251: %v", err)
	}
	line := strings.TrimRight(string(decoded), "\n")
	if line != "Вера Сидорова;Вера;@vera;1" {
		t.Fatalf("txt line = %q", line)
	}
}

func TestRefresh_FallbacksForMissingNames(t *testing.T) {
	store := openTestStore(t)
	addTicketed(t, store, 1, "", "", "ghost")

	e := export.New(store, t.TempDir(), nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	raw, err := os.ReadFile(e.TXTPath())
	if err != nil {
		t.Fatalf("read txt: %v", err)
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		t.Fatalf("decode cp1251: %v", err)
	}
	line := strings.TrimRight(string(decoded), "\n")
	if line != "Не указано;Не указан;@ghost;1" {
		t.Fatalf("txt line = %q", line)
	}
}

func TestRefresh_SortedByTicket(t *testing.T) {
	store := openTestStore(t)
	// Issue in an order unrelated to IDs.
	addTicketed(t, store, 30, "Третий", "", "c")
	addTicketed(t, store, 10, "Первый", "", "a")
	addTicketed(t, store, 20, "Второй", "", "b")

	e := export.New(store, t.TempDir(), nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	raw, err := os.ReadFile(e.CSVPath())
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	content := strings.TrimPrefix(string(raw), "\xEF\xBB\xBF")
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	want := []string{"@c;Третий;1", "@a;Первый;2", "@b;Второй;3"}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d = %q, want %q", i+1, lines[i], w)
		}
	}
}

func TestRefresh_OverwritesPreviousTable(t *testing.T) {
	store := openTestStore(t)
	addTicketed(t, store, 1, "Аня", "", "anya")

	e := export.New(store, t.TempDir(), nil)
	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	addTicketed(t, store, 2, "Боря", "", "borya")
	n, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}

	raw, err := os.ReadFile(e.CSVPath())
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	content := strings.TrimPrefix(string(raw), "\xEF\xBB\xBF")
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want 2", len(lines))
	}
}
