// Package export renders the raffle table to files organizers can open
// on anything: a UTF-8 CSV for Excel and a cp1251 TXT for Windows
// notepads. Files are regenerated from the store snapshot and written
// atomically.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/basket/meetquest/internal/persistence"
)

const (
	csvFileName = "raffle_table.csv"
	txtFileName = "raffle_table.txt"

	// utf8BOM makes Excel detect the encoding on Russian locales.
	utf8BOM = "\xEF\xBB\xBF"
)

// Exporter regenerates the raffle table files. Safe for concurrent use;
// refreshes are serialized.
type Exporter struct {
	store  *persistence.Store
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

func New(store *persistence.Store, dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, dir: dir, logger: logger}
}

// CSVPath returns where the CSV table lives.
func (e *Exporter) CSVPath() string {
	return filepath.Join(e.dir, csvFileName)
}

// TXTPath returns where the TXT table lives.
func (e *Exporter) TXTPath() string {
	return filepath.Join(e.dir, txtFileName)
}

// Refresh rewrites both table files from the current snapshot and
// returns the number of ticketed participants. When nobody holds a
// ticket yet, no files are written.
func (e *Exporter) Refresh(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot raffle table: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	if err := e.writeCSV(rows); err != nil {
		return 0, err
	}
	if err := e.writeTXT(rows); err != nil {
		return 0, err
	}
	e.logger.Info("raffle table refreshed", "participants", len(rows), "dir", e.dir)
	return len(rows), nil
}

// writeCSV writes headerless @handle;name;number rows in UTF-8 with a
// BOM and semicolon separators, the combination Excel on a Russian
// locale opens cleanly.
func (e *Exporter) writeCSV(rows []persistence.ReportRow) error {
	return e.writeAtomic(e.CSVPath(), func(f *os.File) error {
		if _, err := f.WriteString(utf8BOM); err != nil {
			return err
		}
		w := csv.NewWriter(f)
		w.Comma = ';'
		for _, r := range rows {
			record := []string{handleColumn(r.Handle), displayColumn(r.DisplayName), strconv.Itoa(r.Ticket)}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// writeTXT writes fullname;name;@handle;number lines in cp1251.
// Characters outside the codepage are replaced rather than failing the
// whole export.
func (e *Exporter) writeTXT(rows []persistence.ReportRow) error {
	return e.writeAtomic(e.TXTPath(), func(f *os.File) error {
		enc := encoding.ReplaceUnsupported(charmap.Windows1251.NewEncoder())
		w := transform.NewWriter(f, enc)
		for _, r := range rows {
			fullName := r.FullName
			if fullName == "" {
				fullName = r.DisplayName
			}
			if fullName == "" {
				fullName = "Не указано"
			}
			line := fmt.Sprintf("%s;%s;%s;%d\n", fullName, displayColumn(r.DisplayName), handleColumn(r.Handle), r.Ticket)
			if _, err := w.Write([]byte(line)); err != nil {
				return err
			}
		}
		return w.Close()
	})
}

// writeAtomic writes through a temp file in the same directory and
// renames it into place, so readers never see a half-written table.
func (e *Exporter) writeAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(e.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp table file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func handleColumn(handle string) string {
	if handle == "" {
		return ""
	}
	return "@" + handle
}

func displayColumn(name string) string {
	if name == "" {
		return "Не указан"
	}
	return name
}
