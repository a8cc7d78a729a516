// Package persistence owns the durable state of the quest: participant
// sessions, their answers, the raffle ticket pool, and help requests.
// Storage is a single SQLite database in WAL mode with synchronous=FULL;
// a state transition is committed in one transaction or not at all.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "mq-v1-2026-08-quest-raffle"
)

// ErrPoolExhausted is returned when the raffle ticket pool has no
// numbers left. Recoverable by raising max_tickets, not by retrying.
var ErrPoolExhausted = errors.New("raffle ticket pool exhausted")

// Stage is a participant's position in the quest state machine.
type Stage string

const (
	StageNotStarted Stage = "NOT_STARTED"
	StageIntroduced Stage = "INTRODUCED"
	StageInProgress Stage = "IN_PROGRESS"
	StageCompleted  Stage = "COMPLETED"
)

// allowedStageTransitions guards stage changes. Same-stage updates
// (advancing the task index) are not transitions and bypass the guard.
var allowedStageTransitions = map[Stage]map[Stage]struct{}{
	StageNotStarted: {StageIntroduced: {}},
	StageIntroduced: {StageInProgress: {}},
	StageInProgress: {StageCompleted: {}},
}

// Answer is one recorded submission for a task.
type Answer struct {
	Text        string
	SubmittedAt time.Time
}

// Participant is the durable per-participant session record. It is
// never deleted; completed sessions remain as the raffle's history.
type Participant struct {
	ID          int64
	DisplayName string
	FullName    string
	Handle      string
	Stage       Stage
	CurrentTask int
	Attempts    int
	Answers     map[int]Answer
	Ticket      *int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ReportRow is one line of the raffle report snapshot.
type ReportRow struct {
	Ticket      int
	DisplayName string
	FullName    string
	Handle      string
	CompletedAt time.Time
}

// HelpRequest is a participant's stored call for an organizer.
type HelpRequest struct {
	ID            string
	ParticipantID int64
	DisplayName   string
	Text          string
	CreatedAt     time.Time
}

type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the database path under the user's home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".meetquest", "meetquest.db")
}

// Open opens (creating if needed) the database at path and ensures the
// schema and its reload invariants.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	ctx := context.Background()
	if err := store.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.reconcileTickets(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
		return tx.Commit()
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS participants (
			id INTEGER PRIMARY KEY,
			display_name TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			handle TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL CHECK(stage IN ('NOT_STARTED', 'INTRODUCED', 'IN_PROGRESS', 'COMPLETED')),
			current_task INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS answers (
			participant_id INTEGER NOT NULL REFERENCES participants(id),
			task_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			submitted_at DATETIME NOT NULL,
			PRIMARY KEY (participant_id, task_index)
		);`,
		`CREATE TABLE IF NOT EXISTS tickets (
			participant_id INTEGER PRIMARY KEY REFERENCES participants(id),
			number INTEGER NOT NULL UNIQUE,
			issued_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS help_requests (
			id TEXT PRIMARY KEY,
			participant_id INTEGER NOT NULL REFERENCES participants(id),
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_number ON tickets(number);`,
		`CREATE INDEX IF NOT EXISTS idx_answers_participant ON answers(participant_id);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`,
		schemaVersion, schemaChecksum,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// reconcileTickets repairs the crash window between ticket issuance and
// the completion acknowledgement: any participant holding a ticket is
// completed. The reverse (completed without a ticket) never commits
// because both writes share one transaction.
func (s *Store) reconcileTickets(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE participants
		SET stage = 'COMPLETED',
		    completed_at = COALESCE(completed_at, (SELECT issued_at FROM tickets WHERE participant_id = participants.id)),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id IN (SELECT participant_id FROM tickets)
		  AND stage != 'COMPLETED';
	`)
	if err != nil {
		return fmt.Errorf("reconcile tickets: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with
// exponential backoff and bounded jitter on top of the driver's
// busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// CreateParticipant inserts a fresh session in the Introduced stage. If
// the participant already exists only the identity fields are refreshed;
// progress is never reset.
func (s *Store) CreateParticipant(ctx context.Context, id int64, displayName, fullName, handle string, startedAt time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO participants (id, display_name, full_name, handle, stage, started_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = excluded.display_name,
				full_name = excluded.full_name,
				handle = excluded.handle,
				updated_at = CURRENT_TIMESTAMP;
		`, id, displayName, fullName, handle, StageIntroduced, startedAt.UTC())
		if err != nil {
			return fmt.Errorf("create participant %d: %w", id, err)
		}
		return nil
	})
}

// GetParticipant loads a session with its answers and ticket. Returns
// (nil, nil) when the participant has never interacted.
func (s *Store) GetParticipant(ctx context.Context, id int64) (*Participant, error) {
	p := &Participant{ID: id, Answers: make(map[int]Answer)}
	var completedAt sql.NullTime
	var ticket sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT p.display_name, p.full_name, p.handle, p.stage, p.current_task, p.attempts,
		       p.started_at, p.completed_at, t.number
		FROM participants p
		LEFT JOIN tickets t ON t.participant_id = p.id
		WHERE p.id = ?;
	`, id).Scan(
		&p.DisplayName, &p.FullName, &p.Handle, &p.Stage, &p.CurrentTask, &p.Attempts,
		&p.StartedAt, &completedAt, &ticket,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load participant %d: %w", id, err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	if ticket.Valid {
		n := int(ticket.Int64)
		p.Ticket = &n
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_index, text, submitted_at FROM answers WHERE participant_id = ?;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load answers for %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var index int
		var a Answer
		if err := rows.Scan(&index, &a.Text, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		p.Answers[index] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return p, nil
}

// SetStage performs a guarded stage transition and positions the task
// cursor.
func (s *Store) SetStage(ctx context.Context, id int64, from, to Stage, currentTask int) error {
	if from != to {
		if _, ok := allowedStageTransitions[from][to]; !ok {
			return fmt.Errorf("invalid stage transition %s -> %s for participant %d", from, to, id)
		}
	}
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE participants
			SET stage = ?, current_task = ?, attempts = 0, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stage = ?;
		`, to, currentTask, id, from)
		if err != nil {
			return fmt.Errorf("set stage for %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set stage for %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("stage transition %s -> %s lost race for participant %d", from, to, id)
		}
		return nil
	})
}

// SetAttempts records the failed-attempt counter for the current task.
func (s *Store) SetAttempts(ctx context.Context, id int64, attempts int) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE participants SET attempts = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, attempts, id)
		if err != nil {
			return fmt.Errorf("set attempts for %d: %w", id, err)
		}
		return nil
	})
}

// RecordAnswer stores the answer for taskIndex and moves the cursor to
// nextTask in one transaction, resetting the attempt counter. A
// re-submission before advancing overwrites the pending entry.
func (s *Store) RecordAnswer(ctx context.Context, id int64, taskIndex int, text string, submittedAt time.Time, nextTask int) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin answer tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (participant_id, task_index, text, submitted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(participant_id, task_index) DO UPDATE SET
				text = excluded.text,
				submitted_at = excluded.submitted_at;
		`, id, taskIndex, text, submittedAt.UTC()); err != nil {
			return fmt.Errorf("record answer %d/%d: %w", id, taskIndex, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE participants
			SET current_task = ?, attempts = 0, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, nextTask, id); err != nil {
			return fmt.Errorf("advance cursor for %d: %w", id, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit answer tx: %w", err)
		}
		return nil
	})
}

// IssueTicket allocates the next sequential raffle number for the
// participant and marks the session completed, atomically. A ticket
// already held is returned unchanged (reused=true), so retried
// completions never double-allocate. Fails with ErrPoolExhausted when
// the pool bound is reached; nothing is committed in that case.
//
// Callers must serialize IssueTicket across participants (the raffle
// allocator holds the global critical section).
func (s *Store) IssueTicket(ctx context.Context, id int64, maxTickets int, now time.Time) (number int, reused bool, err error) {
	err = retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin ticket tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		var existing sql.NullInt64
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT number FROM tickets WHERE participant_id = ?;`, id,
		).Scan(&existing); scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("read existing ticket for %d: %w", id, scanErr)
		}
		if existing.Valid {
			number = int(existing.Int64)
			reused = true
		} else {
			var maxIssued int
			if scanErr := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(number), 0) FROM tickets;`,
			).Scan(&maxIssued); scanErr != nil {
				return fmt.Errorf("read ticket high water mark: %w", scanErr)
			}
			next := maxIssued + 1
			if next > maxTickets {
				return ErrPoolExhausted
			}
			if _, execErr := tx.ExecContext(ctx, `
				INSERT INTO tickets (participant_id, number, issued_at) VALUES (?, ?, ?);
			`, id, next, now.UTC()); execErr != nil {
				return fmt.Errorf("issue ticket %d to %d: %w", next, id, execErr)
			}
			number = next
			reused = false
		}

		if _, execErr := tx.ExecContext(ctx, `
			UPDATE participants
			SET stage = ?, completed_at = COALESCE(completed_at, ?), attempts = 0, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, StageCompleted, now.UTC(), id); execErr != nil {
			return fmt.Errorf("mark %d completed: %w", id, execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("commit ticket tx: %w", commitErr)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return number, reused, nil
}

// NextTicket returns the number the next successful allocation would
// receive.
func (s *Store) NextTicket(ctx context.Context) (int, error) {
	var maxIssued int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM tickets;`).Scan(&maxIssued); err != nil {
		return 0, fmt.Errorf("read ticket high water mark: %w", err)
	}
	return maxIssued + 1, nil
}

// Snapshot returns every ticketed participant sorted ascending by ticket
// number.
func (s *Store) Snapshot(ctx context.Context) ([]ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.number, p.display_name, p.full_name, p.handle, p.completed_at
		FROM tickets t
		JOIN participants p ON p.id = t.participant_id
		ORDER BY t.number ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("snapshot tickets: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		var completedAt sql.NullTime
		if err := rows.Scan(&r.Ticket, &r.DisplayName, &r.FullName, &r.Handle, &completedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if completedAt.Valid {
			r.CompletedAt = completedAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return out, nil
}

// AddHelpRequest stores a participant's call for an organizer.
func (s *Store) AddHelpRequest(ctx context.Context, requestID string, participantID int64, text string, createdAt time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO help_requests (id, participant_id, text, created_at) VALUES (?, ?, ?, ?);
		`, requestID, participantID, text, createdAt.UTC())
		if err != nil {
			return fmt.Errorf("add help request for %d: %w", participantID, err)
		}
		return nil
	})
}

// ListHelpRequests returns all stored help requests, oldest first.
func (s *Store) ListHelpRequests(ctx context.Context) ([]HelpRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.participant_id, p.display_name, h.text, h.created_at
		FROM help_requests h
		JOIN participants p ON p.id = h.participant_id
		ORDER BY h.created_at ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	defer rows.Close()

	var out []HelpRequest
	for rows.Next() {
		var h HelpRequest
		if err := rows.Scan(&h.ID, &h.ParticipantID, &h.DisplayName, &h.Text, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan help request: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate help requests: %w", err)
	}
	return out, nil
}
