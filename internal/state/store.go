// Package state manages the SQLite database that tracks per-course calendar
// sync state and the global sync settings.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS course_sync (
    course_id     TEXT    PRIMARY KEY,
    sync_enabled  INTEGER NOT NULL DEFAULT 0,
    last_checksum INTEGER,
    calendar_id   TEXT    NOT NULL DEFAULT '',
    epoch         INTEGER NOT NULL DEFAULT 0,
    updated_at    TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
    id            INTEGER PRIMARY KEY CHECK (id = 1),
    calendar_id   TEXT    NOT NULL DEFAULT '',
    epoch         INTEGER NOT NULL DEFAULT 0,
    hide_inactive INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO settings (id) VALUES (1);
`

// Record is the per-course sync state row. LastChecksum is non-nil only if at
// least one reconciliation has completed successfully since the last global
// disable.
type Record struct {
	CourseID     string
	SyncEnabled  bool
	LastChecksum *int64
	CalendarID   string
	Epoch        int64
	UpdatedAt    time.Time
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/coursecal/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "coursecal", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Get returns the record for the given course, or (nil, nil) if none exists.
func (s *Store) Get(ctx context.Context, courseID string) (*Record, error) {
	const q = `
		SELECT course_id, sync_enabled, last_checksum, calendar_id, epoch, updated_at
		FROM course_sync WHERE course_id = ?`
	row := s.db.QueryRowContext(ctx, q, courseID)
	return scanRecord(row)
}

// GetAll returns every course record.
func (s *Store) GetAll(ctx context.Context) ([]*Record, error) {
	const q = `
		SELECT course_id, sync_enabled, last_checksum, calendar_id, epoch, updated_at
		FROM course_sync ORDER BY course_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying course records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Put inserts or replaces the record for rec.CourseID. Writes carrying a stale
// epoch (from a reconciliation that started before a global disable) are
// silently discarded so that in-flight work cannot resurrect cleared state.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning put transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var epoch int64
	if err := tx.QueryRowContext(ctx, `SELECT epoch FROM settings WHERE id = 1`).Scan(&epoch); err != nil {
		return fmt.Errorf("reading sync epoch: %w", err)
	}
	if rec.Epoch != epoch {
		// Stale writer; last-writer-wins goes to the epoch bump.
		return nil
	}

	const q = `
		INSERT INTO course_sync
		    (course_id, sync_enabled, last_checksum, calendar_id, epoch, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
		    sync_enabled  = excluded.sync_enabled,
		    last_checksum = excluded.last_checksum,
		    calendar_id   = excluded.calendar_id,
		    epoch         = excluded.epoch,
		    updated_at    = excluded.updated_at`

	var checksum sql.NullInt64
	if rec.LastChecksum != nil {
		checksum = sql.NullInt64{Int64: *rec.LastChecksum, Valid: true}
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, q,
		rec.CourseID,
		rec.SyncEnabled,
		checksum,
		rec.CalendarID,
		rec.Epoch,
		formatTime(rec.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upserting record for %q: %w", rec.CourseID, err)
	}
	return tx.Commit()
}

// Delete removes the record for the given course. Used when a course is no
// longer enrolled.
func (s *Store) Delete(ctx context.Context, courseID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM course_sync WHERE course_id = ?`, courseID); err != nil {
		return fmt.Errorf("deleting record for %q: %w", courseID, err)
	}
	return nil
}

// ClearAll wipes every course record, clears the stored calendar ID, and bumps
// the sync epoch, all in one transaction. Invoked only by the global disable
// flow. Returns the new epoch.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_sync`); err != nil {
		return 0, fmt.Errorf("clearing course records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE settings SET epoch = epoch + 1, calendar_id = '' WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bumping sync epoch: %w", err)
	}

	var epoch int64
	if err := tx.QueryRowContext(ctx, `SELECT epoch FROM settings WHERE id = 1`).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("reading new sync epoch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing clear: %w", err)
	}
	return epoch, nil
}

// Epoch returns the current sync epoch. Reconcilers read it once per attempt
// and stamp it on their Put.
func (s *Store) Epoch(ctx context.Context) (int64, error) {
	var epoch int64
	if err := s.db.QueryRowContext(ctx, `SELECT epoch FROM settings WHERE id = 1`).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("reading sync epoch: %w", err)
	}
	return epoch, nil
}

// CalendarID returns the stored shared-calendar identifier, or "" if no
// calendar has been created.
func (s *Store) CalendarID(ctx context.Context) (string, error) {
	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT calendar_id FROM settings WHERE id = 1`).Scan(&id); err != nil {
		return "", fmt.Errorf("reading calendar ID: %w", err)
	}
	return id, nil
}

// SetCalendarID stores the shared-calendar identifier.
func (s *Store) SetCalendarID(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE settings SET calendar_id = ? WHERE id = 1`, id); err != nil {
		return fmt.Errorf("storing calendar ID: %w", err)
	}
	return nil
}

// HideInactive reports whether inactive courses are hidden from the
// courses-to-sync listing.
func (s *Store) HideInactive(ctx context.Context) (bool, error) {
	var hide bool
	if err := s.db.QueryRowContext(ctx, `SELECT hide_inactive FROM settings WHERE id = 1`).Scan(&hide); err != nil {
		return false, fmt.Errorf("reading hide-inactive flag: %w", err)
	}
	return hide, nil
}

// SetHideInactive stores the hide-inactive listing preference.
func (s *Store) SetHideInactive(ctx context.Context, hide bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE settings SET hide_inactive = ? WHERE id = 1`, hide); err != nil {
		return fmt.Errorf("storing hide-inactive flag: %w", err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanRecord can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var checksum sql.NullInt64
	var updatedAt string

	err := s.Scan(
		&rec.CourseID,
		&rec.SyncEnabled,
		&checksum,
		&rec.CalendarID,
		&rec.Epoch,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning course record: %w", err)
	}

	if checksum.Valid {
		v := checksum.Int64
		rec.LastChecksum = &v
	}
	rec.UpdatedAt, _ = parseTime(updatedAt)

	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
