package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ernie/herald/internal/domain"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the driver parses it back as UTC. Nanoseconds are kept
// at fixed width so two touches inside the same second stay ordered and
// lexicographic ORDER BY matches chronological order.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// SQLiteStore backs the ledger with a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath and applies the schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) HasRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM players WHERE uuid = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) RecordFirstJoin(ctx context.Context, id uuid.UUID, name string) error {
	now := formatTimestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (uuid, name, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`, id.String(), name, now, now)
	return err
}

func (s *SQLiteStore) TouchLastSeen(ctx context.Context, id uuid.UUID, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET name = ?, last_seen = ? WHERE uuid = ?
	`, name, formatTimestamp(time.Now()), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no ledger record for %s", id)
	}
	return nil
}

func (s *SQLiteStore) GetLastSeen(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_seen FROM players WHERE uuid = ?`, id.String()).Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return lastSeen, true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (domain.PlayerRecord, bool, error) {
	var rec domain.PlayerRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT name, first_seen, last_seen FROM players WHERE uuid = ?
	`, id.String()).Scan(&rec.Name, &rec.FirstSeen, &rec.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlayerRecord{}, false, nil
	}
	if err != nil {
		return domain.PlayerRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, name, first_seen, last_seen FROM players ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var raw string
		var e domain.LedgerEntry
		if err := rows.Scan(&raw, &e.Record.Name, &e.Record.FirstSeen, &e.Record.LastSeen); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt uuid %q in ledger: %w", raw, err)
		}
		e.ID = id
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
