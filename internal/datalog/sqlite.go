package datalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    data        BLOB NOT NULL CHECK (length(data) = 16),
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteStore keeps log records in a SQLite database file.
// The read cursor lives in memory: after a restart replay begins at the
// oldest record, as it would after Rewind.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	cursor int64 // id of the last record returned by Next
}

// OpenSQLite opens or creates the record database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// One writer; the coordinator is the only one appending anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(recordsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Append inserts rec after all existing records.
func (s *SQLiteStore) Append(ctx context.Context, rec Raw) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO records (data) VALUES (?)`, rec[:]); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Rewind resets the read cursor to the oldest record.
func (s *SQLiteStore) Rewind(_ context.Context) error {
	s.cursor = 0
	return nil
}

// Next returns the record following the cursor.
func (s *SQLiteStore) Next(ctx context.Context) (Raw, bool, error) {
	var (
		id   int64
		data []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, data FROM records WHERE id > ? ORDER BY id LIMIT 1
	`, s.cursor).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Raw{}, false, nil
	}
	if err != nil {
		return Raw{}, false, fmt.Errorf("read record: %w", err)
	}
	var rec Raw
	if len(data) != RecordSize {
		return Raw{}, false, fmt.Errorf("read record %d: size %d", id, len(data))
	}
	copy(rec[:], data)
	s.cursor = id
	return rec, true, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
