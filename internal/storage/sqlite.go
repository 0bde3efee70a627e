package storage

import (
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/domain"
)

// SQLiteFileName is the database inside the storage directory.
const SQLiteFileName = "data.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	total INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS daily (
	date  TEXT PRIMARY KEY,
	count INTEGER NOT NULL
);
INSERT OR IGNORE INTO meta (id, total) VALUES (1, 0);
`

// SQLiteStore implements Store using SQLite. Each Save replaces the whole
// record inside a single transaction, so an interrupted Save rolls back to
// the last committed record.
type SQLiteStore struct {
	db   *sql.DB
	dir  string
	path string
	mu   sync.Mutex
}

func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	path := filepath.Join(dir, SQLiteFileName)
	// _txlock=immediate serializes Load against a concurrent Save.
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, xerrors.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &SQLiteStore{
		db:   db,
		dir:  dir,
		path: path,
	}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &PersistenceIOError{Op: "create directory", Path: s.dir, Err: err}
	}
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return &PersistenceIOError{Op: "initialize schema", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Load() (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Opening a missing database would create it; treat absence as empty.
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return domain.NewRecord(), nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		if isCorruption(err) {
			return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
		}
		return domain.Record{}, &PersistenceIOError{Op: "begin", Path: s.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rec := domain.NewRecord()
	var total int64
	err = tx.QueryRow("SELECT total FROM meta WHERE id = 1").Scan(&total)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: xerrors.New("missing meta row")}
	case err != nil:
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
	case total < 0:
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: xerrors.Errorf("negative total %d", total)}
	}
	rec.Total = uint64(total)

	rows, err := tx.Query("SELECT date, count FROM daily")
	if err != nil {
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			date  string
			count int64
		)
		if err := rows.Scan(&date, &count); err != nil {
			return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
		}
		if count < 0 {
			return domain.Record{}, &CorruptStoreError{Path: s.path, Err: xerrors.Errorf("negative count for %s", date)}
		}
		rec.Daily[domain.Date(date)] = uint64(count)
	}
	if err := rows.Err(); err != nil {
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
	}
	if err := rec.Validate(); err != nil {
		return domain.Record{}, &CorruptStoreError{Path: s.path, Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) Save(rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return xerrors.Errorf("refusing to save inconsistent record: %w", err)
	}
	if rec.Total > math.MaxInt64 {
		return xerrors.Errorf("total %d overflows sqlite integer", rec.Total)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return &PersistenceIOError{Op: "initialize schema", Path: s.path, Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &PersistenceIOError{Op: "begin", Path: s.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM daily"); err != nil {
		return &PersistenceIOError{Op: "clear daily", Path: s.path, Err: err}
	}
	stmt, err := tx.Prepare("INSERT INTO daily (date, count) VALUES (?, ?)")
	if err != nil {
		return &PersistenceIOError{Op: "prepare", Path: s.path, Err: err}
	}
	defer stmt.Close()

	for date, count := range rec.Daily {
		if _, err := stmt.Exec(string(date), int64(count)); err != nil {
			return &PersistenceIOError{Op: "insert daily", Path: s.path, Err: err}
		}
	}
	if _, err := tx.Exec("UPDATE meta SET total = ? WHERE id = 1", int64(rec.Total)); err != nil {
		return &PersistenceIOError{Op: "update total", Path: s.path, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceIOError{Op: "commit", Path: s.path, Err: err}
	}
	return nil
}

// isCorruption reports whether err means the file is not a usable database,
// as opposed to a transient I/O or locking failure.
func isCorruption(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrNotADB || sqliteErr.Code == sqlite3.ErrCorrupt
}
