package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrInvalidFetchSize is returned by FetchMany for a non-positive size.
var ErrInvalidFetchSize = errors.New("fetch size must be positive")

// Row is one result row, values in column order as returned by the driver.
type Row []any

// Store is a SQLite connection with execute and fetch helpers.
//
// The store holds exactly one connection. SQLite allows a single writer
// anyway, and an in-memory database (MemoryPath) only exists for the
// connection that created it, so pooling would lose its data. File
// databases are switched to WAL journaling unless Options says otherwise.
//
// Statements run in auto-commit mode except ExecuteMany, which wraps all
// of its argument sets in one transaction and rolls back on the first
// failure. Fetch results come back as Rows holding the driver's values in
// column order, and CreateTable builds a table from a validated Table
// description.
//
// A Store is safe for concurrent use; calls are serialized on the single
// connection.
type Store struct {
	db   *sql.DB
	path string
}

// Options configures Connect.
type Options struct {
	// CreateIfNotExists creates the file and its parent directories.
	CreateIfNotExists bool

	// EnableWAL switches the journal to write-ahead logging.
	// Ignored for in-memory databases.
	EnableWAL bool
}

// DefaultOptions returns the options used by Connect.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Connect opens or creates the SQLite database at path with DefaultOptions.
func Connect(path string) (*Store, error) {
	return ConnectWithOptions(path, DefaultOptions())
}

// ConnectWithOptions opens the SQLite database at path.
func ConnectWithOptions(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	dsn := path
	if path != MemoryPath {
		if opts.CreateIfNotExists {
			if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			dsn = path + "?mode=rwc"
		} else {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("database not found at %s: %w", path, err)
			}
			dsn = path + "?mode=rw"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if opts.EnableWAL && path != MemoryPath {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path given to Connect.
func (s *Store) Path() string {
	return s.path
}

// Execute runs a statement and returns the number of affected rows.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// ExecuteMany runs query once per argument set inside one transaction and
// returns the total number of affected rows. Nothing is applied on error.
func (s *Store) ExecuteMany(ctx context.Context, query string, rows [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var total int64
	for i, args := range rows {
		result, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to execute row %d: %w", i, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return total, nil
}

// FetchOne returns the first row of the result, or nil if there is none.
func (s *Store) FetchOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := s.fetch(ctx, query, 1, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FetchMany returns at most size rows.
func (s *Store) FetchMany(ctx context.Context, query string, size int, args ...any) ([]Row, error) {
	if size <= 0 {
		return nil, ErrInvalidFetchSize
	}
	return s.fetch(ctx, query, size, args...)
}

// FetchAll returns every row of the result.
func (s *Store) FetchAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	return s.fetch(ctx, query, -1, args...)
}

// fetch reads up to limit rows; a negative limit reads all of them.
func (s *Store) fetch(ctx context.Context, query string, limit int, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := make([]Row, 0)
	for (limit < 0 || len(result) < limit) && rows.Next() {
		values := make(Row, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, values)
	}

	return result, rows.Err()
}

// timestampFormats are the layouts SQLite hands back for DATETIME columns,
// most specific first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time if no layout matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
