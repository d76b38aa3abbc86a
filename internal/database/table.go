package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are
	// not plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid SQL identifier")

	// ErrNoColumns is returned when a table has no columns.
	ErrNoColumns = errors.New("table has no columns")
)

// identifierPattern matches unquoted SQLite identifiers.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// typePattern matches column type declarations such as
// "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT NOT NULL" or "VARCHAR(64)".
var typePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ (),]*$`)

// Column is a column name and its type declaration.
type Column struct {
	Name string
	Type string
}

// Table describes a table for CreateTable.
type Table struct {
	Name    string
	Columns []Column
}

// Validate checks the table and column names and column types.
func (t Table) Validate() error {
	if !identifierPattern.MatchString(t.Name) {
		return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoColumns, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if !identifierPattern.MatchString(c.Name) {
			return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c.Name)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidIdentifier, c.Name)
		}
		seen[key] = struct{}{}
		if c.Type != "" && !typePattern.MatchString(c.Type) {
			return fmt.Errorf("%w: type %q of column %s", ErrInvalidIdentifier, c.Type, c.Name)
		}
	}
	return nil
}

// SQL returns the CREATE TABLE IF NOT EXISTS statement.
func (t Table) SQL() string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Type == "" {
			defs = append(defs, c.Name)
			continue
		}
		defs = append(defs, c.Name+" "+c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", "))
}

// CreateTable creates the table if it does not exist yet.
func (s *Store) CreateTable(ctx context.Context, t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, t.SQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return nil
}
