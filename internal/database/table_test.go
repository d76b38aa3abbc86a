package database

import (
	"context"
	"errors"
	"testing"
)

func TestTableValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		table   Table
		wantErr error
	}{
		{
			name:  "valid",
			table: Table{Name: "ips", Columns: []Column{{Name: "id", Type: "INTEGER PRIMARY KEY"}, {Name: "ip", Type: "VARCHAR(45)"}}},
		},
		{
			name:  "untyped column",
			table: Table{Name: "ips", Columns: []Column{{Name: "ip"}}},
		},
		{
			name:    "bad table name",
			table:   Table{Name: "ips; DROP TABLE x", Columns: []Column{{Name: "ip", Type: "TEXT"}}},
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "empty table name",
			table:   Table{Columns: []Column{{Name: "ip", Type: "TEXT"}}},
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "no columns",
			table:   Table{Name: "ips"},
			wantErr: ErrNoColumns,
		},
		{
			name:    "bad column name",
			table:   Table{Name: "ips", Columns: []Column{{Name: "1ip", Type: "TEXT"}}},
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "duplicate column",
			table:   Table{Name: "ips", Columns: []Column{{Name: "ip", Type: "TEXT"}, {Name: "IP", Type: "TEXT"}}},
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "injected type",
			table:   Table{Name: "ips", Columns: []Column{{Name: "ip", Type: "TEXT); DROP TABLE x; --"}}},
			wantErr: ErrInvalidIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.table.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, expected nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestTableSQL(t *testing.T) {
	t.Parallel()

	table := Table{
		Name: "ips",
		Columns: []Column{
			{Name: "id", Type: "INTEGER PRIMARY KEY"},
			{Name: "ip"},
		},
	}
	expected := "CREATE TABLE IF NOT EXISTS ips (id INTEGER PRIMARY KEY, ip)"
	if got := table.SQL(); got != expected {
		t.Errorf("SQL() = %q, expected %q", got, expected)
	}
}

func TestCreateTable(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	table := Table{Name: "ips", Columns: []Column{{Name: "ip", Type: "TEXT"}}}

	if err := s.CreateTable(ctx, table); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	// Creating again is a no-op.
	if err := s.CreateTable(ctx, table); err != nil {
		t.Fatalf("second CreateTable() error = %v", err)
	}
	if _, err := s.Execute(ctx, "INSERT INTO ips (ip) VALUES (?)", "198.51.100.1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	err := s.CreateTable(ctx, Table{Name: "bad name", Columns: []Column{{Name: "ip"}}})
	if !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("CreateTable() error = %v, expected ErrInvalidIdentifier", err)
	}
}
