package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// IPLogFile is the database file name inside the data directory.
const IPLogFile = "torrotate.db"

// ipObservationsTable holds every address seen through a rotating session.
var ipObservationsTable = Table{
	Name: "ip_observations",
	Columns: []Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{Name: "session", Type: "TEXT NOT NULL"},
		{Name: "ip", Type: "TEXT NOT NULL"},
		{Name: "observed_at", Type: "DATETIME NOT NULL"},
	},
}

// Observation is one exit address seen by a session.
type Observation struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	IP         string    `json:"ip"`
	ObservedAt time.Time `json:"observed_at"`
}

// IPLog persists observations in a Store.
type IPLog struct {
	store *Store
}

// Open opens (creating if needed) the IP log in dir.
func Open(dir string) (*IPLog, error) {
	if dir == "" {
		return nil, errors.New("data directory is empty")
	}
	store, err := Connect(filepath.Join(dir, IPLogFile))
	if err != nil {
		return nil, err
	}
	return NewIPLog(context.Background(), store)
}

// NewIPLog wraps an open store and ensures the schema exists.
// The IPLog takes ownership of store.
func NewIPLog(ctx context.Context, store *Store) (*IPLog, error) {
	if err := store.CreateTable(ctx, ipObservationsTable); err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := store.Execute(ctx,
		"CREATE INDEX IF NOT EXISTS idx_ip_observations_observed_at ON ip_observations(observed_at)"); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &IPLog{store: store}, nil
}

// Close closes the underlying store.
func (l *IPLog) Close() error {
	return l.store.Close()
}

// Record stores the observations in one transaction.
// A zero ObservedAt is replaced by the current time.
func (l *IPLog) Record(ctx context.Context, observations ...Observation) error {
	if len(observations) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(observations))
	for _, o := range observations {
		if o.IP == "" {
			return errors.New("observation has empty IP")
		}
		at := o.ObservedAt
		if at.IsZero() {
			at = time.Now()
		}
		rows = append(rows, []any{o.Session, o.IP, at.UTC().Format(time.RFC3339Nano)})
	}
	_, err := l.store.ExecuteMany(ctx,
		"INSERT INTO ip_observations (session, ip, observed_at) VALUES (?, ?, ?)", rows)
	if err != nil {
		return fmt.Errorf("failed to record observations: %w", err)
	}
	return nil
}

// List returns up to limit observations, oldest first.
// A non-positive limit returns all of them.
func (l *IPLog) List(ctx context.Context, limit int) ([]Observation, error) {
	const query = `SELECT id, session, ip, observed_at FROM
		(SELECT id, session, ip, observed_at FROM ip_observations ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := l.store.FetchAll(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	observations := make([]Observation, 0, len(rows))
	for _, r := range rows {
		o, err := scanObservation(r)
		if err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	return observations, nil
}

func scanObservation(r Row) (Observation, error) {
	if len(r) != 4 {
		return Observation{}, fmt.Errorf("unexpected column count %d", len(r))
	}
	id, ok := r[0].(int64)
	if !ok {
		return Observation{}, fmt.Errorf("unexpected id type %T", r[0])
	}
	var o Observation
	o.ID = id
	o.Session = asString(r[1])
	o.IP = asString(r[2])
	switch v := r[3].(type) {
	case time.Time:
		o.ObservedAt = v
	default:
		o.ObservedAt = parseTimestamp(asString(v))
	}
	return o, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
