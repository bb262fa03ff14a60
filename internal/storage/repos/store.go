package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

var countableTables = map[string]bool{
	"patients":          true,
	"preferences":       true,
	"schema_migrations": true,
}

// Count returns the row count of one of the known tables.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if !countableTables[table] {
		return 0, fmt.Errorf("count: unknown table %q", table)
	}
	var c int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}
