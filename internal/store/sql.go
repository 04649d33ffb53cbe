package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/beaconhq/beacon/internal/loggy"
)

// SQLStore implements Store on top of the kv_store table
type SQLStore struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB, logger *loggy.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the value for a key
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrNotInitialized
	}

	q := squirrel.Select("value").
		From("kv_store").
		Where(squirrel.Eq{"key": key}).
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return "", false, fmt.Errorf("building get query: %w", err)
	}

	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("executing get query: %w", err)
	}

	return value, true, nil
}

// Set writes the value for a key, replacing any previous value. The write
// is a single upsert statement so the key is never observed half-written.
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	now := time.Now().UTC()

	q := squirrel.Insert("kv_store").
		Columns("key", "value", "updated_at").
		Values(key, value, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set query: %w", err)
	}

	s.logger.Debug("Store key written", "key", key, "bytes", len(value))
	return nil
}

// Remove deletes a key
func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	q := squirrel.Delete("kv_store").
		Where(squirrel.Eq{"key": key})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building remove query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing remove query: %w", err)
	}

	return nil
}
