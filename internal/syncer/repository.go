package syncer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/remote"
)

// Repository defines persistence for sync logs and dead items
type Repository interface {
	// CreateSyncLog records the outcome of one item's sync attempt
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// ListSyncLogs returns recent sync logs, newest first. An empty
	// entityType returns logs for all entities.
	ListSyncLogs(ctx context.Context, entityType EntityType, limit int) ([]*SyncLog, error)

	// LatestSyncLog returns the most recent log for a specific entity
	LatestSyncLog(ctx context.Context, entityType EntityType, entityID string) (*SyncLog, error)

	// RecordDeadItem persists an item removed from a queue permanently
	RecordDeadItem(ctx context.Context, item *DeadItem) error

	// ListDeadItems returns dead items, newest first
	ListDeadItems(ctx context.Context, limit int) ([]*DeadItem, error)
}

// SQLRepository implements Repository using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL sync repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSyncLog records the outcome of one item's sync attempt
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	q := squirrel.Insert("sync_logs").
		Columns("id", "sync_type", "entity_type", "entity_id", "success", "error_type", "error_message", "items_synced", "started_at", "completed_at").
		Values(log.ID, log.SyncType, log.EntityType, log.EntityID, log.Success, log.ErrorType, log.ErrorMessage, log.ItemsSynced, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// ListSyncLogs returns recent sync logs, newest first
func (r *SQLRepository) ListSyncLogs(ctx context.Context, entityType EntityType, limit int) ([]*SyncLog, error) {
	q := squirrel.Select("id", "sync_type", "entity_type", "entity_id", "success", "error_type", "error_message", "items_synced", "started_at", "completed_at").
		From("sync_logs").
		OrderBy("completed_at DESC")

	if entityType != "" {
		q = q.Where(squirrel.Eq{"entity_type": entityType})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// LatestSyncLog returns the most recent log for a specific entity
func (r *SQLRepository) LatestSyncLog(ctx context.Context, entityType EntityType, entityID string) (*SyncLog, error) {
	q := squirrel.Select("id", "sync_type", "entity_type", "entity_id", "success", "error_type", "error_message", "items_synced", "started_at", "completed_at").
		From("sync_logs").
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("completed_at DESC").
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building latest sync log query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing latest sync log query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating sync log rows: %w", err)
		}
		return nil, nil
	}

	return scanSyncLog(rows)
}

// RecordDeadItem persists an item removed from a queue permanently
func (r *SQLRepository) RecordDeadItem(ctx context.Context, item *DeadItem) error {
	q := squirrel.Insert("dead_items").
		Columns("id", "entity_type", "payload", "reason", "last_error", "created_at").
		Values(item.ID, item.EntityType, item.Payload, item.Reason, item.LastError, item.CreatedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building record dead item query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing record dead item query: %w", err)
	}

	return nil
}

// ListDeadItems returns dead items, newest first
func (r *SQLRepository) ListDeadItems(ctx context.Context, limit int) ([]*DeadItem, error) {
	q := squirrel.Select("id", "entity_type", "payload", "reason", "last_error", "created_at").
		From("dead_items").
		OrderBy("created_at DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list dead items query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list dead items query: %w", err)
	}
	defer rows.Close()

	var items []*DeadItem
	for rows.Next() {
		var item DeadItem
		var lastError sql.NullString
		if err := rows.Scan(&item.ID, &item.EntityType, &item.Payload, &item.Reason, &lastError, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning dead item row: %w", err)
		}
		item.LastError = lastError.String
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead item rows: %w", err)
	}

	return items, nil
}

func scanSyncLog(rows *sql.Rows) (*SyncLog, error) {
	var log SyncLog
	var errorType, errorMessage sql.NullString

	err := rows.Scan(
		&log.ID,
		&log.SyncType,
		&log.EntityType,
		&log.EntityID,
		&log.Success,
		&errorType,
		&errorMessage,
		&log.ItemsSynced,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sync log row: %w", err)
	}

	if errorType.Valid {
		log.ErrorType = remote.ErrorKind(errorType.String)
	}
	log.ErrorMessage = errorMessage.String

	return &log, nil
}
