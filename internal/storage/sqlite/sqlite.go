// Package sqlite has the SQLite implementation of the task history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/storage"
	"github.com/slok/ocrtrack/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.HistoryRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.HistoryRepository = &Repository{}

// NewRepository creates a new SQLite repository, the schema is migrated on creation.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	schema, err := migrations.NewSchema(migrations.SchemaConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}
	version, err := schema.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s (schema version %d)", cfg.DBPath, version)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveEntry stores a finished task, an entry with the same local ID is replaced.
func (r *Repository) SaveEntry(ctx context.Context, e model.HistoryEntry) error {
	if e.LocalID == "" {
		return fmt.Errorf("local id is required: %w", model.ErrNotValid)
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("only finished tasks can be stored, got %s: %w", e.Status, model.ErrNotValid)
	}

	result, err := encodeResult(e.Result)
	if err != nil {
		return fmt.Errorf("could not encode result: %w", err)
	}

	query := `
		INSERT INTO history (
			local_id, task_id,
			file_name, content_type, size_bytes,
			status, error, result,
			created_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_id) DO UPDATE SET
			task_id = excluded.task_id,
			file_name = excluded.file_name,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes,
			status = excluded.status,
			error = excluded.error,
			result = excluded.result,
			created_at = excluded.created_at,
			finished_at = excluded.finished_at
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		e.LocalID,
		e.TaskID,
		e.FileName,
		e.ContentType,
		e.SizeBytes,
		e.Status,
		e.ErrorMessage,
		result,
		e.CreatedAt.UnixMilli(),
		e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("could not save history entry: %w", err)
	}

	r.logger.Debugf("Saved history entry: %s", e.LocalID)
	return nil
}

// GetEntry returns the most recently finished entry of a server task ID.
func (r *Repository) GetEntry(ctx context.Context, taskID string) (*model.HistoryEntry, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	query := `
		SELECT
			local_id, task_id,
			file_name, content_type, size_bytes,
			status, error, result,
			created_at, finished_at
		FROM history
		WHERE task_id = ?
		ORDER BY finished_at DESC
		LIMIT 1
	`

	entry, err := r.scanRow(r.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("history entry of task %s: %w", taskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query history entry: %w", err)
	}

	return &entry, nil
}

// ListEntries returns the entries matching the filter, most recently finished first.
func (r *Repository) ListEntries(ctx context.Context, filter model.HistoryFilter) ([]model.HistoryEntry, error) {
	if filter.Limit < 0 {
		return nil, fmt.Errorf("limit can't be negative: %w", model.ErrNotValid)
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `
		SELECT
			local_id, task_id,
			file_name, content_type, size_bytes,
			status, error, result,
			created_at, finished_at
		FROM history
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, local_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		entry, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// DeleteEntriesBefore deletes the entries finished before t.
func (r *Repository) DeleteEntriesBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM history WHERE finished_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("could not delete history entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get rows affected: %w", err)
	}

	r.logger.Debugf("Deleted %d history entries", rows)
	return rows, nil
}

// DeleteEntries deletes the entries of a server task ID.
func (r *Repository) DeleteEntries(ctx context.Context, taskID string) (int64, error) {
	if taskID == "" {
		return 0, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM history WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("could not delete history entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get rows affected: %w", err)
	}

	r.logger.Debugf("Deleted %d history entries of task %s", rows, taskID)
	return rows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRow(s scanner) (model.HistoryEntry, error) {
	var (
		entry                 model.HistoryEntry
		result                sql.NullString
		createdAt, finishedAt int64
	)

	err := s.Scan(
		&entry.LocalID,
		&entry.TaskID,
		&entry.FileName,
		&entry.ContentType,
		&entry.SizeBytes,
		&entry.Status,
		&entry.ErrorMessage,
		&result,
		&createdAt,
		&finishedAt,
	)
	if err != nil {
		return model.HistoryEntry{}, err
	}

	if result.Valid {
		entry.Result, err = decodeResult(result.String)
		if err != nil {
			return model.HistoryEntry{}, fmt.Errorf("could not decode result of %s: %w", entry.LocalID, err)
		}
	}
	entry.CreatedAt = timeFromUnixMilli(createdAt)
	entry.FinishedAt = timeFromUnixMilli(finishedAt)

	return entry, nil
}

func timeFromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
