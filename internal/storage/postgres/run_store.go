package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/racing-crawler/internal/store"
)

const defaultRunsTable = "crawl_runs"

const runColumns = `id, source_name, configuration, started_at, finished_at, status, error_message,
	total_items, duplicate_items, failed_items, targets_ok, targets_failed`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	db    DB
	table string
}

// NewRunStore constructs a RunStore over db.
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: name}, nil
}

// StartRun inserts the run row. A second start for the same id is ignored.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, source string, cfg json.RawMessage, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, source_name, configuration, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING;
	`, s.table)
	var config []byte
	if len(cfg) > 0 {
		config = cfg
	}
	if _, err := s.db.Exec(ctx, query, id, source, config, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// AddCounts increments the counters of a run.
func (s *RunStore) AddCounts(ctx context.Context, id uuid.UUID, delta store.RunCounts) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			total_items = total_items + $1,
			duplicate_items = duplicate_items + $2,
			failed_items = failed_items + $3,
			targets_ok = targets_ok + $4,
			targets_failed = targets_failed + $5
		WHERE id = $6;
	`, s.table)
	tag, err := s.db.Exec(ctx, query,
		delta.TotalItems,
		delta.DuplicateItems,
		delta.FailedItems,
		delta.TargetsOK,
		delta.TargetsFailed,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to add run counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FinishRun marks a run finished with a status and optional error message.
func (s *RunStore) FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`, s.table)
	tag, err := s.db.Exec(ctx, query, finishedAt, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by id.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1;`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, runColumns, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		config []byte
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Source,
		&config,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.TotalItems,
		&run.DuplicateItems,
		&run.FailedItems,
		&run.TargetsOK,
		&run.TargetsFailed,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if len(config) > 0 {
		run.Config = json.RawMessage(config)
	}
	return run, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	s.db.Close()
}
