package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("crawl run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunCompleted, RunCancelled, RunFailed:
		return true
	}
	return false
}

// Run models one crawl_runs row.
type Run struct {
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	// Config is the crawl parameters as submitted.
	Config       json.RawMessage `json:"configuration,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Status       RunStatus       `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RunCounts
}

// RunCounts are the counters accumulated while a run progresses.
type RunCounts struct {
	TotalItems     int64 `json:"total_items"`
	DuplicateItems int64 `json:"duplicate_items"`
	FailedItems    int64 `json:"failed_items"`
	TargetsOK      int64 `json:"targets_ok"`
	TargetsFailed  int64 `json:"targets_failed"`
}

// IsZero reports whether no counter moved.
func (c RunCounts) IsZero() bool {
	return c == RunCounts{}
}

// Add sums two deltas.
func (c RunCounts) Add(o RunCounts) RunCounts {
	return RunCounts{
		TotalItems:     c.TotalItems + o.TotalItems,
		DuplicateItems: c.DuplicateItems + o.DuplicateItems,
		FailedItems:    c.FailedItems + o.FailedItems,
		TargetsOK:      c.TargetsOK + o.TargetsOK,
		TargetsFailed:  c.TargetsFailed + o.TargetsFailed,
	}
}

// RunRepository persists crawl runs and their counters.
type RunRepository interface {
	// StartRun inserts the run as running. Repeated calls for the same id are
	// no-ops.
	StartRun(ctx context.Context, id uuid.UUID, source string, config json.RawMessage, startedAt time.Time) error
	// AddCounts increments the run's counters by delta.
	AddCounts(ctx context.Context, id uuid.UUID, delta RunCounts) error
	// FinishRun records the terminal status.
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
