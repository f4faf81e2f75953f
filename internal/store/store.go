package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"jobtick/internal/job"
	logx "jobtick/pkg/logx"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("job name already exists")
)

// Config configures persistence.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local store (tests, ephemeral deployments)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable source of truth for job definitions and run history.
//
// It is the only state that survives restarts; everything the scheduler keeps
// in memory (the live set) is reconstructable or intentionally discarded.
type Store interface {
	CreateJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, id string) (job.Job, error)
	GetJobByName(ctx context.Context, name string) (job.Job, error)
	ListJobs(ctx context.Context) ([]job.Job, error)
	ListActiveJobs(ctx context.Context) ([]job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) error
	DeleteJob(ctx context.Context, id string) error

	// UpdateJobScheduling persists only the fields the executor owns: the
	// last/next execution times and the retry markers. Everything a user can
	// mutate while a run is in flight (status, schedule, config) is left
	// untouched, and a next_execution persisted for a time after last and
	// before next wins over next, so a manual trigger issued mid-run is not
	// pushed back to the natural tick.
	UpdateJobScheduling(ctx context.Context, id string, last time.Time, next *time.Time, retryAttempt int, retryOf string) error

	CreateExecution(ctx context.Context, e *job.Execution) error
	UpdateExecution(ctx context.Context, e job.Execution) error
	ListExecutions(ctx context.Context, jobID string, limit int) ([]job.Execution, error)

	// CountExecutions reports how many executions exist for a job; an empty
	// jobID counts across all jobs.
	CountExecutions(ctx context.Context, jobID string) (int64, error)

	// FailAbandoned marks executions stuck in pending/running as failed with
	// the given message. Called once at loop startup: an execution that was
	// in flight when the previous process died is treated as abandoned, never
	// re-triggered purely from restart.
	FailAbandoned(ctx context.Context, msg string) (int64, error)

	// PruneExecutions deletes terminal executions completed before cutoff.
	// An empty jobID prunes across all jobs.
	PruneExecutions(ctx context.Context, jobID string, cutoff time.Time) (int64, error)

	Close() error
}

// effectiveNext resolves the next-execution time for a scheduling update.
// An existing value set after the run started and earlier than the proposed
// tick is a mid-run override and is kept.
func effectiveNext(existing, proposed *time.Time, last time.Time) *time.Time {
	if existing == nil || !existing.After(last) {
		return proposed
	}
	if proposed == nil || existing.Before(*proposed) {
		return existing
	}
	return proposed
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
