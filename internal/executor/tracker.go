package executor

import (
	"context"
	"time"

	"jobtick/internal/job"
	"jobtick/internal/store"
	logx "jobtick/pkg/logx"
)

// runTracker persists execution lifecycle transitions.
//
// Durability is best-effort: a failed status write is logged and swallowed,
// because dropping one status update is preferable to losing the execution.
// It makes no retry decisions; that stays with the executor.
type runTracker struct {
	store store.Store
	log   logx.Logger
}

func (t runTracker) create(ctx context.Context, e *job.Execution) {
	if err := t.store.CreateExecution(ctx, e); err != nil {
		t.log.Error("persist execution create failed",
			logx.String("execution_id", e.ID), logx.String("job_id", e.JobID), logx.Err(err))
	}
}

// transition moves e to status, stamping CompletedAt for terminal states,
// and persists the result.
func (t runTracker) transition(ctx context.Context, e *job.Execution, status job.RunStatus, now time.Time) {
	e.Status = status
	if status.Terminal() {
		done := now
		e.CompletedAt = &done
	}
	if err := t.store.UpdateExecution(ctx, *e); err != nil {
		t.log.Error("persist execution transition failed",
			logx.String("execution_id", e.ID), logx.String("job_id", e.JobID),
			logx.String("status", string(status)), logx.Err(err))
	}
}
