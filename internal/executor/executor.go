// Package executor runs a single job dispatch: it creates the execution
// record, invokes the registered handler under the job's timeout, finalizes
// the outcome, and decides whether a retry gets scheduled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"jobtick/internal/eventbus"
	"jobtick/internal/job"
	"jobtick/internal/registry"
	"jobtick/internal/store"
	"jobtick/internal/trigger"
	logx "jobtick/pkg/logx"
)

// Executor is safe for concurrent use; the scheduler loop calls Execute from
// one goroutine per dispatched job.
type Executor struct {
	store store.Store
	reg   *registry.Registry
	eval  trigger.Evaluator
	log   logx.Logger
	bus   eventbus.Bus

	// now is an injectable clock for tests.
	now func() time.Time
}

func New(st store.Store, reg *registry.Registry, eval trigger.Evaluator, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store: st,
		reg:   reg,
		eval:  eval,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}
}

// RunEvent is emitted on the event bus for run lifecycle events.
type RunEvent struct {
	ExecutionID string        `json:"execution_id"`
	JobID       string        `json:"job_id"`
	JobName     string        `json:"job_name"`
	JobType     string        `json:"job_type"`
	Attempt     int           `json:"attempt"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type handlerResult struct {
	payload map[string]any
	err     error
}

// Execute performs one dispatch of j and returns the finalized execution.
//
// The job passed in carries the pending-retry markers (RetryAttempt/RetryOf)
// when this dispatch is a retry; a fresh trigger carries zero values. Errors
// from the store are logged, never returned: one job's persistence trouble
// must not surface into the scheduler loop.
func (x *Executor) Execute(ctx context.Context, j job.Job) job.Execution {
	track := runTracker{store: x.store, log: x.log}

	exec := job.Execution{
		ID:           uuid.NewString(),
		JobID:        j.ID,
		Status:       job.RunPending,
		RetryAttempt: j.RetryAttempt,
		TriggeredBy:  j.RetryOf,
		CreatedAt:    x.now(),
	}
	track.create(ctx, &exec)

	started := x.now()
	exec.StartedAt = started
	track.transition(ctx, &exec, job.RunRunning, started)

	// Advance LastExecution immediately so due-ness moves forward even if the
	// process dies mid-run; the abandoned execution is reconciled on restart.
	j.LastExecution = &started
	x.persistScheduling(ctx, j, started)

	log := x.log.With(
		logx.String("job", j.Name),
		logx.String("execution_id", exec.ID),
		logx.Int("attempt", exec.RetryAttempt),
	)
	log.Debug("run started")
	x.publish(eventbus.RunStarted, exec, j, 0, "")

	h, err := x.reg.Resolve(j.Type)
	if err != nil {
		// Missing registration will not self-heal; record the failure and skip
		// retry scheduling entirely.
		exec.Error = err.Error()
		now := x.now()
		track.transition(ctx, &exec, job.RunFailed, now)
		x.finalizeJob(ctx, j, exec, false)
		log.Error("run failed: handler not registered", logx.String("job_type", j.Type))
		x.publish(eventbus.RunFailed, exec, j, now.Sub(started), exec.Error)
		return exec
	}

	payload, runErr, timedOut := x.invoke(ctx, h, j)
	finished := x.now()
	dur := finished.Sub(started)

	if runErr == nil {
		exec.Result = payload
		track.transition(ctx, &exec, job.RunSuccess, finished)
		x.finalizeJob(ctx, j, exec, false)
		if dur >= 750*time.Millisecond {
			log.Info("run completed", logx.Duration("dur", dur))
		} else {
			log.Debug("run completed", logx.Duration("dur", dur))
		}
		x.publish(eventbus.RunCompleted, exec, j, dur, "")
		return exec
	}

	exec.Error = runErr.Error()
	track.transition(ctx, &exec, job.RunFailed, finished)

	retriable := !IsNoRetry(runErr)
	scheduled := x.finalizeJob(ctx, j, exec, retriable)

	evType := eventbus.RunFailed
	if timedOut {
		evType = eventbus.RunTimeout
	}
	log.Warn("run failed",
		logx.Err(runErr),
		logx.Duration("dur", dur),
		logx.Bool("timeout", timedOut),
		logx.Bool("retry_scheduled", scheduled),
	)
	x.publish(evType, exec, j, dur, exec.Error)
	return exec
}

// invoke runs the handler on its own goroutine under the job's timeout.
//
// On timeout the run is finalized immediately; the leaked handler may keep
// going in the background and its eventual result is silently discarded,
// never double-recorded.
func (x *Executor) invoke(ctx context.Context, h registry.Handler, j job.Job) (payload map[string]any, err error, timedOut bool) {
	runCtx := ctx
	var cancel context.CancelFunc
	if j.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	done := make(chan handlerResult, 1)
	go func() {
		// Guard against handler panics: convert to error so one bad job can't
		// take down its worker goroutine.
		defer func() {
			if r := recover(); r != nil {
				x.log.Error("handler panic",
					logx.String("job", j.Name), logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				done <- handlerResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, herr := h(runCtx, j.Clone())
		done <- handlerResult{payload: p, err: herr}
	}()

	select {
	case res := <-done:
		return res.payload, res.err, false
	case <-runCtx.Done():
		if j.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("handler timed out after %s", j.Timeout), true
		}
		// Shutdown-forced cancellation.
		return nil, runCtx.Err(), false
	}
}

// finalizeJob computes the job's next due time after an execution and
// persists it. When the failure is retriable and budget remains, the next
// dispatch becomes a retry: NextExecution moves to now+RetryDelay and the
// retry markers link back to the failed execution. Otherwise the markers are
// cleared and the job waits for its next natural schedule tick.
func (x *Executor) finalizeJob(ctx context.Context, j job.Job, exec job.Execution, retriable bool) (retryScheduled bool) {
	if exec.Status == job.RunFailed && retriable && exec.RetryAttempt < j.RetryCount {
		at := x.now().Add(j.RetryDelay)
		j.NextExecution = &at
		j.RetryAttempt = exec.RetryAttempt + 1
		j.RetryOf = exec.ID
		x.persistScheduling(ctx, j, exec.StartedAt)
		return true
	}

	j.RetryAttempt = 0
	j.RetryOf = ""
	next := x.eval.Next(j, exec.StartedAt)
	if next.IsZero() {
		j.NextExecution = nil
	} else {
		j.NextExecution = &next
	}
	x.persistScheduling(ctx, j, exec.StartedAt)
	return false
}

// persistScheduling writes only the scheduler-owned columns. The job row may
// have been mutated by a user while this run was in flight (pause, schedule
// edit, manual trigger); those fields must never be written back from the
// copy read at dispatch time.
func (x *Executor) persistScheduling(ctx context.Context, j job.Job, started time.Time) {
	if err := x.store.UpdateJobScheduling(ctx, j.ID, started, j.NextExecution, j.RetryAttempt, j.RetryOf); err != nil {
		x.log.Error("persist job scheduling failed", logx.String("job", j.Name), logx.Err(err))
	}
}

func (x *Executor) publish(evType string, exec job.Execution, j job.Job, dur time.Duration, msg string) {
	if x.bus == nil {
		return
	}
	x.bus.Publish(eventbus.Event{Type: evType, Time: x.now(), Data: RunEvent{
		ExecutionID: exec.ID,
		JobID:       j.ID,
		JobName:     j.Name,
		JobType:     j.Type,
		Attempt:     exec.RetryAttempt,
		Started:     exec.StartedAt,
		Duration:    dur,
		Error:       msg,
	}})
}
