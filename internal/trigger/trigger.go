// Package trigger computes job due-ness from schedule + last execution time.
//
// The evaluator is pure: no store access, no clocks of its own. Callers pass
// "now" in so results are deterministic and restart recovery stays idempotent.
package trigger

import (
	"time"

	"jobtick/internal/job"
)

// Evaluator answers "is this job due?" and "when does it fire next?".
type Evaluator struct {
	loc *time.Location
}

// New returns an evaluator anchored to the given timezone.
// Cron fields (hour, weekday, ...) are interpreted in this location.
func New(loc *time.Location) Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return Evaluator{loc: loc}
}

// IsDue reports whether j should be dispatched at now.
//
// Rules:
//   - Paused jobs are never due.
//   - A pending retry (RetryAttempt > 0) honors NextExecution as-is.
//   - A job that has never executed is due immediately (bootstrap behavior).
//   - Otherwise due-ness is recomputed live from LastExecution + Schedule.
//     A persisted NextExecution earlier than the natural tick is an explicit
//     override (manual "run now") and is honored; a later one is stale data
//     from before a restart or a schedule edit and is ignored.
func (e Evaluator) IsDue(j job.Job, now time.Time) bool {
	if j.Status != job.StatusActive {
		return false
	}
	if j.RetryAttempt > 0 && j.NextExecution != nil {
		return !now.Before(*j.NextExecution)
	}
	if j.LastExecution == nil {
		return true
	}
	next := e.Next(j, *j.LastExecution)
	if next.IsZero() {
		return false
	}
	if j.NextExecution != nil && j.NextExecution.Before(next) {
		next = *j.NextExecution
	}
	return !now.Before(next)
}

// Next computes the next fire time after ref from the job's schedule.
//
// It is deterministic: identical (job, ref) inputs always produce identical
// results. A zero time is returned only for invalid schedules, which are
// rejected at creation time and should not reach evaluation.
func (e Evaluator) Next(j job.Job, ref time.Time) time.Time {
	s := j.Schedule
	switch {
	case s.IsCron():
		sched, err := job.ParseCron(s.Cron)
		if err != nil {
			return time.Time{}
		}
		return sched.Next(ref.In(e.loc))
	case s.IsInterval():
		return ref.Add(s.Interval)
	default:
		return time.Time{}
	}
}
