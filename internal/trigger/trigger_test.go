package trigger

import (
	"testing"
	"time"

	"jobtick/internal/job"
)

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return tm
}

func TestIntervalNeverRunIsDueImmediately(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	j := job.Job{
		Name:     "fetch",
		Type:     "shell",
		Status:   job.StatusActive,
		Schedule: job.Schedule{Interval: 2 * time.Hour},
	}
	if !ev.IsDue(j, time.Now()) {
		t.Fatal("never-run job should be due immediately")
	}
}

func TestIntervalDueAfterElapsed(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	last := mustUTC(t, "2024-01-01T01:00:00Z")
	j := job.Job{
		Status:        job.StatusActive,
		Schedule:      job.Schedule{Interval: 2 * time.Hour},
		LastExecution: &last,
	}

	if ev.IsDue(j, mustUTC(t, "2024-01-01T02:59:59Z")) {
		t.Fatal("due before interval elapsed")
	}
	if !ev.IsDue(j, mustUTC(t, "2024-01-01T03:00:00Z")) {
		t.Fatal("not due at exactly last+interval")
	}

	next := ev.Next(j, last)
	if want := mustUTC(t, "2024-01-01T03:00:00Z"); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestCronNextFire(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	last := mustUTC(t, "2024-01-01T01:00:00Z")
	j := job.Job{
		Status:        job.StatusActive,
		Schedule:      job.Schedule{Cron: "0 */2 * * *"},
		LastExecution: &last,
	}

	next := ev.Next(j, last)
	if want := mustUTC(t, "2024-01-01T02:00:00Z"); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
	if ev.IsDue(j, mustUTC(t, "2024-01-01T01:30:00Z")) {
		t.Fatal("due before cron tick")
	}
	if !ev.IsDue(j, mustUTC(t, "2024-01-01T02:00:00Z")) {
		t.Fatal("not due at cron tick")
	}
}

func TestNextIsDeterministic(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	ref := mustUTC(t, "2024-03-15T10:20:30Z")
	jobs := []job.Job{
		{Schedule: job.Schedule{Cron: "*/5 * * * *"}},
		{Schedule: job.Schedule{Cron: "@hourly"}},
		{Schedule: job.Schedule{Interval: 45 * time.Minute}},
	}
	for _, j := range jobs {
		a := ev.Next(j, ref)
		b := ev.Next(j, ref)
		if !a.Equal(b) {
			t.Fatalf("Next not deterministic for %v: %v != %v", j.Schedule, a, b)
		}
	}
}

func TestPausedJobNeverDue(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	j := job.Job{
		Status:   job.StatusPaused,
		Schedule: job.Schedule{Interval: time.Minute},
	}
	if ev.IsDue(j, time.Now()) {
		t.Fatal("paused job must not be due")
	}
}

func TestPendingRetryHonorsNextExecution(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	last := mustUTC(t, "2024-01-01T00:00:00Z")
	retryAt := mustUTC(t, "2024-01-01T00:01:00Z")
	j := job.Job{
		Status:        job.StatusActive,
		Schedule:      job.Schedule{Interval: 2 * time.Hour},
		LastExecution: &last,
		NextExecution: &retryAt,
		RetryAttempt:  1,
	}

	// Natural tick would be 02:00 but the retry fires at 00:01.
	if ev.IsDue(j, mustUTC(t, "2024-01-01T00:00:30Z")) {
		t.Fatal("retry due before its delay elapsed")
	}
	if !ev.IsDue(j, retryAt) {
		t.Fatal("retry not due at its scheduled time")
	}
}

func TestManualTriggerOverridesNaturalTick(t *testing.T) {
	t.Parallel()
	ev := New(time.UTC)
	last := mustUTC(t, "2024-01-01T00:00:00Z")
	now := mustUTC(t, "2024-01-01T00:10:00Z")
	j := job.Job{
		Status:        job.StatusActive,
		Schedule:      job.Schedule{Interval: 2 * time.Hour},
		LastExecution: &last,
	}

	if ev.IsDue(j, now) {
		t.Fatal("due long before natural tick")
	}
	// trigger_job sets NextExecution=now; the next poll must pick it up.
	j.NextExecution = &now
	if !ev.IsDue(j, now) {
		t.Fatal("manual trigger not honored")
	}

	// A stale future NextExecution must not delay the natural tick.
	future := mustUTC(t, "2024-06-01T00:00:00Z")
	j.NextExecution = &future
	if !ev.IsDue(j, mustUTC(t, "2024-01-01T02:00:00Z")) {
		t.Fatal("stale future NextExecution trusted over recomputed tick")
	}
}
