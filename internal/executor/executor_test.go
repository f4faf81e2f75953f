package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobtick/internal/eventbus"
	"jobtick/internal/job"
	"jobtick/internal/registry"
	"jobtick/internal/store"
	"jobtick/internal/trigger"
	logx "jobtick/pkg/logx"
)

type fixture struct {
	store *store.Memory
	reg   *registry.Registry
	exec  *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	reg := registry.New()
	ex := New(st, reg, trigger.New(time.UTC), logx.Nop(), eventbus.New())
	return &fixture{store: st, reg: reg, exec: ex}
}

func (f *fixture) addJob(t *testing.T, j *job.Job) {
	t.Helper()
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.reg.Register("ok", func(ctx context.Context, j job.Job) (map[string]any, error) {
		return map[string]any{"count": 42}, nil
	})

	j := &job.Job{
		ID: "j1", Name: "fetch", Type: "ok",
		Schedule: job.Schedule{Interval: 2 * time.Hour},
		Status:   job.StatusActive,
	}
	f.addJob(t, j)

	exec := f.exec.Execute(context.Background(), j.Clone())

	if exec.Status != job.RunSuccess {
		t.Fatalf("status = %s, want success", exec.Status)
	}
	if exec.Result["count"] != 42 {
		t.Fatalf("result = %v", exec.Result)
	}
	if exec.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	got, err := f.store.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.LastExecution == nil || !got.LastExecution.Equal(exec.StartedAt) {
		t.Fatalf("LastExecution = %v, want %v", got.LastExecution, exec.StartedAt)
	}
	want := exec.StartedAt.Add(2 * time.Hour)
	if got.NextExecution == nil || !got.NextExecution.Equal(want) {
		t.Fatalf("NextExecution = %v, want %v", got.NextExecution, want)
	}
	if got.RetryAttempt != 0 || got.RetryOf != "" {
		t.Fatalf("retry markers set on success: %+v", got)
	}
}

func TestExecuteFailureSchedulesRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.reg.Register("boom", func(ctx context.Context, j job.Job) (map[string]any, error) {
		return nil, errors.New("kaput")
	})

	j := &job.Job{
		ID: "j1", Name: "brittle", Type: "boom",
		Schedule:   job.Schedule{Interval: time.Hour},
		Status:     job.StatusActive,
		RetryCount: 2,
		RetryDelay: time.Minute,
	}
	f.addJob(t, j)

	before := time.Now()
	exec := f.exec.Execute(context.Background(), j.Clone())

	if exec.Status != job.RunFailed || exec.Error != "kaput" {
		t.Fatalf("exec = %+v", exec)
	}

	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.RetryAttempt != 1 || got.RetryOf != exec.ID {
		t.Fatalf("retry markers = attempt %d of %q, want 1 of %q", got.RetryAttempt, got.RetryOf, exec.ID)
	}
	if got.NextExecution == nil {
		t.Fatal("NextExecution nil after retriable failure")
	}
	if got.NextExecution.Before(before.Add(time.Minute)) || got.NextExecution.After(time.Now().Add(time.Minute)) {
		t.Fatalf("NextExecution = %v, want ~now+1m", got.NextExecution)
	}
}

func TestRetryBudgetExhaustedRevertsToNaturalTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.reg.Register("boom", func(ctx context.Context, j job.Job) (map[string]any, error) {
		return nil, errors.New("always fails")
	})

	j := &job.Job{
		ID: "j1", Name: "brittle", Type: "boom",
		Schedule:   job.Schedule{Interval: 2 * time.Hour},
		Status:     job.StatusActive,
		RetryCount: 2,
		RetryDelay: time.Millisecond,
	}
	f.addJob(t, j)

	// Drive the retry cycle the way the loop would: re-read the job (with its
	// retry markers) before each dispatch.
	var last job.Execution
	for i := 0; i < 3; i++ {
		cur, err := f.store.GetJob(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if cur.RetryAttempt != i {
			t.Fatalf("dispatch %d: RetryAttempt = %d", i, cur.RetryAttempt)
		}
		last = f.exec.Execute(context.Background(), cur)
	}

	execs, _ := f.store.ListExecutions(context.Background(), "j1", 10)
	if len(execs) != 3 {
		t.Fatalf("executions = %d, want 3", len(execs))
	}
	seen := map[int]bool{}
	for _, e := range execs {
		if e.Status != job.RunFailed {
			t.Fatalf("execution %s status = %s", e.ID, e.Status)
		}
		seen[e.RetryAttempt] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Fatalf("missing retry attempt %d", i)
		}
	}

	// Budget exhausted: markers cleared, next due time is the natural tick.
	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.RetryAttempt != 0 || got.RetryOf != "" {
		t.Fatalf("retry markers not cleared: %+v", got)
	}
	want := last.StartedAt.Add(2 * time.Hour)
	if got.NextExecution == nil || !got.NextExecution.Equal(want) {
		t.Fatalf("NextExecution = %v, want natural tick %v", got.NextExecution, want)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	release := make(chan struct{})
	var lateCalls atomic.Int32
	_ = f.reg.Register("slow", func(ctx context.Context, j job.Job) (map[string]any, error) {
		<-release
		lateCalls.Add(1)
		return map[string]any{"late": true}, nil
	})

	j := &job.Job{
		ID: "j1", Name: "sleepy", Type: "slow",
		Schedule: job.Schedule{Interval: time.Hour},
		Status:   job.StatusActive,
		Timeout:  50 * time.Millisecond,
	}
	f.addJob(t, j)

	start := time.Now()
	exec := f.exec.Execute(context.Background(), j.Clone())
	elapsed := time.Since(start)

	if exec.Status != job.RunFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.Error == "" || !contains(exec.Error, "timed out") {
		t.Fatalf("error = %q, want timeout message", exec.Error)
	}
	// Finalization must not block on the leaked handler.
	if elapsed > time.Second {
		t.Fatalf("Execute took %v, should return at ~timeout", elapsed)
	}

	// Let the leaked handler finish; its result must be discarded.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if lateCalls.Load() != 1 {
		t.Fatalf("leaked handler did not complete")
	}
	execs, _ := f.store.ListExecutions(context.Background(), "j1", 10)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	if execs[0].Status != job.RunFailed || execs[0].Result != nil {
		t.Fatalf("leaked handler result recorded: %+v", execs[0])
	}
}

func TestUnknownJobTypeFailsWithoutRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	j := &job.Job{
		ID: "j1", Name: "orphan", Type: "nobody-home",
		Schedule:   job.Schedule{Interval: time.Hour},
		Status:     job.StatusActive,
		RetryCount: 5,
		RetryDelay: time.Minute,
	}
	f.addJob(t, j)

	exec := f.exec.Execute(context.Background(), j.Clone())

	if exec.Status != job.RunFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if !contains(exec.Error, "no handler registered") {
		t.Fatalf("error = %q", exec.Error)
	}

	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.RetryAttempt != 0 || got.RetryOf != "" {
		t.Fatalf("retry scheduled for unresolvable job: %+v", got)
	}
	if got.NextExecution == nil || !got.NextExecution.Equal(exec.StartedAt.Add(time.Hour)) {
		t.Fatalf("NextExecution = %v, want natural tick", got.NextExecution)
	}
}

func TestNoRetryErrorSkipsRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.reg.Register("fatal", func(ctx context.Context, j job.Job) (map[string]any, error) {
		return nil, NoRetry(fmt.Errorf("malformed payload"))
	})

	j := &job.Job{
		ID: "j1", Name: "fatal", Type: "fatal",
		Schedule:   job.Schedule{Interval: time.Hour},
		Status:     job.StatusActive,
		RetryCount: 3,
		RetryDelay: time.Minute,
	}
	f.addJob(t, j)

	_ = f.exec.Execute(context.Background(), j.Clone())

	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.RetryAttempt != 0 {
		t.Fatalf("NoRetry failure scheduled a retry: %+v", got)
	}
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.reg.Register("panicky", func(ctx context.Context, j job.Job) (map[string]any, error) {
		panic("oops")
	})

	j := &job.Job{
		ID: "j1", Name: "panicky", Type: "panicky",
		Schedule: job.Schedule{Interval: time.Hour},
		Status:   job.StatusActive,
	}
	f.addJob(t, j)

	exec := f.exec.Execute(context.Background(), j.Clone())
	if exec.Status != job.RunFailed || !contains(exec.Error, "panic") {
		t.Fatalf("exec = %+v", exec)
	}
}

func TestPauseDuringRunIsPreserved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	_ = f.reg.Register("slow", func(ctx context.Context, j job.Job) (map[string]any, error) {
		close(entered)
		<-release
		return nil, nil
	})

	j := &job.Job{
		ID: "j1", Name: "sleepy", Type: "slow",
		Schedule: job.Schedule{Interval: time.Hour},
		Status:   job.StatusActive,
	}
	f.addJob(t, j)

	done := make(chan job.Execution, 1)
	go func() { done <- f.exec.Execute(context.Background(), j.Clone()) }()
	<-entered

	// Pause while the run is in flight, the way PauseJob would.
	cur, err := f.store.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	cur.Status = job.StatusPaused
	if err := f.store.UpdateJob(context.Background(), cur); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	close(release)
	exec := <-done
	if exec.Status != job.RunSuccess {
		t.Fatalf("status = %s, want success", exec.Status)
	}

	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.Status != job.StatusPaused {
		t.Fatalf("status = %q after run finalized, want paused", got.Status)
	}
	if got.NextExecution == nil || !got.NextExecution.Equal(exec.StartedAt.Add(time.Hour)) {
		t.Fatalf("NextExecution = %v, want natural tick", got.NextExecution)
	}
}

func TestManualTriggerDuringRunSurvivesFinalize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	_ = f.reg.Register("slow", func(ctx context.Context, j job.Job) (map[string]any, error) {
		close(entered)
		<-release
		return nil, nil
	})

	j := &job.Job{
		ID: "j1", Name: "sleepy", Type: "slow",
		Schedule: job.Schedule{Interval: time.Hour},
		Status:   job.StatusActive,
	}
	f.addJob(t, j)

	done := make(chan job.Execution, 1)
	go func() { done <- f.exec.Execute(context.Background(), j.Clone()) }()
	<-entered
	time.Sleep(5 * time.Millisecond) // trigger time must land after the run start

	// Manual trigger while the run is in flight, the way TriggerJob would.
	trig := time.Now()
	cur, err := f.store.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	cur.NextExecution = &trig
	if err := f.store.UpdateJob(context.Background(), cur); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	close(release)
	exec := <-done
	if exec.Status != job.RunSuccess {
		t.Fatalf("status = %s, want success", exec.Status)
	}

	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.NextExecution == nil || !got.NextExecution.Equal(trig) {
		t.Fatalf("NextExecution = %v, want manual trigger %v kept over the natural tick", got.NextExecution, trig)
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
