package shell

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"jobtick/internal/executor"
	"jobtick/internal/job"
)

func testJob(cfg map[string]any) job.Job {
	return job.Job{ID: "j1", Name: "test", Type: "shell", Config: cfg}
}

func TestRunsCommand(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell")
	}
	h := New(Options{})
	res, err := h(context.Background(), testJob(map[string]any{"command": "echo hello"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := res["output"]; got != "hello" {
		t.Fatalf("output = %q", got)
	}
	if code, ok := res["exit_code"].(int); !ok || code != 0 {
		t.Fatalf("exit_code = %v", res["exit_code"])
	}
}

func TestNonZeroExitIsError(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell")
	}
	h := New(Options{})
	res, err := h(context.Background(), testJob(map[string]any{"command": "echo oops >&2; exit 3"}))
	if err == nil {
		t.Fatal("expected error for exit 3")
	}
	if code, _ := res["exit_code"].(int); code != 3 {
		t.Fatalf("exit_code = %v", res["exit_code"])
	}
	if out, _ := res["output"].(string); !strings.Contains(out, "oops") {
		t.Fatalf("stderr not captured: %q", out)
	}
}

func TestMissingCommandIsNotRetriable(t *testing.T) {
	t.Parallel()
	h := New(Options{})
	_, err := h(context.Background(), testJob(nil))
	if err == nil {
		t.Fatal("expected error for missing command")
	}
	if !executor.IsNoRetry(err) {
		t.Fatalf("missing command should not be retriable: %v", err)
	}
}

func TestContextCancelKillsCommand(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	h := New(Options{})
	start := time.Now()
	_, err := h(ctx, testJob(map[string]any{"command": "sleep 10"}))
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("command not killed promptly: %v", elapsed)
	}
}

func TestEnvStrings(t *testing.T) {
	t.Parallel()
	if got := envStrings([]any{"A=1", "nope", "B=2"}); len(got) != 2 {
		t.Fatalf("list form: %v", got)
	}
	if got := envStrings(map[string]any{"A": 1}); len(got) != 1 || got[0] != "A=1" {
		t.Fatalf("map form: %v", got)
	}
	if got := envStrings(nil); got != nil {
		t.Fatalf("nil form: %v", got)
	}
}
