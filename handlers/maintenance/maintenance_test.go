package maintenance

import (
	"context"
	"testing"
	"time"

	"jobtick/internal/executor"
	"jobtick/internal/job"
	"jobtick/internal/store"
)

func seedExecution(t *testing.T, st store.Store, id string, completed time.Time) {
	t.Helper()
	done := completed
	e := &job.Execution{
		ID:          id,
		JobID:       "j1",
		Status:      job.RunSuccess,
		StartedAt:   completed.Add(-time.Second),
		CompletedAt: &done,
		CreatedAt:   completed.Add(-time.Second),
	}
	if err := st.CreateExecution(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func TestPrunesOldHistory(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	now := time.Now()
	seedExecution(t, st, "old", now.Add(-48*time.Hour))
	seedExecution(t, st, "recent", now.Add(-time.Hour))

	h := New(Options{Store: st})
	res, err := h(context.Background(), job.Job{
		Name:   "cleanup",
		Config: map[string]any{"retention": "24h"},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if pruned := res["pruned"].(int64); pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	left, _ := st.ListExecutions(context.Background(), "j1", 10)
	if len(left) != 1 || left[0].ID != "recent" {
		t.Fatalf("wrong executions survived: %+v", left)
	}
}

func TestInvalidRetentionIsNotRetriable(t *testing.T) {
	t.Parallel()
	h := New(Options{Store: store.NewMemory()})
	_, err := h(context.Background(), job.Job{
		Name:   "cleanup",
		Config: map[string]any{"retention": "yesterday"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !executor.IsNoRetry(err) {
		t.Fatalf("config error should not be retriable: %v", err)
	}
}
