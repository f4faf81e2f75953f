package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobtick/internal/job"
)

// Memory is an in-process Store. It backs tests and ephemeral deployments
// where run history does not need to survive a restart.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]job.Job
	execs map[string]job.Execution
}

func NewMemory() *Memory {
	return &Memory{
		jobs:  map[string]job.Job{},
		execs: map[string]job.Execution{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateJob(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.jobs {
		if other.Name == j.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, j.Name)
		}
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.UpdatedAt = j.CreatedAt
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) GetJobByName(ctx context.Context, name string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Name == name {
			return j.Clone(), nil
		}
	}
	return job.Job{}, ErrNotFound
}

func (m *Memory) ListJobs(ctx context.Context) ([]job.Job, error) {
	return m.list(func(job.Job) bool { return true })
}

func (m *Memory) ListActiveJobs(ctx context.Context) ([]job.Job, error) {
	return m.list(func(j job.Job) bool { return j.Status == job.StatusActive })
}

func (m *Memory) list(keep func(job.Job) bool) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Job
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateJob(ctx context.Context, j job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	j.UpdatedAt = time.Now()
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *Memory) UpdateJobScheduling(ctx context.Context, id string, last time.Time, next *time.Time, retryAttempt int, retryOf string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	t := last
	j.LastExecution = &t
	j.NextExecution = effectiveNext(j.NextExecution, next, last)
	j.RetryAttempt = retryAttempt
	j.RetryOf = retryOf
	j.UpdatedAt = time.Now()
	m.jobs[id] = j.Clone()
	return nil
}

func (m *Memory) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	for eid, e := range m.execs {
		if e.JobID == id {
			delete(m.execs, eid)
		}
	}
	return nil
}

func (m *Memory) CreateExecution(ctx context.Context, e *job.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.execs[e.ID] = *e
	return nil
}

func (m *Memory) UpdateExecution(ctx context.Context, e job.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[e.ID]; !ok {
		return ErrNotFound
	}
	m.execs[e.ID] = e
	return nil
}

func (m *Memory) ListExecutions(ctx context.Context, jobID string, limit int) ([]job.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Execution
	for _, e := range m.execs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	// newest first
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountExecutions(ctx context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.execs {
		if jobID == "" || e.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) FailAbandoned(ctx context.Context, msg string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for id, e := range m.execs {
		if e.Status == job.RunPending || e.Status == job.RunRunning {
			e.Status = job.RunFailed
			e.Error = msg
			t := now
			e.CompletedAt = &t
			m.execs[id] = e
			n++
		}
	}
	return n, nil
}

func (m *Memory) PruneExecutions(ctx context.Context, jobID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.execs {
		if jobID != "" && e.JobID != jobID {
			continue
		}
		if !e.Status.Terminal() || e.CompletedAt == nil {
			continue
		}
		if e.CompletedAt.Before(cutoff) {
			delete(m.execs, id)
			n++
		}
	}
	return n, nil
}
