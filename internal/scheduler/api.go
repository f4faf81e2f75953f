package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobtick/internal/job"
	logx "jobtick/pkg/logx"
)

// CreateJob validates and persists a new job definition.
//
// Configuration problems (bad cron, both/neither schedule, missing type) are
// rejected here, synchronously, so they never surface at evaluation time.
// A never-run job is due on the next poll tick.
func (s *Service) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	j.Name = strings.TrimSpace(j.Name)
	j.Type = strings.TrimSpace(j.Type)
	if j.Status == "" {
		j.Status = job.StatusActive
	}
	if j.Timeout == 0 {
		s.mu.Lock()
		j.Timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	if err := j.Validate(); err != nil {
		return job.Job{}, err
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	// Scheduler-owned fields are never accepted from the caller.
	j.LastExecution = nil
	j.NextExecution = nil
	j.RetryAttempt = 0
	j.RetryOf = ""

	if err := s.store.CreateJob(ctx, &j); err != nil {
		return job.Job{}, err
	}
	s.log.Info("job created",
		logx.String("job", j.Name),
		logx.String("job_type", j.Type),
		logx.String("schedule", j.Schedule.String()))
	return j, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (job.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) GetJobByName(ctx context.Context, name string) (job.Job, error) {
	return s.store.GetJobByName(ctx, name)
}

func (s *Service) Jobs(ctx context.Context) ([]job.Job, error) {
	return s.store.ListJobs(ctx)
}

// PauseJob stops a job from being selected as due. An in-flight run is not
// interrupted; it finishes and the job simply stops triggering.
func (s *Service) PauseJob(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, job.StatusPaused)
}

// ResumeJob reactivates a paused job. Due-ness picks up from LastExecution,
// so a job paused across several ticks fires once, not once per missed tick.
func (s *Service) ResumeJob(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, job.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id string, status job.Status) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == status {
		return nil
	}
	j.Status = status
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	s.log.Info("job status changed", logx.String("job", j.Name), logx.String("status", string(status)))
	return nil
}

// TriggerJob requests an immediate run by moving NextExecution to now. The
// next poll tick picks it up through the normal dispatch path, so manual
// runs get the same mutual-exclusion and bookkeeping as scheduled ones.
func (s *Service) TriggerJob(ctx context.Context, id string) error {
	if !s.Running() {
		return ErrStopped
	}
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != job.StatusActive {
		return fmt.Errorf("job %q is paused", j.Name)
	}
	now := time.Now()
	j.NextExecution = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	s.log.Info("job triggered manually", logx.String("job", j.Name))
	return nil
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.log.Info("job deleted", logx.String("job", j.Name))
	return nil
}

// Executions returns the job's run history, newest first.
func (s *Service) Executions(ctx context.Context, jobID string, limit int) ([]job.Execution, error) {
	return s.store.ListExecutions(ctx, jobID, limit)
}
