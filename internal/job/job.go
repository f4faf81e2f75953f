package job

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job definition.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// RunStatus is the lifecycle state of a single execution.
//
// Success and Failed are terminal; an execution is never mutated after
// reaching a terminal state.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s RunStatus) Terminal() bool { return s == RunSuccess || s == RunFailed }

// Job is a scheduled unit of work.
//
// NextExecution is the authoritative "is it due" signal; it is recomputable
// from Schedule + LastExecution except while it encodes a pending retry
// (RetryAttempt > 0), which must be honored as-is.
type Job struct {
	ID       string
	Name     string
	Type     string // handler discriminator, e.g. "shell", "maintenance"
	Schedule Schedule
	Config   map[string]any // opaque payload handed to the handler

	Status     Status
	Timeout    time.Duration
	RetryCount int           // max retry attempts after a failure
	RetryDelay time.Duration // delay before a retry becomes due

	LastExecution *time.Time
	NextExecution *time.Time

	// Pending-retry linkage. RetryAttempt is the attempt number the next
	// dispatch should carry (0 = fresh trigger); RetryOf references the failed
	// execution that scheduled it.
	RetryAttempt int
	RetryOf      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields a job must have before it can be stored.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(j.Type) == "" {
		return fmt.Errorf("job type is required")
	}
	if err := j.Schedule.Validate(); err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	if j.Status != StatusActive && j.Status != StatusPaused {
		return fmt.Errorf("job %q: invalid status %q", j.Name, j.Status)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("job %q: timeout must be >= 0", j.Name)
	}
	if j.RetryCount < 0 {
		return fmt.Errorf("job %q: retry_count must be >= 0", j.Name)
	}
	if j.RetryDelay < 0 {
		return fmt.Errorf("job %q: retry_delay must be >= 0", j.Name)
	}
	return nil
}

// Clone returns a deep-enough copy for handing across goroutines.
func (j Job) Clone() Job {
	cp := j
	if j.LastExecution != nil {
		t := *j.LastExecution
		cp.LastExecution = &t
	}
	if j.NextExecution != nil {
		t := *j.NextExecution
		cp.NextExecution = &t
	}
	if j.Config != nil {
		m := make(map[string]any, len(j.Config))
		for k, v := range j.Config {
			m[k] = v
		}
		cp.Config = m
	}
	return cp
}

// Execution is one concrete invocation attempt of a Job.
type Execution struct {
	ID    string
	JobID string

	Status RunStatus

	// RetryAttempt is 0 for the first attempt of a trigger cycle and increments
	// for each retry. TriggeredBy references the failed execution this one retries.
	RetryAttempt int
	TriggeredBy  string

	StartedAt   time.Time
	CompletedAt *time.Time

	Result map[string]any // handler payload, present only on Success
	Error  string         // present only on Failed

	CreatedAt time.Time
}
