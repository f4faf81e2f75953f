package scheduler

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	rtsup "jobtick/internal/runtime/supervisor"
	"jobtick/internal/store"
	"jobtick/internal/trigger"
	logx "jobtick/pkg/logx"
)

// ErrStopped is returned by control operations that need a running loop.
var ErrStopped = errors.New("scheduler not running")

// Config controls the scheduler loop.
type Config struct {
	Enabled bool

	// CheckInterval is the poll period. Default 60s.
	CheckInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight runs before
	// cancelling their contexts. Default 30s.
	DrainTimeout time.Duration

	// DefaultTimeout is applied at job creation when a job specifies none.
	// 0 means no timeout.
	DefaultTimeout time.Duration

	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Service is the long-running control loop plus the control surface callers
// use to manage jobs. Construct with New; lifecycle is owned by the caller.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	store store.Store
	exec  *executor.Executor
	eval  trigger.Evaluator
	loc   *time.Location

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// Live set of job IDs with a run in flight. Owned by this instance.
	lmu  sync.Mutex
	live map[string]struct{}

	// Throttles poll-error logging so a down store doesn't flood the log.
	errWarn *rate.Limiter

	startedAt time.Time

	// Best-effort counters, read by Snapshot.
	polls          uint64
	dispatched     uint64
	skippedOverlap uint64
	pollErrors     uint64
}

// Snapshot is a point-in-time diagnostic view of the loop.
type Snapshot struct {
	Running       bool          `json:"running"`
	CheckInterval time.Duration `json:"check_interval"`
	Timezone      string        `json:"timezone"`
	StartedAt     time.Time     `json:"started_at,omitzero"`

	Polls          uint64 `json:"polls"`
	Dispatched     uint64 `json:"dispatched"`
	SkippedOverlap uint64 `json:"skipped_overlap"`
	PollErrors     uint64 `json:"poll_errors"`

	InFlight     int      `json:"in_flight"`
	InFlightJobs []string `json:"in_flight_jobs,omitempty"`

	Goroutines rtsup.Counters `json:"goroutines"`
}

// Status extends Snapshot with store-derived job statistics.
type Status struct {
	Snapshot
	Jobs       int   `json:"jobs"`
	ActiveJobs int   `json:"active_jobs"`
	Executions int64 `json:"executions"`
}
