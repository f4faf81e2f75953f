package scheduler

import (
	"context"
	"sort"
	"sync/atomic"

	"jobtick/internal/job"
)

// Snapshot returns a point-in-time diagnostic view from in-process state
// only; it never touches the store.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.stopCh != nil && s.stopDone == nil
	startedAt := s.startedAt
	sup := s.sup
	loc := s.loc
	s.mu.Unlock()

	s.lmu.Lock()
	inflight := make([]string, 0, len(s.live))
	for id := range s.live {
		inflight = append(inflight, id)
	}
	s.lmu.Unlock()
	sort.Strings(inflight)

	snap := Snapshot{
		Running:        running,
		CheckInterval:  cfg.CheckInterval,
		Timezone:       loc.String(),
		Polls:          atomic.LoadUint64(&s.polls),
		Dispatched:     atomic.LoadUint64(&s.dispatched),
		SkippedOverlap: atomic.LoadUint64(&s.skippedOverlap),
		PollErrors:     atomic.LoadUint64(&s.pollErrors),
		InFlight:       len(inflight),
		InFlightJobs:   inflight,
	}
	if running {
		snap.StartedAt = startedAt
	}
	if sup != nil {
		snap.Goroutines = sup.Stats()
	}
	return snap
}

// Status combines the snapshot with store-derived job counts.
func (s *Service) Status(ctx context.Context) (Status, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return Status{}, err
	}
	active := 0
	for _, j := range jobs {
		if j.Status == job.StatusActive {
			active++
		}
	}
	execs, err := s.store.CountExecutions(ctx, "")
	if err != nil {
		return Status{}, err
	}
	return Status{
		Snapshot:   s.Snapshot(),
		Jobs:       len(jobs),
		ActiveJobs: active,
		Executions: execs,
	}, nil
}
