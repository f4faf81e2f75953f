package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	"jobtick/internal/job"
	logx "jobtick/pkg/logx"
)

// pollLoop ticks every CheckInterval until stopCh closes or ctx cancels.
// The first tick fires immediately so due jobs don't wait a full interval
// after startup.
func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		s.tick(ctx)

		t := time.NewTimer(s.checkInterval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-stopCh:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// tick performs one poll: list active jobs, evaluate due-ness, dispatch.
// A failed read skips the whole tick; the loop retries next interval.
func (s *Service) tick(ctx context.Context) {
	atomic.AddUint64(&s.polls, 1)

	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		atomic.AddUint64(&s.pollErrors, 1)
		if s.errWarn.Allow() {
			s.log.Warn("poll failed, skipping tick", logx.Err(err))
		}
		return
	}

	now := time.Now()
	for i := range jobs {
		j := jobs[i]
		if !s.eval.IsDue(j, now) {
			continue
		}
		s.dispatch(j)
	}
}

// dispatch claims the job in the live set and hands it to the executor on
// its own goroutine. A job whose previous run is still in flight is skipped;
// executions of the same job never overlap.
func (s *Service) dispatch(j job.Job) {
	s.lmu.Lock()
	if _, running := s.live[j.ID]; running {
		s.lmu.Unlock()
		atomic.AddUint64(&s.skippedOverlap, 1)
		s.log.Debug("skipping due job, previous run still in flight", logx.String("job", j.Name))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.RunSkipped, Data: executor.RunEvent{
				JobID: j.ID, JobName: j.Name, JobType: j.Type, Error: "overlap_skip",
			}})
		}
		return
	}
	s.live[j.ID] = struct{}{}
	s.lmu.Unlock()

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		// Stop raced ahead of us; release the claim.
		s.release(j.ID)
		return
	}

	atomic.AddUint64(&s.dispatched, 1)
	sup.Go0("job."+j.Name, func(ctx context.Context) {
		defer s.release(j.ID)
		s.exec.Execute(ctx, j)
	})
}

// release removes the job from the live set once its run finished, whatever
// the outcome.
func (s *Service) release(jobID string) {
	s.lmu.Lock()
	delete(s.live, jobID)
	s.lmu.Unlock()
}
