package scheduler

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	rtsup "jobtick/internal/runtime/supervisor"
	"jobtick/internal/store"
	"jobtick/internal/trigger"
	logx "jobtick/pkg/logx"
)

func New(cfg Config, st store.Store, exec *executor.Executor, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	loc := loadLocation(cfg.Timezone, log)
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		store: st,
		exec:  exec,
		eval:  trigger.New(loc),
		loc:   loc,
		live:  map[string]struct{}{},
		// At most one poll-error warning per 10s, with a small burst.
		errWarn: rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Evaluator exposes the service's trigger evaluator (timezone-anchored).
func (s *Service) Evaluator() trigger.Evaluator { return s.eval }

// Running reports whether the loop is currently active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Start launches the poll loop. It is idempotent; a Start during Stop waits
// for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		} else {
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.startedAt = time.Now()
	stopCh := s.stopCh

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		// One bad poll must not hard-kill the process.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	// Executions left pending/running by a previous process are abandoned,
	// never re-triggered purely from restart.
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	n, err := s.store.FailAbandoned(rctx, "abandoned by scheduler restart")
	cancel()
	if err != nil {
		s.log.Error("startup reconciliation failed", logx.Err(err))
	} else if n > 0 {
		s.log.Warn("reconciled abandoned executions", logx.Int64("count", n))
	}

	sup.GoRestart("poll", func(c context.Context) error {
		s.pollLoop(c, stopCh)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poll loop exited unexpectedly")
	},
		rtsup.WithPublishFirstError(true),
	)

	s.log.Info("scheduler started",
		logx.Duration("check_interval", cfg.CheckInterval),
		logx.String("tz", s.loc.String()))
}

// Stop halts polling and drains in-flight runs: it waits up to DrainTimeout
// (and the caller's ctx) for them to finish, then cancels their contexts.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	start := time.Now()
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	cfg := s.cfg
	s.mu.Unlock()

	s.log.Info("scheduler stopping", logx.Int("in_flight", s.inFlight()))

	// Drain phase: give in-flight runs a chance to complete.
	drainCtx, cancel := context.WithTimeout(ctx, cfg.DrainTimeout)
	err := sup.Wait(drainCtx)
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("drain incomplete, cancelling in-flight runs",
			logx.Int("in_flight", s.inFlight()), logx.Err(err))
	}
	// Force phase: cancel handler contexts and collect the goroutines.
	sup.Cancel()
	_ = sup.Wait(context.Background())

	s.mu.Lock()
	s.stopCh = nil
	s.stopDone = nil
	s.sup = nil
	s.mu.Unlock()
	close(done)

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates runtime-tunable settings (check interval, drain timeout).
// Changing the timezone or enabling/disabling requires a restart by the
// caller; the loop picks the new interval up on its next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	cfg.Timezone = s.cfg.Timezone // immutable while running
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) checkInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.CheckInterval
}

func (s *Service) inFlight() int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return len(s.live)
}
