// Package notifier turns run-failure events into outbound alerts.
//
// It subscribes to the event bus, suppresses repeats within a dedup window,
// paces sends with a rate limiter, and delivers through a pluggable Sink.
// Alerting is best-effort: a down sink never affects job execution.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	rtsup "jobtick/internal/runtime/supervisor"
	logx "jobtick/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	log  logx.Logger
	bus  eventbus.Bus
	sink Sink

	limiter *rate.Limiter

	sup      *rtsup.Supervisor
	unsub    func()
	stopDone chan struct{}

	// dedup maps job ID -> suppress-until.
	dmu   sync.Mutex
	dedup map[string]time.Time

	sent    uint64
	dropped uint64
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = time.Minute
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start is idempotent. A disabled or sink-less notifier starts nothing.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled || s.sink == nil || s.bus == nil {
		return
	}

	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Alert failures stay local; they never cancel sibling goroutines.
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go0("consume", func(c context.Context) {
		s.consume(c, ch)
	})
}

// Stop unsubscribes and waits for the consumer to drain, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	unsub := s.unsub
	if sup == nil {
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
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	// Closing the subscription ends the consumer's range loop.
	if unsub != nil {
		unsub()
	}
	go func() {
		defer close(done)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.sup = nil
		s.unsub = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	if ev.Type != eventbus.RunFailed && ev.Type != eventbus.RunTimeout {
		return
	}
	run, ok := ev.Data.(executor.RunEvent)
	if !ok {
		return
	}

	if s.suppressed(run.JobID, ev.Time) {
		s.dmuCount(&s.dropped)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	text := renderAlert(ev.Type, run)
	if err := s.sink.Send(ctx, text); err != nil {
		s.log.Warn("alert send failed", logx.String("job", run.JobName), logx.Err(err))
		return
	}
	s.dmuCount(&s.sent)
	s.log.Debug("alert sent", logx.String("job", run.JobName), logx.String("event", ev.Type))
}

// suppressed reports whether an alert for jobID falls inside the dedup
// window, recording the new suppression deadline when it does not.
func (s *Service) suppressed(jobID string, at time.Time) bool {
	s.mu.Lock()
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.mu.Unlock()
	if window <= 0 {
		return false
	}
	if at.IsZero() {
		at = time.Now()
	}

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[jobID]; ok && at.Before(until) {
		return true
	}
	if len(s.dedup) >= maxEntries {
		for k, until := range s.dedup {
			if !at.Before(until) {
				delete(s.dedup, k)
			}
		}
		// Still full after expiry sweep: drop the cache rather than grow it.
		if len(s.dedup) >= maxEntries {
			s.dedup = map[string]time.Time{}
		}
	}
	s.dedup[jobID] = at.Add(window)
	return false
}

func (s *Service) dmuCount(field *uint64) {
	s.dmu.Lock()
	*field++
	s.dmu.Unlock()
}

// Stats returns (sent, suppressed) counters.
func (s *Service) Stats() (uint64, uint64) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return s.sent, s.dropped
}

func renderAlert(evType string, run executor.RunEvent) string {
	verb := "failed"
	if evType == eventbus.RunTimeout {
		verb = "timed out"
	}
	msg := fmt.Sprintf("job %q (%s) %s after %s", run.JobName, run.JobType, verb, run.Duration.Round(time.Millisecond))
	if run.Attempt > 0 {
		msg += fmt.Sprintf(" (retry %d)", run.Attempt)
	}
	if run.Error != "" {
		msg += "\n" + run.Error
	}
	return msg
}
