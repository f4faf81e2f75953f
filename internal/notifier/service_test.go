package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"jobtick/internal/eventbus"
	"jobtick/internal/executor"
	logx "jobtick/pkg/logx"
)

type captureSink struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureSink) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func failEvent(jobID, name string) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.RunFailed,
		Time: time.Now(),
		Data: executor.RunEvent{
			JobID:   jobID,
			JobName: name,
			JobType: "shell",
			Error:   "exit status 1",
		},
	}
}

func TestFailureAlertDelivered(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{Enabled: true, RatePerSec: 100}, sink, logx.Nop(), bus)

	ctx := context.Background()
	svc.Start(ctx)
	defer svc.Stop(ctx)

	bus.Publish(failEvent("j1", "backup"))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("alerts = %d, want 1", sink.count())
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Hour}, sink, logx.Nop(), bus)

	ctx := context.Background()
	svc.Start(ctx)

	for i := 0; i < 5; i++ {
		bus.Publish(failEvent("j1", "backup"))
	}
	bus.Publish(failEvent("j2", "cleanup")) // different job; not suppressed
	svc.Stop(ctx)

	if got := sink.count(); got != 2 {
		t.Fatalf("alerts = %d, want 2 (one per job)", got)
	}
	sent, suppressed := svc.Stats()
	if sent != 2 || suppressed != 4 {
		t.Fatalf("stats = (%d, %d), want (2, 4)", sent, suppressed)
	}
}

func TestNegativeDedupWindowDisablesSuppression(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: -1}, sink, logx.Nop(), bus)

	ctx := context.Background()
	svc.Start(ctx)
	for i := 0; i < 5; i++ {
		bus.Publish(failEvent("j1", "backup"))
	}
	svc.Stop(ctx)

	if got := sink.count(); got != 5 {
		t.Fatalf("alerts = %d, want all 5 delivered", got)
	}
	if _, suppressed := svc.Stats(); suppressed != 0 {
		t.Fatalf("suppressed = %d, want 0", suppressed)
	}
}

func TestSuccessEventsIgnored(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{Enabled: true}, sink, logx.Nop(), bus)

	ctx := context.Background()
	svc.Start(ctx)
	bus.Publish(eventbus.Event{Type: eventbus.RunCompleted, Data: executor.RunEvent{JobName: "ok"}})
	svc.Stop(ctx)

	if sink.count() != 0 {
		t.Fatalf("completed run produced an alert: %v", sink.texts)
	}
}

func TestDisabledNotifierStartsNothing(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &captureSink{}
	svc := New(Config{Enabled: false}, sink, logx.Nop(), bus)

	ctx := context.Background()
	svc.Start(ctx)
	bus.Publish(failEvent("j1", "backup"))
	svc.Stop(ctx)

	if sink.count() != 0 {
		t.Fatal("disabled notifier sent an alert")
	}
}

func TestRenderAlert(t *testing.T) {
	t.Parallel()
	run := executor.RunEvent{
		JobName:  "backup",
		JobType:  "shell",
		Attempt:  2,
		Duration: 1500 * time.Millisecond,
		Error:    "exit status 1",
	}
	got := renderAlert(eventbus.RunTimeout, run)
	for _, want := range []string{"backup", "timed out", "retry 2", "exit status 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("alert %q missing %q", got, want)
		}
	}
}
