package notifier

import (
	"context"
	"time"
)

// Config controls the failure-alert pipeline. Zero values get defaults in
// New; a disabled notifier is a no-op on Start.
type Config struct {
	Enabled bool

	// RatePerSec caps outbound sends. Default 1.
	RatePerSec int

	// DedupWindow suppresses repeat alerts for the same job within the
	// window. 0 means the 1m default; a negative value disables
	// suppression entirely.
	DedupWindow time.Duration

	// DedupMaxEntries bounds the in-memory suppression cache. Default 1000.
	DedupMaxEntries int
}

// Sink delivers one rendered alert. Implementations must be safe for use
// from a single consumer goroutine.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }
