// Package ticker drives the periodic subscription check.
package ticker

import (
	"context"
	"log/slog"
	"time"

	"github.com/katerpii/issue-agent/internal/ports"
)

// Ticker fires a job on a fixed interval. One tick per minute is enough to
// match subscriptions against their HH:MM notify time exactly once.
type Ticker struct {
	interval time.Duration
	log      *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

var _ ports.Ticker = (*Ticker)(nil)

// New builds a ticker with the given interval.
func New(interval time.Duration, log *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{interval: interval, log: log}
}

// Start fires job once immediately and then on every tick until the context
// is cancelled or Stop is called. Starting a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if t.stop != nil {
		return nil
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		t.log.Debug("ticker started", "interval", t.interval)
		job(time.Now())
		for {
			select {
			case now := <-ticker.C:
				job(now)
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the tick loop and waits for it to exit. A running job delays
// the return until it finishes or ctx runs out.
func (t *Ticker) Stop(ctx context.Context) error {
	if t.stop == nil {
		return nil
	}

	select {
	case <-t.stop:
	default:
		close(t.stop)
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.stop = nil
	t.log.Debug("ticker stopped")
	return nil
}
