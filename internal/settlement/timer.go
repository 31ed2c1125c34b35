package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically executes settlements whose scheduled date has
// arrived.
type Timer struct {
	scheduler *Scheduler
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewTimer creates a new due-settlement timer.
func NewTimer(scheduler *Scheduler, logger *slog.Logger) *Timer {
	return &Timer{
		scheduler: scheduler,
		interval:  60 * time.Second,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// WithInterval overrides the processing interval.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the processing loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeProcess(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeProcess(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in settlement timer", "panic", fmt.Sprint(r))
		}
	}()

	processed, failed := t.scheduler.ProcessDue(ctx, time.Now().UTC())
	if processed > 0 || failed > 0 {
		t.logger.Info("processed due settlements", "completed", processed, "failed", failed)
	}
}
