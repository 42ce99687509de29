package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ContentChanged records that the host changed the page. It never blocks;
// bursts collapse into one reconciliation once the page goes quiet.
func (e *Engine) ContentChanged() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Start launches the debounce loop. It returns immediately and is a no-op
// when the loop is already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.debounceLoop(ctx, stop, done)
}

// Stop ends the debounce loop and waits for it to exit. Pending changes
// are dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
}

func (e *Engine) debounceLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-e.changes:
			if timer == nil {
				timer = time.NewTimer(e.debounce)
			} else {
				timer.Reset(e.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if _, err := e.Flush(ctx); err != nil {
				slog.Warn("Flush failed", "error", err)
			}
		}
	}
}

// Flush reloads the page when a loader is configured, then places inline
// icons and reconciles. The debounce loop calls it once per quiet period;
// hosts may also call it directly.
func (e *Engine) Flush(ctx context.Context) (Summary, error) {
	if e.load != nil {
		doc, err := e.load()
		if err != nil {
			return Summary{}, fmt.Errorf("failed to load page: %w", err)
		}
		if doc == nil {
			return Summary{}, fmt.Errorf("failed to load page: document is nil")
		}
		e.mu.Lock()
		e.doc = doc
		e.mu.Unlock()
	}

	added := e.EnsureInlineIcons(ctx)
	sum := e.Run(ctx)
	slog.Debug("Flushed", "icons", added, "wrapped", sum.Wrapped)

	if e.afterFlush != nil {
		if err := e.afterFlush(sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}
