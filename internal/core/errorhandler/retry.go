package errorhandler

import (
	"context"
	"time"

	logx "voxagent/pkg/logx"
)

// Retry runs fn up to attempts times, doubling delay between attempts.
// The dispatcher itself never retries (Retry is advisory there); callers
// that choose retry semantics use this helper. The last failure is returned
// once attempts are exhausted.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return last
}

// RunCritical executes an operation flagged critical: retry with exponential
// back-off up to the configured count, and on final failure classify it via
// Handle and propagate. This is the only path that opts into raise-on-failure
// semantics.
func (h *Handler) RunCritical(ctx context.Context, scope string, fn func() error) error {
	err := Retry(ctx, h.cfg.MaxRetries, h.cfg.RetryDelay, fn)
	if err == nil {
		h.MarkHealthy(scope)
		return nil
	}
	h.log.Error("critical operation failed after retries",
		logx.String("scope", scope), logx.Int("attempts", h.cfg.MaxRetries), logx.Err(err))
	h.Handle(err, scope)
	return err
}
