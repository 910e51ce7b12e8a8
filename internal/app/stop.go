package app

import (
	"context"
	"fmt"
	"time"

	logx "popupq/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopOneShot    StopReason = "one_shot"
)

// Stop halts polling, lets queued pop-ups finish, then stops the supervised
// loops. Every step is bounded by its own budget and by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("pending", a.sched.Pending()))

	if a.poller != nil {
		a.step(ctx, "poller", 2*time.Second, func(c context.Context) error {
			a.poller.Stop(c)
			return nil
		})
	}
	// The queue drains on its own timers; this only waits for it, for as
	// long as the caller allows minus what the supervisor step needs.
	drainCtx, cancel := reserve(ctx, supervisorBudget)
	a.step(drainCtx, "popup.drain", 0, a.sched.WaitIdle)
	cancel()

	a.sup.Cancel()
	a.step(ctx, "supervisor", supervisorBudget, a.sup.Wait)

	a.log.Info("stopped", logx.Int("shown", len(a.sched.History())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

const supervisorBudget = 2 * time.Second

// reserve returns a context that ends d before ctx does. Without a deadline
// on ctx it only inherits cancellation.
func reserve(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(ctx, dl.Add(-d))
	}
	return context.WithCancel(ctx)
}

// step runs fn with an upper bound so one component cannot stall shutdown.
// A max of zero leaves ctx as the only bound. The caller's deadline is never
// extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if max <= 0 || left < max {
			max = left
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
	}
	stepCtx, cancel := context.WithCancel(ctx)
	if max > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, max)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
