package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"popupq/internal/app"
	logx "popupq/pkg/logx"
	"popupq/pkg/systemd"
)

func main() {
	var (
		cfgPath     string
		sendText    string
		payloadPath string
		drainWait   time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&sendText, "send", "", "show one pop-up and exit")
	flag.StringVar(&payloadPath, "payload", "", "dispatch a server payload file and exit")
	flag.DurationVar(&drainWait, "drain-timeout", 30*time.Second, "max time to wait for queued pop-ups on exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if sendText != "" || payloadPath != "" {
		os.Exit(runOnce(ctx, a, sendText, payloadPath, drainWait))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	if _, err := systemd.Ready(); err != nil {
		a.Logger().Warn("systemd ready notification failed", logx.Err(err))
	}
	_, _ = systemd.Status("serving pop-ups from %s", cfgPath)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), drainWait+5*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runOnce queues the requested pop-ups, waits for them to be shown and
// retired, and returns the exit code.
func runOnce(ctx context.Context, a *app.App, text, payloadPath string, drainWait time.Duration) int {
	code := 0
	if payloadPath != "" {
		raw, err := os.ReadFile(payloadPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read payload:", err)
			return 1
		}
		if err := a.Dispatch(ctx, raw); err != nil {
			fmt.Fprintln(os.Stderr, "dispatch:", err)
			code = 1
		}
	}
	if text != "" {
		a.Send(text)
	}

	waitCtx, cancel := context.WithTimeout(ctx, drainWait)
	defer cancel()
	if err := a.Scheduler().WaitIdle(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "pop-ups still pending:", a.Scheduler().Pending())
		code = 1
	}
	return code
}
