package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/app"
	"cadence/internal/task/executor"
	logx "cadence/pkg/logx"
	"cadence/pkg/systemd"
)

func main() {
	var (
		cfgPath     string
		stopTimeout time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./cadence.yaml", "path to config (yaml or json)")
	flag.DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	flag.Parse()

	if err := run(cfgPath, stopTimeout); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, stopTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	log := a.Logger().With(logx.String("comp", "main"))
	notifier := systemd.NewNotifier()
	if _, err := notifier.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = notifier.Status("running %d jobs", len(a.Snapshot().Scheduler.Jobs))

	wd, err := startWatchdog(ctx, notifier, log)
	if err != nil {
		log.Warn("watchdog disabled", logx.Err(err))
	}

	reason := app.StopUnknown
loop:
	for {
		select {
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				dumpSnapshot(a)
				continue
			case syscall.SIGTERM:
				reason = app.StopSIGTERM
			default:
				reason = app.StopSIGINT
			}
			break loop
		}
	}

	_, _ = notifier.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if wd != nil {
		_ = wd.Shutdown(stopCtx)
	}
	appErr := a.Err()
	if err := a.Stop(stopCtx, reason); err != nil {
		appErr = errors.Join(appErr, err)
	}
	return appErr
}

// startWatchdog pings the systemd watchdog as a fixed-rate task on its own
// executor, so a job blocking the main executor cannot starve it.
func startWatchdog(ctx context.Context, n *systemd.Notifier, log logx.Logger) (*executor.Executor, error) {
	every, err := systemd.WatchdogInterval()
	if err != nil || every <= 0 {
		return nil, err
	}
	ex, err := executor.NewNamed("watchdog", executor.WithContext(ctx), executor.WithLogger(log))
	if err != nil {
		return nil, err
	}
	err = ex.Schedule("sd-watchdog", executor.FixedRate, every, func(*executor.Handle) {
		if _, err := n.Watchdog(); err != nil {
			log.Warn("sd_notify watchdog failed", logx.Err(err))
		}
	})
	if err != nil {
		ex.StopAsync()
		return nil, err
	}
	log.Info("systemd watchdog enabled", logx.Duration("every", every))
	return ex, nil
}

func dumpSnapshot(a *app.App) {
	b, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(b))
}
