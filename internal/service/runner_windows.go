//go:build windows

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/windows/svc"

	"github.com/rennerdo30/warden-agent/internal/logging"
)

func run(name string, runner Runner) error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		logging.Warn("Failed to detect if running as Windows Service, assuming interactive", "error", err)
		return runInteractive(name, runner)
	}

	if isService {
		return runService(name, runner)
	}

	return runInteractive(name, runner)
}

func runInteractive(name string, runner Runner) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	sig := <-sigChan
	logging.Info("Received shutdown signal", "service", name, "signal", sig)
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stopCancel()
	return runner.Stop(stopCtx)
}

type serviceHandler struct {
	runner Runner
}

// Execute reports the service as running before starting the runner, so a
// startup upgrade sees IsRunning() == true. Start runs in its own goroutine
// because the service upgrade path never returns from it and stop requests
// must still be served.
func (h *serviceHandler) Execute(args []string, r <-chan svc.ChangeRequest, s chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	s <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
	supervised.Store(true)
	defer supervised.Store(false)

	started := make(chan error, 1)
	go func() {
		started <- h.runner.Start(ctx)
	}()

loop:
	for {
		select {
		case err := <-started:
			if err != nil {
				logging.Error("Failed to start service", "error", err)
				s <- svc.Status{State: svc.StopPending}
				return true, 1 // specificExitCode
			}
			started = nil
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				s <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				logging.Info("Service stopping...")
				s <- svc.Status{State: svc.StopPending}
				cancel()
				stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
				if err := h.runner.Stop(stopCtx); err != nil {
					logging.Error("Error stopping service", "error", err)
				}
				stopCancel()
				break loop
			default:
				logging.Warn("Unexpected service control request", "cmd", c.Cmd)
			}
		}
	}

	return false, 0
}

func runService(name string, runner Runner) error {
	return svc.Run(name, &serviceHandler{runner: runner})
}
