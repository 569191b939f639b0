// Package service runs the agent under the host's service supervisor and
// performs the privileged half of a service upgrade.
package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ShutdownTimeout is the maximum time allowed for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// ErrUnsupported is returned by service operations on platforms without a
// service manager.
var ErrUnsupported = errors.New("service manager not supported on this platform")

// Runner defines the interface for a runnable service.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Reloader defines the interface for a service that supports config reload.
type Reloader interface {
	ReloadConfig() error
}

var supervised atomic.Bool

// IsRunning reports whether this process is currently running as a service
// that the service manager considers started.
func IsRunning() bool {
	return supervised.Load()
}

// Run executes the service.
// On Windows, it detects if running as a service and uses SCM.
// On other platforms (or interactive mode), it handles signals.
func Run(name string, runner Runner) error {
	return run(name, runner)
}
