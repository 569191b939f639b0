package upgrade

import (
	"log/slog"
	"os"
	"time"

	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/metrics"
	"github.com/rennerdo30/warden-agent/internal/paths"
	"github.com/rennerdo30/warden-agent/internal/versions"
)

// Host is the agent state an attempt reads from.
type Host interface {
	// Args returns the argument vector the agent was started with.
	Args() []string
	// Path resolves a well-known location.
	Path(kind paths.Kind) string
	// ServiceRunning reports whether the service manager supervises this
	// process right now.
	ServiceRunning() bool
}

// StatusFunc receives human-readable progress messages.
type StatusFunc func(format string, args ...any)

// Engine decides whether to upgrade and drives the replacement.
type Engine struct {
	running  string
	replacer Replacer
	environ  func() []string
	suspend  func()
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithReplacer sets the replacement capability (useful for testing).
func WithReplacer(r Replacer) Option {
	return func(e *Engine) {
		e.replacer = r
	}
}

// WithEnviron sets the environment source passed to the replacement.
func WithEnviron(environ func() []string) Option {
	return func(e *Engine) {
		e.environ = environ
	}
}

// WithSuspend sets what the service path does after a successful spawn.
// The default blocks forever.
func WithSuspend(suspend func()) Option {
	return func(e *Engine) {
		e.suspend = suspend
	}
}

// WithMetrics records checks and attempts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine for a process running version running.
func NewEngine(running string, opts ...Option) *Engine {
	e := &Engine{
		running:  running,
		replacer: OSReplacer{},
		environ:  os.Environ,
		suspend:  suspendForever,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("upgrade")
	}
	return e
}

// RunningVersion returns the version the engine compares against.
func (e *Engine) RunningVersion() string {
	return e.running
}

// Attempt upgrades the process when a strictly newer executable is staged.
//
// performed is false when nothing newer is staged; the call then has no
// side effects. Otherwise performed is true and Attempt either never
// returns (the image was replaced, or the service path is waiting to be
// stopped) or returns the replacer's error unchanged, leaving the process
// as it was.
func (e *Engine) Attempt(host Host, status StatusFunc) (performed bool, err error) {
	if status == nil {
		status = func(string, ...any) {}
	}
	if e.metrics != nil {
		e.metrics.RecordUpgradeCheck()
	}

	exePath := host.Path(paths.LatestExe)
	if !versions.IsNewer(exePath, e.running) {
		e.logger.Debug("No newer executable staged", "candidate", exePath, "running", e.running)
		e.record("none", metrics.ResultSkipped)
		return false, nil
	}

	performed = true

	status("Attempting upgrade using new file(s):")
	status("    exe: %s", exePath)

	serviceRunning := host.ServiceRunning()
	argv := RebuildArgs(host.Args(), exePath, serviceRunning)
	env := e.environ()

	if serviceRunning {
		status("Service Upgrading")
		e.logger.Info("Spawning upgrade child for service", "exe", exePath, "running", e.running)

		if err := e.replacer.SpawnDetached(exePath, argv, env); err != nil {
			e.logger.Error("Upgrade spawn failed", "exe", exePath, "error", err)
			e.record("spawn", metrics.ResultFailed)
			return performed, err
		}
		e.record("spawn", metrics.ResultSpawned)

		// The child stops the service, which terminates this process.
		e.suspend()
		return performed, nil
	}

	e.logger.Info("Replacing process image", "exe", exePath, "running", e.running)
	if err := e.replacer.ReplaceInPlace(exePath, argv, env); err != nil {
		e.logger.Error("Upgrade exec failed", "exe", exePath, "error", err)
		e.record("exec", metrics.ResultFailed)
		return performed, err
	}
	return performed, nil
}

func (e *Engine) record(path, result string) {
	if e.metrics != nil {
		e.metrics.RecordUpgradeAttempt(path, result)
	}
}

// suspendForever blocks until the process is killed. It sleeps instead of
// blocking on a channel so the runtime never reports a deadlock.
func suspendForever() {
	for {
		time.Sleep(time.Hour)
	}
}
