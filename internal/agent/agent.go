// Package agent owns the per-process agent handle: its arguments, logging,
// PID file and configuration, and the process-wide setup shared by every
// handle.
package agent

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rennerdo30/warden-agent/internal/config"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/metrics"
	"github.com/rennerdo30/warden-agent/internal/paths"
	"github.com/rennerdo30/warden-agent/internal/pidfile"
	"github.com/rennerdo30/warden-agent/internal/service"
	"github.com/rennerdo30/warden-agent/internal/tlsutil"
	"github.com/rennerdo30/warden-agent/internal/upgrade"
	"github.com/rennerdo30/warden-agent/internal/util"
	"github.com/rennerdo30/warden-agent/internal/version"
)

// Flags inspected directly on the raw argument vector.
const (
	FlagNoUpgrade      = upgrade.FlagContinuation
	FlagNoUpgradeLong  = "--no-upgrade"
	FlagServiceUpgrade = upgrade.FlagServiceUpgrade
	FlagConfig         = "-c"
	FlagConfigLong     = "--config"
)

// continuationPIDWait bounds how long a replacement process waits for the
// process it replaced to release the PID file.
const continuationPIDWait = 10 * time.Second

// Runtime is whatever long-running body the agent hosts.
type Runtime interface {
	Close() error
}

// Agent is the handle for one agent instance.
type Agent struct {
	id            string
	args          []string
	defaultModule string
	loadPath      string
	logLevel      slog.Level
	logPath       string
	logFile       *os.File
	tryUpgrade    bool
	pid           *pidfile.File
	config        *config.AgentConfig
	runtime       Runtime

	resolver       *paths.Resolver
	engine         *upgrade.Engine
	registry       *Registry
	globals        Globals
	metrics        *metrics.Metrics
	serviceRunning func() bool
	logger         *slog.Logger

	closed bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithRegistry sets the handle registry. Defaults to ProcessRegistry().
func WithRegistry(r *Registry) Option {
	return func(a *Agent) {
		a.registry = r
	}
}

// WithGlobals sets the process-wide options used if this handle is the
// first one.
func WithGlobals(g Globals) Option {
	return func(a *Agent) {
		a.globals = g
	}
}

// WithMetrics records handle counts and upgrade attempts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithResolver sets the path resolver.
func WithResolver(r *paths.Resolver) Option {
	return func(a *Agent) {
		a.resolver = r
	}
}

// WithEngine sets the upgrade engine.
func WithEngine(e *upgrade.Engine) Option {
	return func(a *Agent) {
		a.engine = e
	}
}

// WithServiceState overrides how the agent learns whether the service
// manager currently supervises it.
func WithServiceState(running func() bool) Option {
	return func(a *Agent) {
		a.serviceRunning = running
	}
}

// New creates an agent handle entering at defaultModule. args is copied.
// The first live handle in a process performs process-wide setup.
func New(defaultModule string, args []string, opts ...Option) (*Agent, error) {
	a := &Agent{
		id:             uuid.NewString(),
		args:           slices.Clone(args),
		defaultModule:  defaultModule,
		logLevel:       slog.LevelInfo,
		tryUpgrade:     true,
		registry:       processRegistry,
		serviceRunning: service.IsRunning,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithComponent("agent").With("agent_id", a.id)

	if HasFlag(a.args, FlagNoUpgrade, FlagNoUpgradeLong) {
		a.tryUpgrade = false
	}
	if a.resolver == nil {
		a.resolver = paths.New(paths.Config{
			ConfigFile: FlagValue(a.args, FlagConfig, FlagConfigLong),
		})
	}
	if a.engine == nil {
		engineOpts := []upgrade.Option{upgrade.WithLogger(a.logger)}
		if a.metrics != nil {
			engineOpts = append(engineOpts, upgrade.WithMetrics(a.metrics))
		}
		a.engine = upgrade.NewEngine(version.Version, engineOpts...)
	}

	if err := a.registry.Acquire(a.globals); err != nil {
		return nil, fmt.Errorf("process initialization: %w", err)
	}
	if a.metrics != nil {
		a.metrics.AgentHandles.Inc()
	}

	return a, nil
}

// ID identifies this handle in logs and status output.
func (a *Agent) ID() string {
	return a.id
}

// Args returns the argument vector the agent was created with.
func (a *Agent) Args() []string {
	return a.args
}

// Path resolves a well-known location.
func (a *Agent) Path(kind paths.Kind) string {
	return a.resolver.Path(kind)
}

// ServiceRunning reports whether the service manager supervises this process.
func (a *Agent) ServiceRunning() bool {
	return a.serviceRunning()
}

// ServiceUpgradeRequested reports whether this process was spawned to finish
// a service upgrade.
func (a *Agent) ServiceUpgradeRequested() bool {
	return HasFlag(a.args, "", FlagServiceUpgrade)
}

func (a *Agent) DefaultModule() string { return a.defaultModule }
func (a *Agent) LoadPath() string      { return a.loadPath }
func (a *Agent) LogLevel() slog.Level  { return a.logLevel }
func (a *Agent) LogPath() string       { return a.logPath }
func (a *Agent) TryUpgrade() bool      { return a.tryUpgrade }

// SetTryUpgrade overrides whether startup should attempt an upgrade.
func (a *Agent) SetTryUpgrade(try bool) {
	a.tryUpgrade = try
}

// SetLoadPath sets the module search path.
func (a *Agent) SetLoadPath(p string) {
	a.loadPath = p
}

// SetRuntime hands ownership of r to the agent; Close closes it.
func (a *Agent) SetRuntime(r Runtime) {
	a.runtime = r
}

// Config returns the applied configuration, or nil.
func (a *Agent) Config() *config.AgentConfig {
	return a.config
}

// Configure applies cfg. The default module from cfg is used only when the
// handle was created without one; a module given to New wins. An empty load
// path in cfg keeps the handle's current value.
func (a *Agent) Configure(cfg *config.AgentConfig) {
	a.config = cfg
	if cfg.Runtime.DefaultModule != "" && a.defaultModule == "" {
		a.defaultModule = cfg.Runtime.DefaultModule
	}
	if cfg.Runtime.LoadPath != "" {
		a.loadPath = cfg.Runtime.LoadPath
	}
	if cfg.Upgrade.ExeDir != "" {
		a.resolver = paths.New(paths.Config{
			ExeDir:     cfg.Upgrade.ExeDir,
			ConfigFile: a.resolver.Path(paths.ConfigFile),
		})
	}
	if !cfg.Upgrade.Enabled {
		a.tryUpgrade = false
	}
}

// SetupLogging installs the process logger and takes ownership of the log
// file, closing any previously owned one.
func (a *Agent) SetupLogging(cfg logging.Config) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	f, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	if a.logFile != nil && a.logFile != os.Stderr {
		_ = a.logFile.Close()
	}
	a.logFile = f
	a.logPath = ""
	if f != nil {
		a.logPath = cfg.Output
	}
	a.logLevel = level
	a.logger = logging.WithComponent("agent").With("agent_id", a.id)
	return nil
}

// AcquirePIDFile locks path and writes the process ID to it. A replacement
// process (started with the continuation flag) waits for its predecessor to
// let go of the file.
func (a *Agent) AcquirePIDFile(path string) error {
	if a.pid != nil {
		return fmt.Errorf("pid file already held: %s", a.pid.Path())
	}
	var (
		p   *pidfile.File
		err error
	)
	if HasFlag(a.args, FlagNoUpgrade, FlagNoUpgradeLong) {
		p, err = pidfile.AcquireWait(path, continuationPIDWait)
	} else {
		p, err = pidfile.Acquire(path)
	}
	if err != nil {
		return err
	}
	a.pid = p
	return nil
}

// PIDFD returns the descriptor of the locked PID file, or -1.
func (a *Agent) PIDFD() int {
	if a.pid == nil {
		return -1
	}
	return a.pid.Fd()
}

// TLSConfig returns the process-wide client TLS configuration.
func (a *Agent) TLSConfig() *tls.Config {
	return tlsutil.Config()
}

// AttemptUpgrade replaces this process with a newer staged executable if
// one exists. See upgrade.Engine.Attempt.
func (a *Agent) AttemptUpgrade(status upgrade.StatusFunc) (bool, error) {
	return a.engine.Attempt(a, status)
}

// Close releases everything the handle owns and, for the last live handle,
// tears down process-wide state. Release errors are logged. Calls after the
// first are ignored.
func (a *Agent) Close() {
	if a.closed {
		a.logger.Warn("Agent closed twice")
		return
	}
	a.closed = true

	var rel util.Releaser

	if a.runtime != nil {
		rel.Do("close runtime", a.runtime.Close)
		a.runtime = nil
	}
	a.config = nil
	a.loadPath = ""
	a.defaultModule = ""
	a.logPath = ""
	if a.logFile != nil && a.logFile != os.Stderr {
		rel.Do("close log file", a.logFile.Close)
	}
	a.logFile = nil
	if a.pid != nil {
		rel.Do("release pid file", a.pid.Close)
		a.pid = nil
	}

	if n := rel.Failed(); n > 0 {
		a.logger.Warn("Agent release incomplete", "failed", n, "error", rel.Err())
	}

	if a.metrics != nil {
		a.metrics.AgentHandles.Dec()
	}
	a.registry.Release()
}
