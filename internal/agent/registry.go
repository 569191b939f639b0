package agent

import (
	"sync"

	"github.com/rennerdo30/warden-agent/internal/crash"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/tlsutil"
)

// Globals configures process-wide initialization. Only the values passed by
// the first Acquire take effect.
type Globals struct {
	TLS      tlsutil.Options
	CrashDir string // empty disables crash dumps
}

// Hooks run when the live handle count crosses zero.
type Hooks struct {
	Init     func(Globals) error
	Teardown func()
}

// Registry counts live agent handles. Init runs on the 0→1 transition and
// Teardown on 1→0.
type Registry struct {
	mu    sync.Mutex
	count int
	hooks Hooks
}

// NewRegistry creates a Registry with the given hooks. Nil hooks are skipped.
func NewRegistry(hooks Hooks) *Registry {
	return &Registry{hooks: hooks}
}

// Acquire registers a handle, running Init first when it is the first one.
// A failed Init leaves the count unchanged.
func (r *Registry) Acquire(g Globals) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 && r.hooks.Init != nil {
		if err := r.hooks.Init(g); err != nil {
			return err
		}
	}
	r.count++
	return nil
}

// Release unregisters a handle, running Teardown when it was the last one.
// Releasing more often than acquiring is a programming error and panics.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		panic("agent: registry released more times than acquired")
	}
	r.count--
	if r.count == 0 && r.hooks.Teardown != nil {
		r.hooks.Teardown()
	}
}

// Count returns the number of live handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

var (
	processRegistry = NewRegistry(Hooks{Init: globalInit, Teardown: globalTeardown})

	// crashReporter is only touched by the process registry's hooks, which
	// run under its lock.
	crashReporter *crash.Reporter
)

// ProcessRegistry returns the registry shared by every handle in the
// process.
func ProcessRegistry() *Registry {
	return processRegistry
}

func globalInit(g Globals) error {
	if err := tlsutil.Init(g.TLS); err != nil {
		return err
	}

	if g.CrashDir != "" {
		r, err := crash.Install(g.CrashDir)
		if err != nil {
			tlsutil.Reset()
			return err
		}
		crashReporter = r
		logging.Debug("Crash reporting enabled", "path", r.Path())
	}
	return nil
}

func globalTeardown() {
	if crashReporter != nil {
		if err := crashReporter.Uninstall(); err != nil {
			logging.Warn("Failed to uninstall crash reporter", "error", err)
		}
		crashReporter = nil
	}
	tlsutil.Reset()
}
