// Package crash redirects fatal runtime errors to a dump file.
package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// Reporter owns an installed crash output file.
type Reporter struct {
	file *os.File
}

// Install directs fatal error output to a new file in dir and raises the
// traceback level so every goroutine is dumped.
func Install(dir string) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create crash directory: %w", err)
	}

	name := fmt.Sprintf("warden-agent-crash-%d-%s.log", os.Getpid(), time.Now().UTC().Format("20060102T150405Z"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open crash file: %w", err)
	}

	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("set crash output: %w", err)
	}
	debug.SetTraceback("all")

	return &Reporter{file: f}, nil
}

// Path returns the dump file path.
func (r *Reporter) Path() string {
	return r.file.Name()
}

// Uninstall stops redirecting crash output. An unused dump file is removed.
func (r *Reporter) Uninstall() error {
	if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
		return fmt.Errorf("reset crash output: %w", err)
	}

	name := r.file.Name()
	info, statErr := r.file.Stat()
	if err := r.file.Close(); err != nil {
		return err
	}
	if statErr == nil && info.Size() == 0 {
		os.Remove(name)
	}
	return nil
}

// Force panics without recovery so the dump path can be exercised.
func Force() {
	panic("warden-agent: forced crash")
}
