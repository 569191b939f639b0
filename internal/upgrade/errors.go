// Package upgrade replaces the running agent with a newer staged executable.
//
// An attempt resolves the newest staged executable, checks that its version
// is strictly greater than the running one and then either replaces the
// process image in place or, when the agent runs under the Windows service
// manager, starts the candidate detached so it can upgrade the service.
package upgrade

import (
	"errors"
	"fmt"
	"syscall"
)

// Replacement primitives named in errors.
const (
	OpExec  = "execve"
	OpSpawn = "spawnve"
)

// ErrReplaceFailed matches every *ReplaceError via errors.Is.
var ErrReplaceFailed = errors.New("process replacement failed")

// ReplaceError reports a failed replacement primitive. The running process
// is untouched when one is returned.
type ReplaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("%s %s failed errno=%d: %v", e.Op, e.Path, e.Errno(), e.Err)
}

func (e *ReplaceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrReplaceFailed.
func (e *ReplaceError) Is(target error) bool {
	return target == ErrReplaceFailed
}

// Errno returns the OS error code behind the failure, or -1 when the
// underlying error carries none.
func (e *ReplaceError) Errno() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return -1
}
