//go:build !windows

package upgrade

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReplaceInPlace execs path. On success the calling image is gone.
func (OSReplacer) ReplaceInPlace(path string, argv, env []string) error {
	if err := unix.Exec(path, argv, env); err != nil {
		return &ReplaceError{Op: OpExec, Path: path, Err: err}
	}
	return nil
}

// SpawnDetached starts path in a new session and releases it.
func (OSReplacer) SpawnDetached(path string, argv, env []string) error {
	cmd := &exec.Cmd{
		Path:        path,
		Args:        argv,
		Env:         env,
		SysProcAttr: &syscall.SysProcAttr{Setsid: true},
	}
	if err := cmd.Start(); err != nil {
		return &ReplaceError{Op: OpSpawn, Path: path, Err: err}
	}
	return cmd.Process.Release()
}
