//go:build windows

package upgrade

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// ReplaceInPlace starts path with the current standard streams and exits.
// Windows has no execve; the new process takes over once this one is gone.
func (OSReplacer) ReplaceInPlace(path string, argv, env []string) error {
	cmd := &exec.Cmd{
		Path:   path,
		Args:   argv,
		Env:    env,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if err := cmd.Start(); err != nil {
		return &ReplaceError{Op: OpExec, Path: path, Err: err}
	}
	os.Exit(0)
	return nil
}

// SpawnDetached starts path outside the service's console and process group
// so stopping the service does not take the child down with it.
func (OSReplacer) SpawnDetached(path string, argv, env []string) error {
	cmd := &exec.Cmd{
		Path: path,
		Args: argv,
		Env:  env,
		SysProcAttr: &syscall.SysProcAttr{
			CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
		},
	}
	if err := cmd.Start(); err != nil {
		return &ReplaceError{Op: OpSpawn, Path: path, Err: err}
	}
	return cmd.Process.Release()
}
