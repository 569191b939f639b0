// Package pidfile writes and locks the agent's PID file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLocked is returned when another process holds the PID file.
var ErrLocked = errors.New("pid file is locked by another process")

// RetryInterval is the pause between attempts in AcquireWait.
var RetryInterval = 50 * time.Millisecond

// File is an open, locked PID file.
type File struct {
	f    *os.File
	path string
}

// Acquire opens path, locks it exclusively and writes the current PID.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := lock(f); err != nil {
		f.Close()
		return nil, lockedError(path, err)
	}
	if !sameFile(f, path) {
		// The previous holder removed the file between open and lock.
		unlock(f)
		f.Close()
		return nil, lockedError(path, errors.New("pid file replaced"))
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return &File{f: f, path: path}, nil
}

// AcquireWait is Acquire retried every RetryInterval while another process
// holds the lock, giving up after timeout. A replacement process uses it to
// wait for the process it replaces to let go of the file.
func AcquireWait(path string, timeout time.Duration) (*File, error) {
	deadline := time.Now().Add(timeout)
	for {
		p, err := Acquire(path)
		if err == nil || !errors.Is(err, ErrLocked) || !time.Now().Before(deadline) {
			return p, err
		}
		time.Sleep(RetryInterval)
	}
}

func lockedError(path string, err error) error {
	if pid, rerr := Read(path); rerr == nil {
		return fmt.Errorf("%w: %s (held by pid %d): %v", ErrLocked, path, pid, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrLocked, path, err)
}

func sameFile(f *os.File, path string) bool {
	opened, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}

// Fd returns the descriptor of the PID file.
func (p *File) Fd() int {
	return int(p.f.Fd())
}

// Path returns the PID file path.
func (p *File) Path() string {
	return p.path
}

// Close removes, unlocks and closes the PID file. Where the platform allows
// it the file is removed while still locked.
func (p *File) Close() error {
	rmErr := os.Remove(p.path)
	unlock(p.f)
	err := p.f.Close()
	if rmErr != nil && !os.IsNotExist(rmErr) {
		// Windows refuses to remove an open file.
		rmErr = os.Remove(p.path)
	}
	if rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Read returns the PID recorded in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
