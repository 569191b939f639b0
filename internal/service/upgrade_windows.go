//go:build windows

package service

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/rennerdo30/warden-agent/internal/logging"
)

// Upgrade stops the service name, moves exePath over the service's
// executable and starts the service again. It runs in the child spawned by
// the service being upgraded; stopping the service terminates that parent.
func Upgrade(name, exePath string, timeout time.Duration) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return fmt.Errorf("query service config: %w", err)
	}
	target := serviceExecutable(cfg.BinaryPathName)

	logging.Info("Stopping service for upgrade", "service", name, "target", target)
	if err := stopAndWait(s, timeout); err != nil {
		return err
	}

	if err := installOver(exePath, target); err != nil {
		// Bring the old binary back up before reporting.
		_ = s.Start()
		return fmt.Errorf("install %s: %w", target, err)
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("start service %s: %w", name, err)
	}
	logging.Info("Service upgraded", "service", name)
	return nil
}

func stopAndWait(s *mgr.Service, timeout time.Duration) error {
	status, err := s.Control(svc.Stop)
	if err != nil {
		// Already stopped is fine.
		if status, qerr := s.Query(); qerr == nil && status.State == svc.Stopped {
			return nil
		}
		return fmt.Errorf("stop service: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for status.State != svc.Stopped {
		if time.Now().After(deadline) {
			return fmt.Errorf("service did not stop within %s", timeout)
		}
		time.Sleep(300 * time.Millisecond)
		status, err = s.Query()
		if err != nil {
			return fmt.Errorf("query service status: %w", err)
		}
	}
	return nil
}

// serviceExecutable extracts the executable from a service command line,
// which may be quoted and followed by arguments.
func serviceExecutable(binaryPathName string) string {
	p := strings.TrimSpace(binaryPathName)
	if strings.HasPrefix(p, `"`) {
		if end := strings.Index(p[1:], `"`); end >= 0 {
			return p[1 : end+1]
		}
		return strings.Trim(p, `"`)
	}
	if i := strings.Index(strings.ToLower(p), ".exe"); i >= 0 {
		return p[:i+len(".exe")]
	}
	return p
}

// installOver copies src over dst, keeping the previous dst as dst.old until
// the copy succeeds. src is the running executable so it is copied rather
// than renamed.
func installOver(src, dst string) error {
	oldPath := dst + ".old"
	os.Remove(oldPath)

	if err := os.Rename(dst, oldPath); err != nil {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		os.Rename(oldPath, dst)
		return err
	}

	os.Remove(oldPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
