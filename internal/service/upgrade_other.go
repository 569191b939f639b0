//go:build !windows

package service

import "time"

// Upgrade is only meaningful under the Windows service manager.
func Upgrade(name, exePath string, timeout time.Duration) error {
	return ErrUnsupported
}
