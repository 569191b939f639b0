package upgrade

// Flags appended to the replacement's argument vector.
const (
	// FlagContinuation tells the new process it was started by an upgrade
	// and must not check for one itself.
	FlagContinuation = "-o"
	// FlagServiceUpgrade tells the new process to stop the service, move
	// itself over the service executable and restart the service.
	FlagServiceUpgrade = "--service-upgrade"
)

// RebuildArgs returns a new argument vector for exePath. The original
// program name is dropped, the remaining arguments are copied and exactly
// one trailing flag is appended. args is never modified.
func RebuildArgs(args []string, exePath string, serviceRunning bool) []string {
	rebuilt := make([]string, 0, len(args)+1)
	rebuilt = append(rebuilt, exePath)
	if len(args) > 1 {
		rebuilt = append(rebuilt, args[1:]...)
	}

	if serviceRunning {
		rebuilt = append(rebuilt, FlagServiceUpgrade)
	} else {
		rebuilt = append(rebuilt, FlagContinuation)
	}
	return rebuilt
}
