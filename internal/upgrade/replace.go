package upgrade

// Replacer starts a staged executable in place of the running process.
type Replacer interface {
	// ReplaceInPlace replaces the process image. It only returns on failure.
	ReplaceInPlace(path string, argv, env []string) error
	// SpawnDetached starts path as an unwaited child and returns.
	SpawnDetached(path string, argv, env []string) error
}

// OSReplacer is the Replacer backed by the host operating system.
type OSReplacer struct{}

var _ Replacer = OSReplacer{}
