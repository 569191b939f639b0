// Package paths resolves the well-known filesystem locations of the agent.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/versions"
)

// Kind identifies a well-known location.
type Kind int

const (
	// ExeDir is the directory upgrades are staged into.
	ExeDir Kind = iota
	// LatestExe is the newest staged executable in ExeDir, or "" when
	// nothing is staged.
	LatestExe
	// CurrentExe is the executable of the running process.
	CurrentExe
	// ConfigFile is the default configuration file.
	ConfigFile
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case ExeDir:
		return "exe_dir"
	case LatestExe:
		return "latest_exe"
	case CurrentExe:
		return "current_exe"
	case ConfigFile:
		return "config_file"
	default:
		return "unknown"
	}
}

// Config overrides default locations. Empty fields use the platform default.
type Config struct {
	ExeDir     string
	ConfigFile string
}

// Resolver maps kinds to paths.
type Resolver struct {
	exeDir     string
	configFile string
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	r := &Resolver{
		exeDir:     cfg.ExeDir,
		configFile: cfg.ConfigFile,
	}
	if r.exeDir == "" {
		r.exeDir = DefaultExeDir()
	}
	if r.configFile == "" {
		r.configFile = DefaultConfigFile()
	}
	return r
}

// Path returns the location for kind. Unresolvable locations yield "".
func (r *Resolver) Path(kind Kind) string {
	switch kind {
	case ExeDir:
		return r.exeDir
	case LatestExe:
		return r.latestExe()
	case CurrentExe:
		exe, err := os.Executable()
		if err != nil {
			return ""
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return exe
	case ConfigFile:
		return r.configFile
	default:
		return ""
	}
}

func (r *Resolver) latestExe() string {
	entries, err := os.ReadDir(r.exeDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Debug("Failed to read staged executable directory", "dir", r.exeDir, "error", err)
		}
		return ""
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && executable(e) {
			names = append(names, e.Name())
		}
	}

	latest, ok := versions.Latest(r.exeDir, names)
	if !ok {
		return ""
	}
	return latest.Path
}

// executable reports whether e has an execute bit. Windows has no such bit
// so every regular file qualifies there.
func executable(e os.DirEntry) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

// DefaultExeDir returns the platform staging directory.
// Unix: /var/lib/warden-agent/exe
// Windows: %ProgramData%/warden-agent/exe
func DefaultExeDir() string {
	return filepath.Join(dataDir(), "exe")
}

// DefaultConfigFile returns the platform configuration file path.
// Unix: /etc/warden-agent.yaml
// Windows: %ProgramData%/warden-agent/warden-agent.yaml
func DefaultConfigFile() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dataDir(), "warden-agent.yaml")
	}
	return "/etc/warden-agent.yaml"
}

func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "warden-agent")
	case "darwin":
		return filepath.Join("/Library", "Application Support", "warden-agent")
	default:
		return filepath.Join("/var", "lib", "warden-agent")
	}
}
