// Package main provides the Warden agent entry point.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rennerdo30/warden-agent/internal/agent"
	"github.com/rennerdo30/warden-agent/internal/config"
	"github.com/rennerdo30/warden-agent/internal/crash"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/metrics"
	"github.com/rennerdo30/warden-agent/internal/paths"
	"github.com/rennerdo30/warden-agent/internal/server"
	"github.com/rennerdo30/warden-agent/internal/service"
	"github.com/rennerdo30/warden-agent/internal/tlsutil"
	"github.com/rennerdo30/warden-agent/internal/version"
	"github.com/rennerdo30/warden-agent/internal/versions"
)

const maintenanceComplete = "Service Maintenance Complete"

type options struct {
	configFile     string
	entry          string
	noUpgrade      bool
	logFile        string
	pidFile        string
	debug          bool
	insecure       bool
	production     bool
	serviceUpgrade bool
	exitOnUpgrade  bool
	crash          bool
	exeDir         string

	// argv is the raw argument vector handed to the agent; a replacement
	// process receives a copy of it.
	argv []string
}

func newRootCmd(argv []string) *cobra.Command {
	opts := &options{argv: argv}

	rootCmd := &cobra.Command{
		Use:           "warden-agent",
		Short:         "Warden monitoring agent",
		Long:          `Warden is a background monitoring agent that upgrades itself from staged executables at startup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", paths.DefaultConfigFile(), "config file path")
	flags.StringVarP(&opts.exeDir, "exe-dir", "", "", "directory holding staged executables")

	local := rootCmd.Flags()
	local.StringVarP(&opts.entry, "entry", "e", "", "enter at the specified module")
	local.BoolVarP(&opts.noUpgrade, "no-upgrade", "o", false, "do not attempt upgrade")
	local.StringVarP(&opts.logFile, "logfile", "l", "", "log to the specified file path")
	local.StringVarP(&opts.pidFile, "pidfile", "p", "", "path and filename of the pid file")
	local.BoolVarP(&opts.debug, "debug", "d", false, "log at debug level")
	local.BoolVarP(&opts.insecure, "insecure", "i", false, "skip TLS certificate verification (testing only)")
	local.BoolVar(&opts.production, "production", false, "write crash dumps to disk")
	local.BoolVar(&opts.serviceUpgrade, "service-upgrade", false, "finish an upgrade of the installed service")
	local.BoolVar(&opts.exitOnUpgrade, "exit-on-upgrade", false, "exit after a successful upgrade")
	local.BoolVar(&opts.crash, "crash", false, "crash the agent")
	_ = local.MarkHidden("service-upgrade")
	_ = local.MarkHidden("crash")

	var verbose bool
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Tagged())
		},
	}
	versionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print build details")
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultAgentConfig()
			if err := config.LoadAndValidate(opts.configFile, &cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	rootCmd.AddCommand(newUpgradeCommand(opts))

	return rootCmd
}

func newUpgradeCommand(opts *options) *cobra.Command {
	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Inspect staged upgrades",
	}

	upgradeCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether a newer executable is staged",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runUpgradeCheck(cmd.OutOrStdout(), paths.New(paths.Config{ExeDir: cfg.Upgrade.ExeDir}))
		},
	})

	return upgradeCmd
}

func runUpgradeCheck(w io.Writer, resolver *paths.Resolver) error {
	staged := resolver.Path(paths.LatestExe)
	if !versions.IsNewer(staged, version.Version) {
		fmt.Fprintf(w, "Current version %s is up to date.\n", version.Short())
		return nil
	}

	c, _ := versions.ParseCandidate(staged)
	fmt.Fprintf(w, "Upgrade staged!\n")
	fmt.Fprintf(w, "  Current version: %s\n", version.Short())
	fmt.Fprintf(w, "  New version:     %s\n", c.Version)
	fmt.Fprintf(w, "  Executable:      %s\n", staged)
	return nil
}

// loadConfig reads the config file, if any, and applies command-line
// overrides on top of it.
func loadConfig(opts *options) (config.AgentConfig, error) {
	cfg := config.DefaultAgentConfig()
	if err := config.LoadOptional(opts.configFile, &cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}

	if opts.entry != "" {
		cfg.Runtime.DefaultModule = opts.entry
	}
	if opts.exeDir != "" {
		cfg.Upgrade.ExeDir = opts.exeDir
	}
	if opts.logFile != "" {
		cfg.Logging.Output = opts.logFile
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if opts.pidFile != "" {
		cfg.PIDFile = opts.pidFile
	}
	if opts.insecure {
		cfg.TLS.Insecure = true
	}
	if opts.production {
		cfg.Production = true
		if cfg.CrashDir == "" {
			cfg.CrashDir = os.TempDir()
		}
	}

	if err := config.ValidateConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	globals := agent.Globals{
		TLS: tlsutil.Options{Insecure: cfg.TLS.Insecure, CAFile: cfg.TLS.CAFile},
	}
	if cfg.Production {
		globals.CrashDir = cfg.CrashDir
	}

	m := metrics.New()
	a, err := agent.New(cfg.Runtime.DefaultModule, opts.argv,
		agent.WithGlobals(globals),
		agent.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	a.Configure(&cfg)
	if err := a.SetupLogging(cfg.Logging); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	if opts.crash {
		crash.Force()
	}

	out := cmd.OutOrStdout()

	if opts.serviceUpgrade {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		if err := service.Upgrade(cfg.Service.Name, exe, cfg.Service.ShutdownTimeout.Duration()); err != nil {
			return fmt.Errorf("service upgrade: %w", err)
		}
		logging.Debug(maintenanceComplete)
		fmt.Fprintln(out, maintenanceComplete)
		return nil
	}

	if cfg.PIDFile != "" {
		if err := a.AcquirePIDFile(cfg.PIDFile); err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
	}

	srv := server.New(&cfg, a, m)
	srv.SetConfigPath(a.Path(paths.ConfigFile))
	a.SetRuntime(srv)

	runner := &agentRunner{
		agent:         a,
		server:        srv,
		exitOnUpgrade: opts.exitOnUpgrade,
		status: func(format string, args ...any) {
			fmt.Fprintf(out, format+"\n", args...)
		},
	}

	err = service.Run(cfg.Service.Name, runner)
	if errors.Is(err, errUpgraded) {
		return nil
	}
	return err
}

func main() {
	if err := newRootCmd(os.Args).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
