package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/warden-agent/internal/config"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/metrics"
	"github.com/rennerdo30/warden-agent/internal/paths"
	"github.com/rennerdo30/warden-agent/internal/pidfile"
	"github.com/rennerdo30/warden-agent/internal/upgrade"
)

type fakeRuntime struct {
	closed int
	err    error
}

func (r *fakeRuntime) Close() error {
	r.closed++
	return r.err
}

type recordingReplacer struct {
	execPath  string
	execArgv  []string
	spawnPath string
	spawnArgv []string
	err       error
}

func (r *recordingReplacer) ReplaceInPlace(path string, argv, _ []string) error {
	r.execPath, r.execArgv = path, argv
	return r.err
}

func (r *recordingReplacer) SpawnDetached(path string, argv, _ []string) error {
	r.spawnPath, r.spawnArgv = path, argv
	return r.err
}

func newTestAgent(t *testing.T, args []string, opts ...Option) *Agent {
	t.Helper()
	base := []Option{WithRegistry(NewRegistry(Hooks{}))}
	a, err := New("./init", args, append(base, opts...)...)
	require.NoError(t, err)
	return a
}

func stageExe(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0755))
	return p
}

func TestNew_Defaults(t *testing.T) {
	reg := NewRegistry(Hooks{})
	a, err := New("./init", []string{"warden-agent", "-c", "x"}, WithRegistry(reg))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "./init", a.DefaultModule())
	assert.Equal(t, slog.LevelInfo, a.LogLevel())
	assert.True(t, a.TryUpgrade())
	assert.Equal(t, -1, a.PIDFD())
	assert.Equal(t, "", a.LoadPath())
	assert.Equal(t, 1, reg.Count())
	_, err = uuid.Parse(a.ID())
	assert.NoError(t, err)
}

func TestNew_CopiesArgs(t *testing.T) {
	args := []string{"warden-agent", "-c", "x"}
	a := newTestAgent(t, args)
	defer a.Close()

	args[1] = "mutated"
	assert.Equal(t, []string{"warden-agent", "-c", "x"}, a.Args())
}

func TestNew_NoUpgradeFlag(t *testing.T) {
	for _, flag := range []string{"-o", "--no-upgrade"} {
		t.Run(flag, func(t *testing.T) {
			a := newTestAgent(t, []string{"warden-agent", flag})
			defer a.Close()
			assert.False(t, a.TryUpgrade())
		})
	}
}

func TestNew_ServiceUpgradeRequested(t *testing.T) {
	a := newTestAgent(t, []string{"warden-agent", "--service-upgrade"})
	defer a.Close()
	assert.True(t, a.ServiceUpgradeRequested())

	b := newTestAgent(t, []string{"warden-agent"})
	defer b.Close()
	assert.False(t, b.ServiceUpgradeRequested())
}

func TestNew_RegistryInitFailure(t *testing.T) {
	reg := NewRegistry(Hooks{Init: func(Globals) error { return errors.New("boom") }})
	a, err := New("./init", nil, WithRegistry(reg))
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Equal(t, 0, reg.Count())
}

func TestNew_PassesGlobals(t *testing.T) {
	var got Globals
	reg := NewRegistry(Hooks{Init: func(g Globals) error { got = g; return nil }})
	a, err := New("./init", nil, WithRegistry(reg), WithGlobals(Globals{CrashDir: "/var/crash"}))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "/var/crash", got.CrashDir)
}

func TestClose_ReleasesRegistry(t *testing.T) {
	teardowns := 0
	reg := NewRegistry(Hooks{Teardown: func() { teardowns++ }})

	a, err := New("./init", nil, WithRegistry(reg))
	require.NoError(t, err)
	b, err := New("./init", nil, WithRegistry(reg))
	require.NoError(t, err)

	a.Close()
	assert.Equal(t, 0, teardowns)
	b.Close()
	assert.Equal(t, 1, teardowns)
}

func TestClose_Twice(t *testing.T) {
	reg := NewRegistry(Hooks{})
	a, err := New("./init", nil, WithRegistry(reg))
	require.NoError(t, err)
	b, err := New("./init", nil, WithRegistry(reg))
	require.NoError(t, err)
	defer b.Close()

	a.Close()
	assert.NotPanics(t, a.Close)
	assert.Equal(t, 1, reg.Count())
}

func TestClose_ReleasesOwnedResources(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, nil)

	rt := &fakeRuntime{err: fmt.Errorf("runtime busy")}
	a.SetRuntime(rt)
	a.SetLoadPath("/opt/warden/lib")

	pidPath := filepath.Join(dir, "agent.pid")
	require.NoError(t, a.AcquirePIDFile(pidPath))
	assert.GreaterOrEqual(t, a.PIDFD(), 0)

	a.Close()

	assert.Equal(t, 1, rt.closed)
	assert.Equal(t, -1, a.PIDFD())
	assert.Equal(t, "", a.LoadPath())
	assert.Equal(t, "", a.DefaultModule())
	assert.Nil(t, a.Config())
	assert.NoFileExists(t, pidPath)
}

func TestClose_KeepsStderrOpen(t *testing.T) {
	a := newTestAgent(t, nil)
	a.logFile = os.Stderr
	a.Close()

	_, err := os.Stderr.Stat()
	assert.NoError(t, err)
}

func TestAcquirePIDFile_Twice(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, nil)
	defer a.Close()

	require.NoError(t, a.AcquirePIDFile(filepath.Join(dir, "a.pid")))
	assert.Error(t, a.AcquirePIDFile(filepath.Join(dir, "b.pid")))
}

func TestAcquirePIDFile_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")
	holder, err := pidfile.Acquire(path)
	require.NoError(t, err)
	defer holder.Close()

	a := newTestAgent(t, []string{"warden-agent"})
	defer a.Close()

	assert.ErrorIs(t, a.AcquirePIDFile(path), pidfile.ErrLocked)
}

func TestAcquirePIDFile_ContinuationWaitsForPredecessor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")
	predecessor, err := pidfile.Acquire(path)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = predecessor.Close()
		close(released)
	}()

	a := newTestAgent(t, []string{"warden-agent", "-p", path, FlagNoUpgrade})
	defer a.Close()

	require.NoError(t, a.AcquirePIDFile(path))
	<-released
	assert.FileExists(t, path)
	assert.GreaterOrEqual(t, a.PIDFD(), 0)
}

func TestNew_ConfigFileFromArgs(t *testing.T) {
	a := newTestAgent(t, []string{"warden-agent", "-c", "/etc/warden/custom.yaml"})
	defer a.Close()
	assert.Equal(t, "/etc/warden/custom.yaml", a.Path(paths.ConfigFile))

	cfg := config.DefaultAgentConfig()
	cfg.Upgrade.ExeDir = t.TempDir()
	a.Configure(&cfg)
	assert.Equal(t, "/etc/warden/custom.yaml", a.Path(paths.ConfigFile))
	assert.Equal(t, cfg.Upgrade.ExeDir, a.Path(paths.ExeDir))

	b := newTestAgent(t, []string{"warden-agent", "--config=/tmp/w.yaml"})
	defer b.Close()
	assert.Equal(t, "/tmp/w.yaml", b.Path(paths.ConfigFile))

	c := newTestAgent(t, []string{"warden-agent"})
	defer c.Close()
	assert.Equal(t, paths.DefaultConfigFile(), c.Path(paths.ConfigFile))
}

func TestSetupLogging_OwnsFile(t *testing.T) {
	prev := logging.Default()
	defer logging.SetDefault(prev)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent.log")

	a := newTestAgent(t, nil)
	require.NoError(t, a.SetupLogging(logging.Config{Level: "debug", Format: "json", Output: logPath}))

	assert.Equal(t, slog.LevelDebug, a.LogLevel())
	assert.Equal(t, logPath, a.LogPath())
	require.NotNil(t, a.logFile)
	f := a.logFile

	a.Close()
	assert.Equal(t, "", a.LogPath())
	assert.Error(t, f.Close(), "log file should already be closed")
}

func TestSetupLogging_InvalidLevel(t *testing.T) {
	a := newTestAgent(t, nil)
	defer a.Close()

	assert.Error(t, a.SetupLogging(logging.Config{Level: "loud", Output: "stderr"}))
	assert.Equal(t, slog.LevelInfo, a.LogLevel())
}

func TestConfigure(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, nil)
	defer a.Close()

	cfg := config.DefaultAgentConfig()
	cfg.Runtime.DefaultModule = "./other"
	cfg.Runtime.LoadPath = "/opt/warden/lib"
	cfg.Upgrade.ExeDir = dir
	a.Configure(&cfg)

	assert.Same(t, &cfg, a.Config())
	assert.Equal(t, "./init", a.DefaultModule())
	assert.Equal(t, "/opt/warden/lib", a.LoadPath())
	assert.Equal(t, dir, a.Path(paths.ExeDir))
	assert.True(t, a.TryUpgrade())

	cfg.Upgrade.Enabled = false
	a.Configure(&cfg)
	assert.False(t, a.TryUpgrade())
}

func TestConfigure_DefaultModuleFillsEmptyHandle(t *testing.T) {
	a, err := New("", nil, WithRegistry(NewRegistry(Hooks{})))
	require.NoError(t, err)
	defer a.Close()

	cfg := config.DefaultAgentConfig()
	cfg.Runtime.DefaultModule = "./other"
	a.Configure(&cfg)
	assert.Equal(t, "./other", a.DefaultModule())

	cfg.Runtime.DefaultModule = "./third"
	a.Configure(&cfg)
	assert.Equal(t, "./other", a.DefaultModule())
}

func TestAttemptUpgrade_NothingStaged(t *testing.T) {
	dir := t.TempDir()
	rep := &recordingReplacer{}
	m := metrics.New()

	a := newTestAgent(t, []string{"warden-agent"},
		WithResolver(paths.New(paths.Config{ExeDir: dir})),
		WithEngine(upgrade.NewEngine("1.0.0", upgrade.WithReplacer(rep))),
		WithMetrics(m),
	)
	defer a.Close()

	var msgs []string
	performed, err := a.AttemptUpgrade(func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})
	require.NoError(t, err)
	assert.False(t, performed)
	assert.Empty(t, msgs)
	assert.Empty(t, rep.execPath)
	assert.Empty(t, rep.spawnPath)
}

func TestAttemptUpgrade_ReplacesInPlace(t *testing.T) {
	dir := t.TempDir()
	exe := stageExe(t, dir, "warden-agent-1.3.0")
	rep := &recordingReplacer{}

	a := newTestAgent(t, []string{"warden-agent", "-c", "x"},
		WithResolver(paths.New(paths.Config{ExeDir: dir})),
		WithEngine(upgrade.NewEngine("1.2.9", upgrade.WithReplacer(rep))),
		WithServiceState(func() bool { return false }),
	)
	defer a.Close()

	var msgs []string
	performed, err := a.AttemptUpgrade(func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})
	require.NoError(t, err)
	assert.True(t, performed)
	assert.Equal(t, []string{"Attempting upgrade using new file(s):", "    exe: " + exe}, msgs)
	assert.Equal(t, exe, rep.execPath)
	assert.Equal(t, []string{exe, "-c", "x", "-o"}, rep.execArgv)
}

func TestAttemptUpgrade_ServiceSpawns(t *testing.T) {
	dir := t.TempDir()
	exe := stageExe(t, dir, "warden-agent-2.0.0")
	rep := &recordingReplacer{}
	suspended := false

	a := newTestAgent(t, []string{"warden-agent"},
		WithResolver(paths.New(paths.Config{ExeDir: dir})),
		WithEngine(upgrade.NewEngine("1.0.0",
			upgrade.WithReplacer(rep),
			upgrade.WithSuspend(func() { suspended = true }),
		)),
		WithServiceState(func() bool { return true }),
	)
	defer a.Close()

	performed, err := a.AttemptUpgrade(nil)
	require.NoError(t, err)
	assert.True(t, performed)
	assert.True(t, suspended)
	assert.Equal(t, exe, rep.spawnPath)
	assert.Equal(t, []string{exe, "--service-upgrade"}, rep.spawnArgv)
}

func TestAgentHandlesGauge(t *testing.T) {
	m := metrics.New()
	reg := NewRegistry(Hooks{})

	a, err := New("./init", nil, WithRegistry(reg), WithMetrics(m))
	require.NoError(t, err)
	b, err := New("./init", nil, WithRegistry(reg), WithMetrics(m))
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AgentHandles))

	a.Close()
	b.Close()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.AgentHandles))
}
