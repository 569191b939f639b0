package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	content := `
runtime:
  default_module: ./monitor
upgrade:
  enabled: false
  exe_dir: /opt/warden/exe
metrics:
  enabled: true
  listen: "127.0.0.1:9200"
  path: /metrics
  collection_interval: 5s
pid_file: /run/warden.pid
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg := DefaultAgentConfig()
	err = LoadAndValidate(configFile, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "./monitor", cfg.Runtime.DefaultModule)
	assert.False(t, cfg.Upgrade.Enabled)
	assert.Equal(t, "/opt/warden/exe", cfg.Upgrade.ExeDir)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Listen)
	assert.Equal(t, 5*time.Second, cfg.Metrics.CollectionInterval.Duration())
	assert.Equal(t, "/run/warden.pid", cfg.PIDFile)
	// untouched sections keep their defaults
	assert.Equal(t, "warden-agent", cfg.Service.Name)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("WARDEN_TEST_EXE_DIR", "/srv/exe")

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("upgrade:\n  exe_dir: ${WARDEN_TEST_EXE_DIR}\n"), 0644))

	var cfg AgentConfig
	require.NoError(t, Load(configFile, &cfg))
	assert.Equal(t, "/srv/exe", cfg.Upgrade.ExeDir)
}

func TestLoad_Errors(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &AgentConfig{})
	assert.ErrorContains(t, err, "failed to read config file")

	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("metrics: [unclosed"), 0644))
	err = Load(configFile, &AgentConfig{})
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadOptional_MissingFile(t *testing.T) {
	cfg := DefaultAgentConfig()
	err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentConfig(), cfg)
}

func TestAgentConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*AgentConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(c *AgentConfig) {},
		},
		{
			name:    "missing default module",
			modify:  func(c *AgentConfig) { c.Runtime.DefaultModule = "" },
			wantErr: "default_module",
		},
		{
			name:    "bad listen address",
			modify:  func(c *AgentConfig) { c.Metrics.Listen = "nope" },
			wantErr: "invalid metrics listen address",
		},
		{
			name:    "relative metrics path",
			modify:  func(c *AgentConfig) { c.Metrics.Path = "metrics" },
			wantErr: "metrics path",
		},
		{
			name: "metrics disabled skips listener checks",
			modify: func(c *AgentConfig) {
				c.Metrics.Enabled = false
				c.Metrics.Listen = ""
			},
		},
		{
			name:    "missing service name",
			modify:  func(c *AgentConfig) { c.Service.Name = "" },
			wantErr: "service.name",
		},
		{
			name:    "production without crash dir",
			modify:  func(c *AgentConfig) { c.Production = true },
			wantErr: "crash_dir",
		},
		{
			name:    "unknown log level",
			modify:  func(c *AgentConfig) { c.Logging.Level = "loud" },
			wantErr: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAgentConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("service:\n  shutdown_timeout: 1m30s\n"), 0644))

	var cfg AgentConfig
	require.NoError(t, Load(configFile, &cfg))
	assert.Equal(t, 90*time.Second, cfg.Service.ShutdownTimeout.Duration())

	out, err := cfg.Service.ShutdownTimeout.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}
