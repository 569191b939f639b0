package config

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/warden-agent/internal/logging"
)

// AgentConfig is the main configuration for the Warden agent.
type AgentConfig struct {
	Runtime    RuntimeConfig  `yaml:"runtime" json:"runtime"`
	Upgrade    UpgradeConfig  `yaml:"upgrade" json:"upgrade"`
	Logging    logging.Config `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig  `yaml:"metrics" json:"metrics"`
	TLS        TLSConfig      `yaml:"tls" json:"tls"`
	Service    ServiceConfig  `yaml:"service" json:"service"`
	PIDFile    string         `yaml:"pid_file" json:"pid_file"`
	Production bool           `yaml:"production" json:"production"`
	CrashDir   string         `yaml:"crash_dir" json:"crash_dir"`
}

// RuntimeConfig describes the module the agent enters at.
type RuntimeConfig struct {
	DefaultModule string `yaml:"default_module" json:"default_module"`
	LoadPath      string `yaml:"load_path" json:"load_path"`
}

// UpgradeConfig contains startup upgrade settings.
type UpgradeConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	ExeDir  string `yaml:"exe_dir" json:"exe_dir"` // empty = platform default
}

// MetricsConfig contains the status listener settings.
type MetricsConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Listen             string   `yaml:"listen" json:"listen"`
	Path               string   `yaml:"path" json:"path"`
	CollectionInterval Duration `yaml:"collection_interval" json:"collection_interval"`
}

// TLSConfig contains outbound TLS trust settings.
type TLSConfig struct {
	Insecure bool   `yaml:"insecure" json:"insecure"`
	CAFile   string `yaml:"ca_file" json:"ca_file"`
}

// ServiceConfig names the supervised service.
type ServiceConfig struct {
	Name            string   `yaml:"name" json:"name"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultAgentConfig returns an agent configuration with sensible defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Runtime: RuntimeConfig{
			DefaultModule: "./init",
		},
		Upgrade: UpgradeConfig{
			Enabled: true,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:            true,
			Listen:             "127.0.0.1:9137",
			Path:               "/metrics",
			CollectionInterval: Duration(15 * time.Second),
		},
		Service: ServiceConfig{
			Name:            "warden-agent",
			ShutdownTimeout: Duration(30 * time.Second),
		},
	}
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.Runtime.DefaultModule == "" {
		return fmt.Errorf("runtime.default_module is required")
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address %q: %w", c.Metrics.Listen, err)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
		}
	}

	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}

	if c.Production && c.CrashDir == "" {
		return fmt.Errorf("crash_dir is required in production mode")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}
