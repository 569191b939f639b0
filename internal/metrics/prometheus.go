// Package metrics provides Prometheus metrics for the Warden agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSkipped = "skipped"
	ResultSpawned = "spawned"
	ResultFailed  = "failed"
	ResultApplied = "applied"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	// Upgrade metrics
	UpgradeChecks   prometheus.Counter
	UpgradeAttempts *prometheus.CounterVec
	StagedUpgrade   prometheus.Gauge
	ConfigReloads   *prometheus.CounterVec

	// Lifecycle metrics
	AgentHandles prometheus.Gauge
	BuildInfo    *prometheus.GaugeVec

	// System metrics
	Uptime     prometheus.Gauge
	GoRoutines prometheus.Gauge

	// Host metrics
	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.UpgradeChecks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_upgrade_checks_total",
			Help: "Total number of staged executable checks",
		},
	)

	m.UpgradeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_upgrade_attempts_total",
			Help: "Total number of upgrade attempts by replacement path and result",
		},
		[]string{"path", "result"},
	)

	m.AgentHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_agent_handles",
			Help: "Number of live agent handles in this process",
		},
	)

	m.StagedUpgrade = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_upgrade_staged",
			Help: "1 when a newer executable is staged, 0 otherwise",
		},
	)

	m.ConfigReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_config_reloads_total",
			Help: "Total number of configuration reloads by result",
		},
		[]string{"result"},
	)

	m.BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_build_info",
			Help: "Build information of the running agent",
		},
		[]string{"version", "release", "goversion"},
	)

	m.Uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_uptime_seconds",
			Help: "Agent uptime in seconds",
		},
	)

	m.GoRoutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_goroutines",
			Help: "Number of goroutines",
		},
	)

	m.HostCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_host_cpu_percent",
			Help: "Host CPU utilisation since the previous collection",
		},
	)

	m.HostMemoryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_host_memory_used_percent",
			Help: "Host memory in use",
		},
	)

	m.registry.MustRegister(
		m.UpgradeChecks,
		m.UpgradeAttempts,
		m.StagedUpgrade,
		m.ConfigReloads,
		m.AgentHandles,
		m.BuildInfo,
		m.Uptime,
		m.GoRoutines,
		m.HostCPUPercent,
		m.HostMemoryPercent,
	)

	// Register default Go metrics
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// RecordUpgradeCheck counts one staged executable check.
func (m *Metrics) RecordUpgradeCheck() {
	m.UpgradeChecks.Inc()
}

// RecordUpgradeAttempt counts one upgrade attempt.
func (m *Metrics) RecordUpgradeAttempt(path, result string) {
	m.UpgradeAttempts.WithLabelValues(path, result).Inc()
}

// SetStaged publishes whether a newer executable is staged.
func (m *Metrics) SetStaged(staged bool) {
	if staged {
		m.StagedUpgrade.Set(1)
		return
	}
	m.StagedUpgrade.Set(0)
}

// RecordConfigReload counts one reload attempt.
func (m *Metrics) RecordConfigReload(err error) {
	if err != nil {
		m.ConfigReloads.WithLabelValues(ResultFailed).Inc()
		return
	}
	m.ConfigReloads.WithLabelValues(ResultApplied).Inc()
}

// SetBuildInfo publishes the running build.
func (m *Metrics) SetBuildInfo(version, release, goVersion string) {
	m.BuildInfo.Reset()
	m.BuildInfo.WithLabelValues(version, release, goVersion).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
