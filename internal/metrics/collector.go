package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rennerdo30/warden-agent/internal/logging"
)

// DefaultCollectInterval is how often the collector refreshes gauges.
const DefaultCollectInterval = 15 * time.Second

// Collector collects and updates metrics periodically.
type Collector struct {
	metrics   *Metrics
	interval  time.Duration
	startTime time.Time
	ticker    *time.Ticker
	done      chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewCollector creates a new metrics collector.
func NewCollector(metrics *Metrics, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		metrics:   metrics,
		interval:  interval,
		startTime: time.Now(),
	}
}

// Start starts the metrics collector.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.done = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)

	go c.collectLoop(c.done, c.ticker.C)
}

// Stop stops the metrics collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	close(c.done)
	c.ticker.Stop()
	c.running = false
}

func (c *Collector) collectLoop(done <-chan struct{}, tick <-chan time.Time) {
	c.collect()

	for {
		select {
		case <-done:
			return
		case <-tick:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	c.metrics.Uptime.Set(time.Since(c.startTime).Seconds())
	c.metrics.GoRoutines.Set(float64(runtime.NumGoroutine()))
	c.collectHost()
}

// collectHost samples host utilisation. CPU is measured against the previous
// call, so the first sample after start may read 0.
func (c *Collector) collectHost() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		c.metrics.HostCPUPercent.Set(pct[0])
	} else if err != nil {
		logging.Debug("Failed to sample host CPU", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		c.metrics.HostMemoryPercent.Set(vm.UsedPercent)
	} else {
		logging.Debug("Failed to sample host memory", "error", err)
	}
}
