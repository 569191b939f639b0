// Package server runs the agent's status listener: liveness, build version,
// upgrade state and Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rennerdo30/warden-agent/internal/config"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/metrics"
	"github.com/rennerdo30/warden-agent/internal/paths"
	"github.com/rennerdo30/warden-agent/internal/version"
	"github.com/rennerdo30/warden-agent/internal/versions"
	"github.com/rennerdo30/warden-agent/internal/watch"
)

// Host is the agent state the status endpoints report on.
type Host interface {
	ID() string
	Path(kind paths.Kind) string
	ServiceRunning() bool
	TryUpgrade() bool
}

// Server is the agent's long-running body.
type Server struct {
	config     *config.AgentConfig
	configPath string
	host       Host

	metrics   *metrics.Metrics
	collector *metrics.Collector

	listener   net.Listener
	httpServer *http.Server
	watchers   []*watch.Watcher
	stagedMu   sync.Mutex
	staged     bool
	startedAt  time.Time

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// New creates a status server. m may be shared with the agent handle so
// upgrade metrics land in the same registry.
func New(cfg *config.AgentConfig, host Host, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		config:    cfg,
		host:      host,
		metrics:   m,
		collector: metrics.NewCollector(m, cfg.Metrics.CollectionInterval.Duration()),
	}
}

// SetConfigPath sets the file ReloadConfig reads.
func (s *Server) SetConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logging.Info("Starting Warden agent", "version", version.Tagged())
	s.metrics.SetBuildInfo(version.Version, version.Release, version.GetInfo().GoVersion)
	s.collector.Start()
	s.startedAt = time.Now()
	s.refreshStaged()

	if s.config.Metrics.Enabled {
		listener, err := net.Listen("tcp", s.config.Metrics.Listen)
		if err != nil {
			s.collector.Stop()
			return fmt.Errorf("listen status: %w", err)
		}
		s.listener = listener
		s.httpServer = &http.Server{
			Handler:           s.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logging.Info("Status server listening", "address", listener.Addr().String())
			if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Status server error", "error", err)
			}
		}()
	}

	s.startWatchers(ctx)
	s.running = true
	return nil
}

// Stop shuts the listener down and waits for it, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	logging.Info("Stopping Warden agent")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Shutdown timeout exceeded")
	}

	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()
	stopWatchers(watchers)
	s.collector.Stop()
	logging.Info("Warden agent stopped")
	return err
}

// Close stops the server with the configured shutdown timeout.
func (s *Server) Close() error {
	s.mu.RLock()
	timeout := s.config.Service.ShutdownTimeout.Duration()
	s.mu.RUnlock()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}

// ReloadConfig re-reads the config file and applies the log level. Output,
// format and listener settings take effect on the next start.
func (s *Server) ReloadConfig() error {
	s.mu.RLock()
	path := s.configPath
	s.mu.RUnlock()
	if path == "" {
		return errors.New("no config file to reload")
	}

	cfg := config.DefaultAgentConfig()
	if err := config.LoadAndValidate(path, &cfg); err != nil {
		s.metrics.RecordConfigReload(err)
		return fmt.Errorf("reload config: %w", err)
	}
	s.metrics.RecordConfigReload(nil)

	if lvl, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logging.SetLevel(lvl)
	}

	s.mu.Lock()
	s.config = &cfg
	s.mu.Unlock()

	logging.Info("Configuration reloaded", "path", path)
	return nil
}

// startWatchers follows the staging directory and the config file. A path
// that cannot be watched is logged and skipped. Callers hold s.mu.
func (s *Server) startWatchers(ctx context.Context) {
	if dir := s.host.Path(paths.ExeDir); dir != "" {
		if w, err := watch.New(dir, versions.HasMarker, func(string, fsnotify.Op) { s.refreshStaged() }); err != nil {
			logging.Debug("Not watching staging directory", "dir", dir, "error", err)
		} else {
			w.Start(ctx)
			s.watchers = append(s.watchers, w)
		}
	}

	if s.configPath != "" {
		if _, err := os.Stat(s.configPath); err == nil {
			w, err := watch.File(s.configPath, func(_ string, op fsnotify.Op) {
				if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
					return
				}
				if err := s.ReloadConfig(); err != nil {
					logging.Warn("Config reload failed", "error", err)
				}
			})
			if err != nil {
				logging.Debug("Not watching config file", "path", s.configPath, "error", err)
			} else {
				w.Start(ctx)
				s.watchers = append(s.watchers, w)
			}
		}
	}
}

// stopWatchers must not be called with s.mu held; handlers take it.
func stopWatchers(watchers []*watch.Watcher) {
	for _, w := range watchers {
		if err := w.Stop(); err != nil {
			logging.Debug("Failed to stop watcher", "dir", w.Dir(), "error", err)
		}
	}
}

// refreshStaged re-checks the staging directory and publishes the result.
func (s *Server) refreshStaged() {
	staged := s.host.Path(paths.LatestExe)
	newer := versions.IsNewer(staged, version.Version)

	s.stagedMu.Lock()
	was := s.staged
	s.staged = newer
	s.stagedMu.Unlock()

	s.metrics.SetStaged(newer)
	if newer && !was {
		logging.Info("Newer executable staged, applied on next start", "exe", staged)
	}
}

// Running reports whether the server has been started.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound status address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Router returns the status HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/status", s.handleStatus)

	metricsPath := s.config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, s.metrics.Handler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

// UpgradeStatus describes what a startup upgrade attempt would see.
type UpgradeStatus struct {
	Running   string `json:"running"`
	Staged    string `json:"staged,omitempty"`
	Available bool   `json:"available"`
	Enabled   bool   `json:"enabled"`
}

type statusResponse struct {
	ID      string        `json:"id"`
	Version string        `json:"version"`
	Service bool          `json:"service"`
	Uptime  string        `json:"uptime"`
	Upgrade UpgradeStatus `json:"upgrade"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	staged := s.host.Path(paths.LatestExe)
	resp := statusResponse{
		ID:      s.host.ID(),
		Version: version.Tagged(),
		Service: s.host.ServiceRunning(),
		Upgrade: UpgradeStatus{
			Running:   version.Version,
			Staged:    staged,
			Available: versions.IsNewer(staged, version.Version),
			Enabled:   s.host.TryUpgrade(),
		},
	}
	if !startedAt.IsZero() {
		resp.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to encode response", "error", err)
	}
}
