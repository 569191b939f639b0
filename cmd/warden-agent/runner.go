package main

import (
	"context"
	"errors"

	"github.com/rennerdo30/warden-agent/internal/agent"
	"github.com/rennerdo30/warden-agent/internal/logging"
	"github.com/rennerdo30/warden-agent/internal/server"
	"github.com/rennerdo30/warden-agent/internal/upgrade"
)

// errUpgraded stops startup after a successful upgrade with --exit-on-upgrade.
var errUpgraded = errors.New("upgrade performed")

// agentRunner is what the service manager starts. The upgrade attempt runs
// inside Start so that under the Windows service manager it sees the
// service as running and takes the detached path.
type agentRunner struct {
	agent         *agent.Agent
	server        *server.Server
	status        upgrade.StatusFunc
	exitOnUpgrade bool
}

func (r *agentRunner) Start(ctx context.Context) error {
	if r.agent.TryUpgrade() {
		performed, err := r.agent.AttemptUpgrade(r.status)
		switch {
		case err != nil:
			logging.Error("Upgrade failed, continuing with current version", "error", err)
		case performed && r.exitOnUpgrade:
			return errUpgraded
		}
	}
	return r.server.Start(ctx)
}

func (r *agentRunner) Stop(ctx context.Context) error {
	return r.server.Stop(ctx)
}

func (r *agentRunner) ReloadConfig() error {
	return r.server.ReloadConfig()
}
