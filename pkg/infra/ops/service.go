package ops

import (
	"fmt"

	"github.com/kubengine/kubengine/pkg/types"
)

// Systemd manages a systemd service on the bound host.
type Systemd struct {
	OpName  string
	Service string
	// Enabled also enables the unit at boot
	Enabled bool
	// Restarted restarts instead of starting
	Restarted bool
	// DaemonReload reloads unit files first
	DaemonReload bool
}

// Name implements types.Operation.
func (s *Systemd) Name() string { return s.OpName }

// Apply implements types.Operation.
func (s *Systemd) Apply(n types.Node) *types.OperationOutcome {
	commands := make([]string, 0, 3)
	if s.DaemonReload {
		commands = append(commands, "systemctl daemon-reload")
	}
	if s.Enabled {
		commands = append(commands, fmt.Sprintf("systemctl enable %s", s.Service))
	}
	verb := "start"
	if s.Restarted {
		verb = "restart"
	}
	commands = append(commands, fmt.Sprintf("systemctl %s %s", verb, s.Service))
	return (&Shell{OpName: s.OpName, Commands: commands}).Apply(n)
}

// Packages installs or removes system packages with yum.
type Packages struct {
	OpName   string
	Packages []string
	// Present installs when true, removes when false
	Present bool
}

// Name implements types.Operation.
func (p *Packages) Name() string { return p.OpName }

// Apply implements types.Operation.
func (p *Packages) Apply(n types.Node) *types.OperationOutcome {
	verb := "install"
	if !p.Present {
		verb = "remove"
	}
	cmd := fmt.Sprintf("yum %s -y", verb)
	for _, pkg := range p.Packages {
		cmd += " " + pkg
	}
	return (&Shell{OpName: p.OpName, Commands: []string{cmd}}).Apply(n)
}
