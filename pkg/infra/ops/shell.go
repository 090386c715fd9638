// Package ops provides the declarative operations deployment units are
// built from. Every operation reports its outcome as a plain struct, the
// executor never inspects anything beyond it.
package ops

import (
	"fmt"

	"github.com/kubengine/kubengine/pkg/types"
)

// Shell runs one or more commands on the bound host. It always reports
// Changed on success since arbitrary commands are assumed to mutate state.
type Shell struct {
	// OpName is the operation name shown in results
	OpName string
	// Commands are run in order, stopping at the first failure
	Commands []string
	// Env is exported to every command
	Env map[string]string
	// Secrets are redacted from logged command lines
	Secrets []string
}

// Name implements types.Operation.
func (s *Shell) Name() string { return s.OpName }

// Apply implements types.Operation.
func (s *Shell) Apply(n types.Node) *types.OperationOutcome {
	out := &types.OperationOutcome{Name: s.OpName, Success: true, Changed: true}
	for _, cmd := range s.Commands {
		res, err := n.Execute(&types.ExecuteOptions{
			Command:   cmd,
			Env:       s.Env,
			Secrets:   s.Secrets,
			LogPrefix: s.OpName,
		})
		if err != nil {
			out.Success = false
			out.Changed = false
			out.Error = fmt.Sprintf("failed to execute %q: %s", cmd, err)
			return out
		}
		out.Output = append(out.Output, res.Stdout...)
		out.Output = append(out.Output, res.Stderr...)
		if res.Failed() {
			out.Success = false
			out.Error = fmt.Sprintf("command %q exited %d", cmd, res.ExitStatus)
			return out
		}
	}
	return out
}

// runCheck runs a probe command and reports whether it exited zero.
// Probe failures at the transport level are treated as "not satisfied".
func runCheck(n types.Node, cmd string) bool {
	res, err := n.Execute(&types.ExecuteOptions{Command: cmd})
	if err != nil {
		return false
	}
	return !res.Failed()
}
