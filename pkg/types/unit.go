package types

import (
	"fmt"
	"strings"
)

// SharedData is the deployment data made visible to every host during a
// unit execution. Connection parameters may be present both at the top
// level ("ssh_user", "ssh_key", "ssh_port", "ssh_password") and nested
// under a host address key for per-host overrides.
type SharedData map[string]interface{}

// String returns the value under key coerced to a string, or the empty
// string when absent.
func (d SharedData) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the value under key coerced to a bool.
func (d SharedData) Bool(key string) bool {
	v, ok := d[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// StringSlice returns the value under key coerced to a string slice.
func (d SharedData) StringSlice(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// HostOverrides returns the per-host parameter map nested under the given
// host address, if any.
func (d SharedData) HostOverrides(host string) map[string]interface{} {
	if v, ok := d[host]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// HostGroup is a named subset of target hosts sharing role-specific data.
type HostGroup struct {
	Hosts []string
	Data  map[string]interface{}
}

// HostGroups maps group names ("master", "worker") to their definitions.
type HostGroups map[string]HostGroup

// Contains reports whether the given host belongs to the named group.
func (g HostGroups) Contains(group, host string) bool {
	for _, h := range g[group].Hosts {
		if h == host {
			return true
		}
	}
	return false
}

// GroupRunner runs a command on the first connected node of a named group
// and returns its trimmed stdout. Units use this to fetch facts from
// another role during the bind phase.
type GroupRunner func(group, command string) (string, error)

// ExecutionContext carries everything a unit's Plan needs for one host.
// It is threaded explicitly through every call, there is no ambient
// execution state, which keeps concurrent unit execution safe.
type ExecutionContext struct {
	// Host is the inventory address of the host being planned for
	Host string
	// Data is the shared deployment data
	Data SharedData
	// Inventory lists every host taking part in the unit execution
	Inventory []string
	// Groups holds the role groups for the execution
	Groups HostGroups
	// RunOnGroup fetches a fact from another group's node, may be nil
	// outside a live execution
	RunOnGroup GroupRunner
	// CheckChanges mirrors the executor's CheckForChanges setting. Plans
	// use it to decide whether operations probe current host state first
	// so Changed only reports actual mutations.
	CheckChanges bool
}

// InGroup reports whether the context host is a member of the named group.
func (c *ExecutionContext) InGroup(group string) bool {
	return c.Groups.Contains(group, c.Host)
}

// GroupHosts returns the member hosts of the named group.
func (c *ExecutionContext) GroupHosts(group string) []string {
	return c.Groups[group].Hosts
}

// Operation is one named, declarative action a unit performs on a host.
// Implementations report their outcome directly, the executor performs no
// introspection beyond the returned struct.
type Operation interface {
	// Name returns the operation name as shown in results
	Name() string
	// Apply runs the operation against the given node
	Apply(node Node) *OperationOutcome
}

// InfraUnit is one ordered step of the deployment plan: a typed
// replacement for the original dynamically-loaded infrastructure file.
type InfraUnit struct {
	// Name uniquely identifies the unit within the plan
	Name string
	// Description is the human-readable component name
	Description string
	// Source is the unit's asset root under the deploy source. It must
	// exist before execution and its modification time feeds the
	// deployment hash.
	Source string
	// Plan produces the operations to run on the context host. Group
	// conditional logic lives here.
	Plan func(ctx *ExecutionContext) ([]Operation, error)
}

// Validate returns an error when the unit is structurally unusable.
func (u *InfraUnit) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("infra unit has no name")
	}
	if u.Plan == nil {
		return fmt.Errorf("infra unit %q has no plan", u.Name)
	}
	return nil
}
