package types

import (
	"fmt"
	"sort"
	"time"
)

// OperationOutcome is the raw outcome an operation implementation reports
// back to the executor. Adapters must fill this struct directly, the
// executor never inspects engine internals.
type OperationOutcome struct {
	// Name of the operation as declared by the unit
	Name string
	// Success is whether the operation completed without error
	Success bool
	// Changed is whether the operation mutated host state
	Changed bool
	// Output holds the raw output lines produced by the operation
	Output []string
	// Error holds the failure message when Success is false
	Error string
}

// HostOperationResult is the collected result of a single operation on a
// single host. It is created during result collection and never mutated
// afterwards.
type HostOperationResult struct {
	// OperationName is unique within a host's result set, duplicates
	// are disambiguated with a numeric suffix during collection.
	OperationName string   `json:"operation_name"`
	Success       bool     `json:"success"`
	Changed       bool     `json:"changed"`
	Output        []string `json:"output"`
	Error         string   `json:"error,omitempty"`
}

// HostExecutionResult is the per-host result of a single unit execution.
type HostExecutionResult struct {
	Hostname             string                          `json:"hostname"`
	Connected            bool                            `json:"connected"`
	ExecutionStart       time.Time                       `json:"execution_start_time"`
	ExecutionEnd         time.Time                       `json:"execution_end_time"`
	Operations           map[string]*HostOperationResult `json:"operations"`
	TotalOperations      int                             `json:"total_operations"`
	SuccessfulOperations int                             `json:"successful_operations"`
	FailedOperations     int                             `json:"failed_operations"`
	ChangedOperations    int                             `json:"changed_operations"`
	// Error is a top-level error for the host, e.g. a connection failure
	Error string `json:"error,omitempty"`
}

// NewHostExecutionResult returns an empty result for the given host.
func NewHostExecutionResult(hostname string) *HostExecutionResult {
	return &HostExecutionResult{
		Hostname:   hostname,
		Operations: make(map[string]*HostOperationResult),
	}
}

// Success determines whether the host execution was fully successful.
func (h *HostExecutionResult) Success() bool {
	return h.Connected && h.FailedOperations == 0 && h.Error == ""
}

// Duration returns the elapsed execution time for this host.
func (h *HostExecutionResult) Duration() time.Duration {
	if h.ExecutionEnd.Before(h.ExecutionStart) {
		return 0
	}
	return h.ExecutionEnd.Sub(h.ExecutionStart)
}

// AddOperation inserts the given operation result under a unique key,
// appending a numeric suffix when the name is already taken, and updates
// the host counters. The key actually used is returned.
func (h *HostExecutionResult) AddOperation(op *HostOperationResult) string {
	key := op.OperationName
	for i := 1; ; i++ {
		if _, taken := h.Operations[key]; !taken {
			break
		}
		key = fmt.Sprintf("%s_%d", op.OperationName, i)
	}
	h.Operations[key] = op
	h.Recount()
	return key
}

// Recount recomputes the operation counters from the operations map. The
// counters are always derived from the finished map, never maintained
// incrementally during execution.
func (h *HostExecutionResult) Recount() {
	h.TotalOperations = len(h.Operations)
	h.SuccessfulOperations = 0
	h.FailedOperations = 0
	h.ChangedOperations = 0
	for _, op := range h.Operations {
		if op.Success {
			h.SuccessfulOperations++
		} else {
			h.FailedOperations++
		}
		if op.Changed {
			h.ChangedOperations++
		}
	}
}

// FailedOperationNames returns the names of all failed operations on this
// host in lexical order.
func (h *HostExecutionResult) FailedOperationNames() []string {
	failed := make([]string, 0)
	for name, op := range h.Operations {
		if !op.Success {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// InfraExecutionResult is the global result of one ExecuteUnit or
// ExecuteUnits call.
type InfraExecutionResult struct {
	// Succeeded reflects the global invariant: no global error, failed
	// hosts within tolerance, and at least one target host. It is set by
	// Summarize.
	Succeeded bool `json:"success"`
	// FailTolerance is the tolerated percentage of failed hosts, set from
	// the executor configuration. Zero tolerates none.
	FailTolerance   int                             `json:"fail_tolerance_percent,omitempty"`
	ExecutionStart  time.Time                       `json:"execution_start_time"`
	ExecutionEnd    time.Time                       `json:"execution_end_time"`
	HostResults     map[string]*HostExecutionResult `json:"host_results"`
	TotalHosts      int                             `json:"total_hosts"`
	ConnectedHosts  int                             `json:"connected_hosts"`
	SuccessfulHosts int                             `json:"successful_hosts"`
	FailedHosts     int                             `json:"failed_hosts"`
	ChangedHosts    int                             `json:"changed_hosts"`
	GlobalError     string                          `json:"global_error,omitempty"`
}

// NewInfraExecutionResult returns a result pre-populated with an empty
// host result for every requested host.
func NewInfraExecutionResult(hostIPs []string) *InfraExecutionResult {
	r := &InfraExecutionResult{
		ExecutionStart: time.Now(),
		TotalHosts:     len(hostIPs),
		HostResults:    make(map[string]*HostExecutionResult, len(hostIPs)),
	}
	for _, ip := range hostIPs {
		r.HostResults[ip] = NewHostExecutionResult(ip)
	}
	return r
}

// Duration returns the elapsed global execution time.
func (r *InfraExecutionResult) Duration() time.Duration {
	if r.ExecutionEnd.Before(r.ExecutionStart) {
		return 0
	}
	return r.ExecutionEnd.Sub(r.ExecutionStart)
}

// HostResult returns the result for a specific host, or nil.
func (r *InfraExecutionResult) HostResult(hostname string) *HostExecutionResult {
	return r.HostResults[hostname]
}

// GetFailedHosts returns the hostnames that did not fully succeed, in
// lexical order. Computed on demand, never cached.
func (r *InfraExecutionResult) GetFailedHosts() []string {
	return r.selectHosts(func(h *HostExecutionResult) bool { return !h.Success() })
}

// GetChangedHosts returns the hostnames with at least one changed operation.
func (r *InfraExecutionResult) GetChangedHosts() []string {
	return r.selectHosts(func(h *HostExecutionResult) bool { return h.ChangedOperations > 0 })
}

// GetConnectionFailures returns the hostnames that failed to connect.
func (r *InfraExecutionResult) GetConnectionFailures() []string {
	return r.selectHosts(func(h *HostExecutionResult) bool { return !h.Connected })
}

func (r *InfraExecutionResult) selectHosts(match func(*HostExecutionResult) bool) []string {
	hosts := make([]string, 0)
	for name, h := range r.HostResults {
		if match(h) {
			hosts = append(hosts, name)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// Summarize recomputes the cross-host counters and the global Succeeded
// flag by aggregating over the finished host results.
func (r *InfraExecutionResult) Summarize() {
	r.ConnectedHosts = 0
	r.SuccessfulHosts = 0
	r.FailedHosts = 0
	r.ChangedHosts = 0
	for _, h := range r.HostResults {
		if h.Connected {
			r.ConnectedHosts++
		}
		if h.Success() {
			r.SuccessfulHosts++
		} else {
			r.FailedHosts++
		}
		if h.ChangedOperations > 0 {
			r.ChangedHosts++
		}
	}
	withinTolerance := r.FailedHosts == 0
	if !withinTolerance && r.FailTolerance > 0 && r.TotalHosts > 0 {
		withinTolerance = r.FailedHosts*100/r.TotalHosts <= r.FailTolerance
	}
	r.Succeeded = r.GlobalError == "" && withinTolerance && r.TotalHosts > 0
}

// Merge folds a single unit's result into this aggregate. Operation names
// are prefixed with the unit name to keep per-unit provenance visible,
// connection state is OR'ed across units, and the first non-empty host
// error wins.
func (r *InfraExecutionResult) Merge(unitResult *InfraExecutionResult, unitName string) {
	for hostname, main := range r.HostResults {
		part, ok := unitResult.HostResults[hostname]
		if !ok {
			continue
		}
		main.Connected = main.Connected || part.Connected
		for opName, op := range part.Operations {
			main.Operations[fmt.Sprintf("%s_%s", unitName, opName)] = op
		}
		main.Recount()
		if part.Error != "" && main.Error == "" {
			main.Error = fmt.Sprintf("[%s] %s", unitName, part.Error)
		}
	}
}
