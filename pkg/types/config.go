package types

import "time"

// FailurePolicy controls what happens when a unit fails during a
// multi-unit execution.
type FailurePolicy string

const (
	// StopOnFirstFailure aborts remaining work as soon as one unit fails.
	StopOnFirstFailure FailurePolicy = "stop-on-first-failure"
	// ContinueAndReport runs every unit regardless of prior failures and
	// reports all of them at the end.
	ContinueAndReport FailurePolicy = "continue-and-report"
)

// ExecutionMode selects how multiple units are scheduled.
type ExecutionMode string

const (
	// ExecutionSequential runs units one after another in order.
	ExecutionSequential ExecutionMode = "sequential"
	// ExecutionParallel runs all units concurrently against the same host
	// set, each with an isolated executor instance.
	ExecutionParallel ExecutionMode = "parallel"
)

// InfraExecutionConfig configures an infrastructure executor. It is
// immutable once constructed and passed by value.
type InfraExecutionConfig struct {
	// Parallel bounds the number of concurrent host connections and
	// concurrent per-host operation batches.
	Parallel int
	// ConnectTimeout bounds each host connection attempt.
	ConnectTimeout time.Duration
	// FailPercent is the tolerated percentage of failed hosts before a
	// unit run is considered failed outright. Zero tolerates none.
	FailPercent int
	// Verbosity is the logging verbosity (0-3).
	Verbosity int
	// CheckForChanges makes operations probe current host state first so
	// that Changed only reports actual mutations.
	CheckForChanges bool
	// FailurePolicy applies to multi-unit sequential execution.
	FailurePolicy FailurePolicy
}

// DefaultExecutionConfig returns the executor defaults.
func DefaultExecutionConfig() InfraExecutionConfig {
	return InfraExecutionConfig{
		Parallel:       5,
		ConnectTimeout: 10 * time.Second,
		Verbosity:      1,
		FailurePolicy:  StopOnFirstFailure,
	}
}
