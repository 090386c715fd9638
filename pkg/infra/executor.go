// Package infra drives ordered infrastructure units against an inventory
// of hosts and tracks per-host, per-operation outcomes along with the
// crash-resumable deployment ledger.
package infra

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kubengine/kubengine/pkg/cluster/node"
	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// factRetries and factRetryDelay bound group fact lookups, e.g. waiting
// for the master to be able to mint a join token.
var (
	factRetries    = 10
	factRetryDelay = 20 * time.Second
)

// Executor runs infrastructure units against a named inventory of hosts.
// An instance owns its host connections for the duration of one unit and
// tears them down before returning, connections are never shared across
// unit executions.
type Executor struct {
	config types.InfraExecutionConfig

	// Dial is the node connection factory. Tests replace it to execute
	// against mock nodes.
	Dial func(*types.NodeConnectOptions) (types.Node, error)
}

// NewExecutor returns an executor with the given configuration.
func NewExecutor(config types.InfraExecutionConfig) *Executor {
	if config.Parallel < 1 {
		config.Parallel = 1
	}
	return &Executor{config: config, Dial: node.Connect}
}

// Config returns the executor configuration.
func (e *Executor) Config() types.InfraExecutionConfig { return e.config }

// ExecuteUnit runs a single unit against the given hosts. Hosts that fail
// to connect are reported in the result without aborting the others, but
// zero successful connections is fatal for the run. The returned result
// is always summarized, even on early errors.
func (e *Executor) ExecuteUnit(unit *types.InfraUnit, hostIPs []string, data types.SharedData, groups types.HostGroups) *types.InfraExecutionResult {
	result := types.NewInfraExecutionResult(hostIPs)
	result.FailTolerance = e.config.FailPercent
	defer func() {
		result.ExecutionEnd = time.Now()
		result.Summarize()
	}()

	if err := e.validateUnit(unit); err != nil {
		result.GlobalError = err.Error()
		return result
	}
	if data == nil {
		data = types.SharedData{}
	}

	log.Infof("Executing unit %q against %d hosts\n", unit.Name, len(hostIPs))

	nodes := e.connectAll(hostIPs, data, result)
	defer e.disconnectAll(nodes)

	if len(nodes) == 0 {
		result.GlobalError = "no hosts were successfully connected"
		return result
	}

	plans := e.bindAll(unit, nodes, hostIPs, data, groups, result)
	outcomes := e.runOperations(nodes, plans, result)
	e.collectResults(result, outcomes)

	if e.config.FailPercent > 0 {
		result.Summarize()
		failedPct := result.FailedHosts * 100 / result.TotalHosts
		if failedPct > e.config.FailPercent {
			result.GlobalError = fmt.Sprintf("failure rate %d%% exceeded the %d%% threshold", failedPct, e.config.FailPercent)
		}
	}
	return result
}

func (e *Executor) validateUnit(unit *types.InfraUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	if unit.Source == "" {
		return nil
	}
	info, err := os.Stat(unit.Source)
	if err != nil {
		return fmt.Errorf("unit source not found: %s", unit.Source)
	}
	if info.IsDir() {
		return nil
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("unit source is not a regular file: %s", unit.Source)
	}
	return nil
}

// connectAll dials every host, at most Parallel at a time, and records
// connection state in the result. The returned map holds only the hosts
// that connected.
func (e *Executor) connectAll(hostIPs []string, data types.SharedData, result *types.InfraExecutionResult) map[string]types.Node {
	nodes := make(map[string]types.Node, len(hostIPs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(e.config.Parallel, func(arg interface{}) {
		defer wg.Done()
		ip := arg.(string)
		n, dialErr := e.Dial(e.connectOptions(ip, data))
		mu.Lock()
		defer mu.Unlock()
		hostResult := result.HostResults[ip]
		if dialErr != nil {
			hostResult.Error = fmt.Sprintf("failed to connect: %s", dialErr)
			log.Warningf("Host %s failed to connect: %s\n", ip, dialErr)
			return
		}
		hostResult.Connected = true
		nodes[ip] = n
	})
	if err != nil {
		for _, ip := range hostIPs {
			result.HostResults[ip].Error = fmt.Sprintf("failed to start connection pool: %s", err)
		}
		return nodes
	}
	defer pool.Release()

	for _, ip := range hostIPs {
		wg.Add(1)
		if invokeErr := pool.Invoke(ip); invokeErr != nil {
			wg.Done()
			result.HostResults[ip].Error = fmt.Sprintf("failed to schedule connection: %s", invokeErr)
		}
	}
	wg.Wait()
	return nodes
}

// connectOptions resolves connection parameters for a host, preferring a
// per-host override map nested under the host address in the shared data
// and falling back to the top-level ssh_* keys.
func (e *Executor) connectOptions(host string, data types.SharedData) *types.NodeConnectOptions {
	opts := &types.NodeConnectOptions{
		Address:        host,
		SSHUser:        "root",
		SSHPort:        22,
		ConnectTimeout: e.config.ConnectTimeout,
	}
	assign := func(params map[string]interface{}) {
		if params == nil {
			return
		}
		if v, ok := params["ssh_user"].(string); ok && v != "" {
			opts.SSHUser = v
		}
		if v, ok := params["ssh_key"].(string); ok && v != "" {
			opts.SSHKeyFile = v
		}
		if v, ok := params["ssh_password"].(string); ok && v != "" {
			opts.SSHPassword = v
		}
		if v, ok := params["ssh_port"].(int); ok && v != 0 {
			opts.SSHPort = v
		}
	}
	assign(data)
	assign(data.HostOverrides(host))
	return opts
}

// bindAll plans the unit for every connected host. The bind phase for all
// hosts strictly precedes operation execution for any host. A plan error
// is isolated to its host.
func (e *Executor) bindAll(unit *types.InfraUnit, nodes map[string]types.Node, inventory []string, data types.SharedData, groups types.HostGroups, result *types.InfraExecutionResult) map[string][]types.Operation {
	plans := make(map[string][]types.Operation, len(nodes))
	runner := e.groupRunner(nodes, groups)

	for _, ip := range sortedKeys(nodes) {
		hostResult := result.HostResults[ip]
		hostResult.ExecutionStart = time.Now()
		ctx := &types.ExecutionContext{
			Host:         ip,
			Data:         data,
			Inventory:    inventory,
			Groups:       groups,
			RunOnGroup:   runner,
			CheckChanges: e.config.CheckForChanges,
		}
		operations, err := planUnit(unit, ctx)
		if err != nil {
			hostResult.ExecutionEnd = time.Now()
			hostResult.Error = fmt.Sprintf("failed to plan unit on host %s: %s", ip, err)
			log.Errorf("Failed to plan unit %q on host %s: %s\n", unit.Name, ip, err)
			continue
		}
		plans[ip] = operations
	}
	return plans
}

// planUnit invokes the unit plan, converting panics into errors so one
// host's bad plan never takes down the run.
func planUnit(unit *types.InfraUnit, ctx *types.ExecutionContext) (operations []types.Operation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during unit plan: %v", r)
		}
	}()
	return unit.Plan(ctx)
}

// groupRunner returns the fact lookup units use to query another group's
// node during planning. Lookups retry since facts like the kubeadm join
// command only become available once the master has settled.
func (e *Executor) groupRunner(nodes map[string]types.Node, groups types.HostGroups) types.GroupRunner {
	return func(group, command string) (string, error) {
		var target types.Node
		for _, host := range groups[group].Hosts {
			if n, ok := nodes[host]; ok {
				target = n
				break
			}
		}
		if target == nil {
			return "", fmt.Errorf("no connected host in group %q", group)
		}
		var lastErr error
		for attempt := 0; attempt < factRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(factRetryDelay)
			}
			res, err := target.Execute(&types.ExecuteOptions{Command: command})
			if err != nil {
				lastErr = err
				continue
			}
			if res.Failed() {
				lastErr = fmt.Errorf("command %q exited %d", command, res.ExitStatus)
				continue
			}
			return strings.TrimSpace(strings.Join(res.Stdout, "\n")), nil
		}
		return "", fmt.Errorf("fact lookup on group %q failed after %d attempts: %s", group, factRetries, lastErr)
	}
}

// runOperations executes every bound host's operations in a single batch
// pass, hosts in parallel up to the configured bound, each host's
// operations in declared order.
func (e *Executor) runOperations(nodes map[string]types.Node, plans map[string][]types.Operation, result *types.InfraExecutionResult) map[string][]*types.OperationOutcome {
	outcomes := make(map[string][]*types.OperationOutcome, len(plans))
	var mu sync.Mutex
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(e.config.Parallel, func(arg interface{}) {
		defer wg.Done()
		ip := arg.(string)
		hostOutcomes := e.runHostOperations(nodes[ip], plans[ip])
		mu.Lock()
		outcomes[ip] = hostOutcomes
		mu.Unlock()
		result.HostResults[ip].ExecutionEnd = time.Now()
	})
	if err != nil {
		for ip := range plans {
			result.HostResults[ip].Error = fmt.Sprintf("failed to start operation pool: %s", err)
		}
		return outcomes
	}
	defer pool.Release()

	for _, ip := range sortedKeys(plans) {
		wg.Add(1)
		if invokeErr := pool.Invoke(ip); invokeErr != nil {
			wg.Done()
			result.HostResults[ip].Error = fmt.Sprintf("failed to schedule operations: %s", invokeErr)
		}
	}
	wg.Wait()
	return outcomes
}

func (e *Executor) runHostOperations(n types.Node, operations []types.Operation) []*types.OperationOutcome {
	hostOutcomes := make([]*types.OperationOutcome, 0, len(operations))
	for _, op := range operations {
		outcome := applyOperation(op, n)
		hostOutcomes = append(hostOutcomes, outcome)
	}
	return hostOutcomes
}

// applyOperation runs one operation, recovering panics into a failed
// outcome so collection always has something to report.
func applyOperation(op types.Operation, n types.Node) (outcome *types.OperationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = &types.OperationOutcome{
				Name:  op.Name(),
				Error: fmt.Sprintf("panic during operation: %v", r),
			}
		}
	}()
	outcome = op.Apply(n)
	if outcome == nil {
		// An adapter that returns nothing is taken as a silent success.
		outcome = &types.OperationOutcome{Name: op.Name(), Success: true}
	}
	return outcome
}

// collectResults maps raw outcomes into host operation results. Duplicate
// operation names within one host get numeric suffixes in the order
// encountered, errors are only retained for failures.
func (e *Executor) collectResults(result *types.InfraExecutionResult, outcomes map[string][]*types.OperationOutcome) {
	total := 0
	for ip, hostOutcomes := range outcomes {
		hostResult := result.HostResults[ip]
		for _, outcome := range hostOutcomes {
			opResult := &types.HostOperationResult{
				OperationName: outcome.Name,
				Success:       outcome.Success,
				Changed:       outcome.Changed,
				Output:        outcome.Output,
			}
			if opResult.Output == nil {
				opResult.Output = []string{}
			}
			if !outcome.Success && outcome.Error != "" {
				opResult.Error = outcome.Error
			}
			hostResult.AddOperation(opResult)
			total++
		}
	}
	log.Debugf("Collected %d operations across %d hosts\n", total, len(result.HostResults))
}

// disconnectAll tears down every connection best-effort. Failures are
// logged, never raised.
func (e *Executor) disconnectAll(nodes map[string]types.Node) {
	for ip, n := range nodes {
		if err := n.Close(); err != nil {
			log.Debugf("Error disconnecting from %s: %s\n", ip, err)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
