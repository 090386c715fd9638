package deploy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kubengine/kubengine/pkg/ca"
	"github.com/kubengine/kubengine/pkg/cluster"
	"github.com/kubengine/kubengine/pkg/cluster/node"
	"github.com/kubengine/kubengine/pkg/infra"
	"github.com/kubengine/kubengine/pkg/infra/units"
	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
	"github.com/kubengine/kubengine/pkg/util"
)

// Deployer drives a full cluster deployment: environment checks,
// certificate preparation, resume filtering against the state ledger, and
// strictly ordered fail-fast unit execution.
type Deployer struct {
	cfg        *Config
	state      *infra.DeploymentState
	execConfig types.InfraExecutionConfig

	// Plan is the ordered unit list, defaulting to the full deployment
	// plan rooted at the configured deploy source
	Plan []*types.InfraUnit
	// Dial is the node connection factory handed to every executor
	Dial func(*types.NodeConnectOptions) (types.Node, error)
	// Validator checks the configuration before anything runs
	Validator *Validator
	// CertsDir is where certificates are generated
	CertsDir string
}

// New returns a deployer for the given configuration, persisting progress
// at statePath.
func New(cfg *Config, statePath string) *Deployer {
	execConfig := types.DefaultExecutionConfig()
	execConfig.Verbosity = log.Verbosity
	return &Deployer{
		cfg:        cfg,
		state:      infra.LoadState(statePath),
		execConfig: execConfig,
		Plan:       units.DeploymentPlan(cfg.DeploySource),
		Dial:       node.Connect,
		Validator:  NewValidator(),
		CertsDir:   types.CertsDir,
	}
}

// State exposes the ledger, e.g. for the reset command.
func (d *Deployer) State() *infra.DeploymentState { return d.state }

// Deploy runs the whole pipeline. It returns an error as soon as any
// stage fails, leaving completed progress recorded for the next run.
func (d *Deployer) Deploy() error {
	if err := d.Validator.Validate(d.cfg); err != nil {
		return err
	}
	if !d.ValidateEnvironment() {
		return fmt.Errorf("environment validation failed, see log output above")
	}
	if err := d.PrepareCertificates(); err != nil {
		return fmt.Errorf("certificate preparation failed: %s", err)
	}

	pending, err := d.pendingUnits()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Info("All deployment units are already completed, nothing to do")
		d.printReport()
		return nil
	}

	if err := d.ExecuteDeployment(pending); err != nil {
		return err
	}
	d.printReport()
	return nil
}

// ValidateEnvironment checks the runtime environment ahead of execution:
// artifact directories present and every worker reachable over SSH. It
// reports problems through the log and returns false rather than erroring
// so the operator sees everything wrong at once.
func (d *Deployer) ValidateEnvironment() bool {
	ok := true
	for _, unit := range d.Plan {
		if unit.Source == "" {
			continue
		}
		if _, err := os.Stat(unit.Source); err != nil {
			log.Errorf("Missing artifact directory for unit %s: %s\n", unit.Name, unit.Source)
			ok = false
		}
	}

	if util.ProcessRunning("kubelet") {
		log.Warning("A kubelet process is already running on this machine, an existing cluster may be redeployed")
	}

	if len(d.cfg.Workers) > 0 {
		opts := &types.NodeConnectOptions{
			SSHUser:        d.cfg.SSHUser,
			SSHPort:        d.cfg.SSHPort,
			SSHKeyFile:     d.cfg.SSHKeyFile,
			SSHPassword:    d.cfg.SSHPassword,
			ConnectTimeout: d.execConfig.ConnectTimeout,
		}
		dialer := cluster.Dial
		cluster.Dial = d.Dial
		reachable, unreachable := cluster.IsReachable(d.cfg.Workers, opts, d.execConfig.Parallel)
		cluster.Dial = dialer
		log.Infof("%d of %d workers reachable\n", len(reachable), len(d.cfg.Workers))
		if len(unreachable) > 0 {
			log.Errorf("Unreachable workers: %s\n", strings.Join(unreachable, ", "))
			ok = false
		}
	}
	return ok
}

// PrepareCertificates generates the cluster CA and wildcard certificate
// once, guarded by the generation sentinel.
func (d *Deployer) PrepareCertificates() error {
	return ca.EnsureCertificates(d.CertsDir, d.cfg.Domain)
}

// pendingUnits filters the plan against the state ledger. A change to
// either the configuration or the deployment artifacts discards all
// recorded progress first.
func (d *Deployer) pendingUnits() ([]*types.InfraUnit, error) {
	cfgHash, err := d.cfg.Hash()
	if err != nil {
		return nil, err
	}
	depHash, err := d.deploymentHash()
	if err != nil {
		return nil, err
	}

	if d.state.ShouldForceRedeploy(cfgHash, depHash) {
		log.Info("Configuration or deployment artifacts changed, discarding recorded progress")
		if err := d.state.Reset(); err != nil {
			return nil, err
		}
	}
	if err := d.state.SetHashes(cfgHash, depHash); err != nil {
		return nil, err
	}

	pending := make([]*types.InfraUnit, 0, len(d.Plan))
	for _, unit := range d.Plan {
		if d.state.IsUnitCompleted(unit.Name) {
			log.Infof("Skipping completed unit %s\n", unit.Name)
			continue
		}
		pending = append(pending, unit)
	}
	return pending, nil
}

// deploymentHash fingerprints the deployment artifacts: the md5 digest
// over every unit's source path and modification time, in plan order.
func (d *Deployer) deploymentHash() (string, error) {
	var sb strings.Builder
	for _, unit := range d.Plan {
		if unit.Source == "" {
			continue
		}
		info, err := os.Stat(unit.Source)
		if err != nil {
			return "", fmt.Errorf("unit source not found: %s", unit.Source)
		}
		fmt.Fprintf(&sb, "%s:%d;", unit.Source, info.ModTime().Unix())
	}
	return util.MD5HexString(sb.String()), nil
}

// ExecuteDeployment runs the pending units strictly in order, stopping at
// the first failure. Every unit's outcome is recorded in the ledger
// before the next one starts, a crash can cost at most the unit in
// flight.
func (d *Deployer) ExecuteDeployment(pending []*types.InfraUnit) error {
	hosts := d.cfg.AllHosts()
	groups := d.cfg.HostGroups()
	data := d.cfg.DeployData()
	start := time.Now()

	for i, unit := range pending {
		log.Infof("[%d/%d] %s: %s\n", i+1, len(pending), unit.Name, unit.Description)

		executor := infra.NewExecutor(d.execConfig)
		executor.Dial = d.Dial
		result := executor.ExecuteUnit(unit, hosts, data, groups)

		if !result.Succeeded {
			if err := d.state.MarkUnitFailed(unit.Name); err != nil {
				log.Warningf("Failed to record unit failure: %s\n", err)
			}
			d.printFailure(unit, result)
			return fmt.Errorf("deployment stopped at unit %s", unit.Name)
		}
		if err := d.state.MarkUnitCompleted(unit.Name); err != nil {
			return fmt.Errorf("failed to record completion of unit %s: %s", unit.Name, err)
		}
		log.Infof("Unit %s completed on %d hosts\n", unit.Name, result.SuccessfulHosts)
	}

	log.Infof("Deployment finished in %s\n", time.Since(start).Round(time.Second))
	return nil
}

// printFailure walks the failed result and logs enough detail to act on:
// which hosts failed, which operations, and their errors.
func (d *Deployer) printFailure(unit *types.InfraUnit, result *types.InfraExecutionResult) {
	log.Errorf("Unit %s failed\n", unit.Name)
	if result.GlobalError != "" {
		log.Errorf("  %s\n", result.GlobalError)
	}
	for _, host := range result.GetFailedHosts() {
		hostResult := result.HostResults[host]
		if !hostResult.Connected {
			log.Errorf("  host %s: %s\n", host, hostResult.Error)
			continue
		}
		if hostResult.Error != "" {
			log.Errorf("  host %s: %s\n", host, hostResult.Error)
		}
		for _, opName := range hostResult.FailedOperationNames() {
			opResult := hostResult.Operations[opName]
			log.Errorf("  host %s, operation %s: %s\n", host, opName, opResult.Error)
			for _, line := range opResult.Output {
				log.Errorf("    %s\n", line)
			}
		}
	}
	log.Info("Fix the reported problems and re-run the deployment, completed units will be skipped")
}
