package infra

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// ExecuteUnits runs an ordered list of units against the same host set.
// In sequential mode the configured failure policy decides whether a
// failing unit stops the run or only gets reported. In parallel mode all
// units are committed up front, so there is no short-circuit. Every unit
// runs on a fresh executor instance so no execution state leaks between
// units, which is what makes the parallel mode safe.
func (e *Executor) ExecuteUnits(units []*types.InfraUnit, hostIPs []string, data types.SharedData, groups types.HostGroups, mode types.ExecutionMode) *types.InfraExecutionResult {
	result := types.NewInfraExecutionResult(hostIPs)
	result.FailTolerance = e.config.FailPercent
	defer func() {
		result.ExecutionEnd = time.Now()
		result.Summarize()
	}()

	for _, unit := range units {
		if err := e.validateUnit(unit); err != nil {
			result.GlobalError = err.Error()
			return result
		}
	}

	switch mode {
	case types.ExecutionParallel:
		e.executeUnitsParallel(units, hostIPs, data, groups, result)
	default:
		if e.config.FailurePolicy == types.ContinueAndReport {
			e.executeUnitsContinue(units, hostIPs, data, groups, result)
		} else {
			e.executeUnitsFailFast(units, hostIPs, data, groups, result)
		}
	}
	return result
}

// subExecutor returns a fresh executor sharing this executor's
// configuration and dialer.
func (e *Executor) subExecutor() *Executor {
	sub := NewExecutor(e.config)
	sub.Dial = e.Dial
	return sub
}

func (e *Executor) executeUnitsFailFast(units []*types.InfraUnit, hostIPs []string, data types.SharedData, groups types.HostGroups, result *types.InfraExecutionResult) {
	for _, unit := range units {
		log.Infof("Executing infrastructure unit: %s\n", unit.Name)
		unitResult := e.subExecutor().ExecuteUnit(unit, hostIPs, data, groups)
		result.Merge(unitResult, unit.Name)

		if !unitResult.Succeeded {
			reason := unitResult.GlobalError
			if reason == "" {
				reason = fmt.Sprintf("failed hosts: %s", strings.Join(unitResult.GetFailedHosts(), ", "))
			}
			result.GlobalError = fmt.Sprintf("unit %s execution failed: %s", unit.Name, reason)
			stampStoppedOperation(result, unit.Name)
			log.Errorf("Stopping further unit execution due to failure in %s\n", unit.Name)
			return
		}
		log.Infof("Unit %s completed successfully\n", unit.Name)
	}
}

func (e *Executor) executeUnitsContinue(units []*types.InfraUnit, hostIPs []string, data types.SharedData, groups types.HostGroups, result *types.InfraExecutionResult) {
	failed := make([]string, 0)
	for _, unit := range units {
		log.Infof("Executing infrastructure unit: %s\n", unit.Name)
		unitResult := e.subExecutor().ExecuteUnit(unit, hostIPs, data, groups)
		result.Merge(unitResult, unit.Name)

		if !unitResult.Succeeded {
			failed = append(failed, unit.Name)
			stampFailedOperation(result, unit.Name, unitResult.GlobalError)
			log.Warningf("Unit %s failed, continuing with remaining units\n", unit.Name)
		}
	}
	if len(failed) > 0 {
		result.GlobalError = fmt.Sprintf("failed units: %s", strings.Join(failed, ", "))
	}
}

func (e *Executor) executeUnitsParallel(units []*types.InfraUnit, hostIPs []string, data types.SharedData, groups types.HostGroups, result *types.InfraExecutionResult) {
	log.Infof("Executing %d units in parallel\n", len(units))
	var mu sync.Mutex
	var wg sync.WaitGroup
	failed := make([]string, 0)

	pool, err := ants.NewPoolWithFunc(e.config.Parallel, func(arg interface{}) {
		defer wg.Done()
		unit := arg.(*types.InfraUnit)
		unitResult := e.subExecutor().ExecuteUnit(unit, hostIPs, data, groups)
		mu.Lock()
		defer mu.Unlock()
		result.Merge(unitResult, unit.Name)
		if !unitResult.Succeeded {
			failed = append(failed, unit.Name)
		}
		log.Infof("Parallel unit %s completed\n", unit.Name)
	})
	if err != nil {
		result.GlobalError = fmt.Sprintf("failed to start unit pool: %s", err)
		return
	}
	defer pool.Release()

	for _, unit := range units {
		wg.Add(1)
		if invokeErr := pool.Invoke(unit); invokeErr != nil {
			wg.Done()
			mu.Lock()
			failed = append(failed, unit.Name)
			mu.Unlock()
		}
	}
	wg.Wait()

	if len(failed) > 0 {
		result.GlobalError = fmt.Sprintf("failed units: %s", strings.Join(failed, ", "))
	}
}

// stampStoppedOperation marks every still-connected host with a synthetic
// failed operation recording where a fail-fast run stopped.
func stampStoppedOperation(result *types.InfraExecutionResult, unitName string) {
	name := fmt.Sprintf("execution_stopped_at_%s", unitName)
	for _, hostResult := range result.HostResults {
		if !hostResult.Connected {
			continue
		}
		hostResult.AddOperation(&types.HostOperationResult{
			OperationName: name,
			Output:        []string{},
			Error:         fmt.Sprintf("execution stopped due to failure in unit: %s", unitName),
		})
	}
}

// stampFailedOperation records a failing unit on every connected host in
// continue-and-report mode.
func stampFailedOperation(result *types.InfraExecutionResult, unitName, reason string) {
	name := fmt.Sprintf("execution_failed_at_%s", unitName)
	if reason == "" {
		reason = fmt.Sprintf("unit %s failed", unitName)
	}
	for _, hostResult := range result.HostResults {
		if !hostResult.Connected {
			continue
		}
		hostResult.AddOperation(&types.HostOperationResult{
			OperationName: name,
			Output:        []string{},
			Error:         reason,
		})
	}
}
