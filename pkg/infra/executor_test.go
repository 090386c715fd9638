package infra

import (
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubengine/kubengine/pkg/cluster/node"
	"github.com/kubengine/kubengine/pkg/infra/ops"
	"github.com/kubengine/kubengine/pkg/types"
)

// testDialer scripts connection failures per host and keeps every mock it
// handed out.
type testDialer struct {
	mu          sync.Mutex
	refuse      map[string]bool
	failPattern string
	responses   map[string]string
	nodes       map[string][]*node.MockNode
}

func newTestDialer() *testDialer {
	return &testDialer{
		refuse:    make(map[string]bool),
		responses: make(map[string]string),
		nodes:     make(map[string][]*node.MockNode),
	}
}

func (d *testDialer) dial(opts *types.NodeConnectOptions) (types.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse[opts.Address] {
		return nil, errors.New("connection refused")
	}
	n := node.Mock(opts.Address)
	if d.failPattern != "" {
		n.FailCommandsContaining(d.failPattern)
	}
	for pattern, stdout := range d.responses {
		n.RespondTo(pattern, stdout)
	}
	d.nodes[opts.Address] = append(d.nodes[opts.Address], n)
	return n, nil
}

func (d *testDialer) commandsOn(host string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0)
	for _, n := range d.nodes[host] {
		out = append(out, n.ExecutedCommands()...)
	}
	return out
}

func planOf(operations ...types.Operation) func(*types.ExecutionContext) ([]types.Operation, error) {
	return func(ctx *types.ExecutionContext) ([]types.Operation, error) {
		return operations, nil
	}
}

var _ = Describe("Executor", func() {
	var (
		dialer   *testDialer
		executor *Executor
		hosts    []string
		groups   types.HostGroups
	)

	BeforeEach(func() {
		dialer = newTestDialer()
		config := types.DefaultExecutionConfig()
		config.ConnectTimeout = time.Second
		executor = NewExecutor(config)
		executor.Dial = dialer.dial
		hosts = []string{"10.0.0.1", "10.0.0.2"}
		groups = types.HostGroups{
			"master": {Hosts: []string{"10.0.0.1"}},
			"worker": {Hosts: []string{"10.0.0.2"}},
		}
	})

	Describe("ExecuteUnit", func() {
		var (
			unit   *types.InfraUnit
			result *types.InfraExecutionResult
		)

		BeforeEach(func() {
			unit = &types.InfraUnit{
				Name: "test_unit",
				Plan: planOf(&ops.Shell{OpName: "say_hello", Commands: []string{"echo hello"}}),
			}
		})

		JustBeforeEach(func() {
			result = executor.ExecuteUnit(unit, hosts, nil, groups)
		})

		Context("With all hosts reachable", func() {
			It("Should succeed and run on every host", func() {
				Expect(result.Succeeded).To(BeTrue())
				Expect(result.SuccessfulHosts).To(Equal(2))
				Expect(dialer.commandsOn("10.0.0.1")).To(ContainElement("echo hello"))
				Expect(dialer.commandsOn("10.0.0.2")).To(ContainElement("echo hello"))
			})

			It("Should record per-operation results on every host", func() {
				for _, host := range hosts {
					hostResult := result.HostResults[host]
					Expect(hostResult.Connected).To(BeTrue())
					Expect(hostResult.Operations).To(HaveKey("say_hello"))
					Expect(hostResult.TotalOperations).To(Equal(1))
					Expect(hostResult.FailedOperations).To(BeZero())
				}
			})

			It("Should close every connection", func() {
				for _, host := range hosts {
					for _, n := range dialer.nodes[host] {
						Expect(n.Closed()).To(BeTrue())
					}
				}
			})
		})

		Context("With one host unreachable", func() {
			BeforeEach(func() {
				dialer.refuse["10.0.0.2"] = true
			})

			It("Should isolate the failure and still run the others", func() {
				Expect(result.Succeeded).To(BeFalse())
				Expect(result.ConnectedHosts).To(Equal(1))
				Expect(result.GetConnectionFailures()).To(Equal([]string{"10.0.0.2"}))
				Expect(dialer.commandsOn("10.0.0.1")).To(ContainElement("echo hello"))
			})

			It("Should record the connection error on the host result", func() {
				Expect(result.HostResults["10.0.0.2"].Error).To(ContainSubstring("failed to connect"))
			})
		})

		Context("With no host reachable", func() {
			BeforeEach(func() {
				dialer.refuse["10.0.0.1"] = true
				dialer.refuse["10.0.0.2"] = true
			})

			It("Should fail globally", func() {
				Expect(result.Succeeded).To(BeFalse())
				Expect(result.GlobalError).To(Equal("no hosts were successfully connected"))
			})
		})

		Context("With duplicate operation names in one plan", func() {
			BeforeEach(func() {
				unit.Plan = planOf(
					&ops.Shell{OpName: "same_name", Commands: []string{"echo a"}},
					&ops.Shell{OpName: "same_name", Commands: []string{"echo b"}},
					&ops.Shell{OpName: "same_name", Commands: []string{"echo c"}},
				)
			})

			It("Should keep every result under a disambiguated key", func() {
				hostResult := result.HostResults["10.0.0.1"]
				Expect(hostResult.Operations).To(HaveLen(3))
				Expect(hostResult.Operations).To(HaveKey("same_name"))
				Expect(hostResult.Operations).To(HaveKey("same_name_1"))
				Expect(hostResult.Operations).To(HaveKey("same_name_2"))
			})
		})

		Context("With a failing operation", func() {
			BeforeEach(func() {
				dialer.failPattern = "boom"
				unit.Plan = planOf(
					&ops.Shell{OpName: "blow_up", Commands: []string{"boom"}},
					&ops.Shell{OpName: "after_the_fact", Commands: []string{"echo next"}},
				)
			})

			It("Should mark the host failed and keep the error", func() {
				Expect(result.Succeeded).To(BeFalse())
				hostResult := result.HostResults["10.0.0.1"]
				Expect(hostResult.FailedOperations).To(Equal(1))
				Expect(hostResult.Operations["blow_up"].Error).To(ContainSubstring("exited 1"))
				Expect(hostResult.FailedOperationNames()).To(Equal([]string{"blow_up"}))
			})

			It("Should still run the remaining operations on the host", func() {
				Expect(dialer.commandsOn("10.0.0.1")).To(ContainElement("echo next"))
			})
		})

		Context("With a plan that errors on one host", func() {
			BeforeEach(func() {
				unit.Plan = func(ctx *types.ExecutionContext) ([]types.Operation, error) {
					if ctx.Host == "10.0.0.2" {
						return nil, errors.New("no role for host")
					}
					return []types.Operation{&ops.Shell{OpName: "run_it", Commands: []string{"echo hello"}}}, nil
				}
			})

			It("Should fail that host and run the rest", func() {
				Expect(result.HostResults["10.0.0.2"].Error).To(ContainSubstring("failed to plan unit"))
				Expect(result.HostResults["10.0.0.1"].Success()).To(BeTrue())
			})
		})

		Context("With a plan that panics", func() {
			BeforeEach(func() {
				unit.Plan = func(ctx *types.ExecutionContext) ([]types.Operation, error) {
					panic("bad template")
				}
			})

			It("Should convert the panic into a host error", func() {
				for _, host := range hosts {
					Expect(result.HostResults[host].Error).To(ContainSubstring("panic during unit plan"))
				}
			})
		})

		Context("With a group fact lookup in the plan", func() {
			BeforeEach(func() {
				factRetryDelay = time.Millisecond
				DeferCleanup(func() { factRetryDelay = 20 * time.Second })
				dialer.responses["token create"] = "kubeadm join 10.0.0.1:6443"
				unit.Plan = func(ctx *types.ExecutionContext) ([]types.Operation, error) {
					if !ctx.Groups.Contains("worker", ctx.Host) {
						return nil, nil
					}
					joinCmd, err := ctx.RunOnGroup("master", "kubeadm token create --print-join-command")
					if err != nil {
						return nil, err
					}
					return []types.Operation{&ops.Shell{OpName: "join", Commands: []string{joinCmd}}}, nil
				}
			})

			It("Should run the fetched fact on the worker", func() {
				Expect(result.Succeeded).To(BeTrue())
				Expect(dialer.commandsOn("10.0.0.2")).To(ContainElement("kubeadm join 10.0.0.1:6443"))
			})
		})

		Context("With a tolerated failure percentage", func() {
			BeforeEach(func() {
				config := executor.Config()
				config.FailPercent = 50
				executor = NewExecutor(config)
				executor.Dial = dialer.dial
				dialer.failPattern = "boom"
				unit.Plan = func(ctx *types.ExecutionContext) ([]types.Operation, error) {
					if ctx.Host == "10.0.0.2" {
						return []types.Operation{&ops.Shell{OpName: "blow_up", Commands: []string{"boom"}}}, nil
					}
					return []types.Operation{&ops.Shell{OpName: "say_hello", Commands: []string{"echo hello"}}}, nil
				}
			})

			It("Should succeed while the failure rate stays within the threshold", func() {
				Expect(result.Succeeded).To(BeTrue())
				Expect(result.FailedHosts).To(Equal(1))
				Expect(result.GlobalError).To(BeEmpty())
			})

			Context("And every host failing", func() {
				BeforeEach(func() {
					unit.Plan = planOf(&ops.Shell{OpName: "blow_up", Commands: []string{"boom"}})
				})

				It("Should fail once the threshold is exceeded", func() {
					Expect(result.Succeeded).To(BeFalse())
					Expect(result.GlobalError).To(ContainSubstring("exceeded the 50% threshold"))
				})
			})
		})
	})

	Describe("ExecuteUnits", func() {
		var (
			result *types.InfraExecutionResult
			mode   types.ExecutionMode
			units  []*types.InfraUnit
		)

		shellUnit := func(name, command string) *types.InfraUnit {
			return &types.InfraUnit{
				Name: name,
				Plan: planOf(&ops.Shell{OpName: "run", Commands: []string{command}}),
			}
		}

		BeforeEach(func() {
			mode = types.ExecutionSequential
			units = []*types.InfraUnit{
				shellUnit("unit_a", "echo a"),
				shellUnit("unit_b", "echo b"),
			}
		})

		JustBeforeEach(func() {
			result = executor.ExecuteUnits(units, hosts, nil, groups, mode)
		})

		Context("With all units succeeding", func() {
			It("Should merge results with per-unit operation provenance", func() {
				Expect(result.Succeeded).To(BeTrue())
				hostResult := result.HostResults["10.0.0.1"]
				Expect(hostResult.Operations).To(HaveKey("unit_a_run"))
				Expect(hostResult.Operations).To(HaveKey("unit_b_run"))
			})
		})

		Context("With a failing unit under the stop-on-first-failure policy", func() {
			BeforeEach(func() {
				dialer.failPattern = "boom"
				units = []*types.InfraUnit{
					shellUnit("unit_a", "echo a"),
					shellUnit("unit_b", "boom"),
					shellUnit("unit_c", "echo c"),
				}
			})

			It("Should stop before the next unit", func() {
				Expect(result.Succeeded).To(BeFalse())
				Expect(result.GlobalError).To(ContainSubstring("unit unit_b execution failed"))
				for _, host := range hosts {
					Expect(dialer.commandsOn(host)).ToNot(ContainElement("echo c"))
				}
			})

			It("Should stamp the stop point on every connected host", func() {
				for _, host := range hosts {
					Expect(result.HostResults[host].Operations).To(HaveKey("execution_stopped_at_unit_b"))
				}
			})
		})

		Context("With a failing unit under the continue-and-report policy", func() {
			BeforeEach(func() {
				config := executor.Config()
				config.FailurePolicy = types.ContinueAndReport
				executor = NewExecutor(config)
				executor.Dial = dialer.dial
				dialer.failPattern = "boom"
				units = []*types.InfraUnit{
					shellUnit("unit_a", "echo a"),
					shellUnit("unit_b", "boom"),
					shellUnit("unit_c", "echo c"),
				}
			})

			It("Should run every unit and report the failures at the end", func() {
				Expect(result.Succeeded).To(BeFalse())
				Expect(result.GlobalError).To(Equal("failed units: unit_b"))
				for _, host := range hosts {
					Expect(dialer.commandsOn(host)).To(ContainElement("echo c"))
					Expect(result.HostResults[host].Operations).To(HaveKey("execution_failed_at_unit_b"))
				}
			})
		})

		Context("In parallel mode", func() {
			BeforeEach(func() {
				mode = types.ExecutionParallel
			})

			It("Should run every unit and merge all results", func() {
				Expect(result.Succeeded).To(BeTrue())
				hostResult := result.HostResults["10.0.0.2"]
				Expect(hostResult.Operations).To(HaveKey("unit_a_run"))
				Expect(hostResult.Operations).To(HaveKey("unit_b_run"))
			})
		})
	})

	Describe("Per-host connection overrides", func() {
		It("Should prefer the override map nested under the host address", func() {
			data := types.SharedData{
				"ssh_user": "root",
				"10.0.0.2": map[string]interface{}{"ssh_user": "admin", "ssh_port": 2222},
			}
			opts := executor.connectOptions("10.0.0.2", data)
			Expect(opts.SSHUser).To(Equal("admin"))
			Expect(opts.SSHPort).To(Equal(2222))
			opts = executor.connectOptions("10.0.0.1", data)
			Expect(opts.SSHUser).To(Equal("root"))
			Expect(opts.SSHPort).To(Equal(22))
		})
	})
})

var _ = Describe("Result invariants", func() {
	It("Should never count a host as both successful and failed", func() {
		result := types.NewInfraExecutionResult([]string{"a", "b", "c"})
		result.HostResults["a"].Connected = true
		result.HostResults["b"].Connected = true
		result.HostResults["b"].AddOperation(&types.HostOperationResult{OperationName: "x", Success: false, Error: "bad"})
		result.Summarize()
		Expect(result.SuccessfulHosts + result.FailedHosts).To(Equal(result.TotalHosts))
		Expect(result.SuccessfulHosts).To(Equal(1))
		Expect(result.FailedHosts).To(Equal(2))
	})

	It("Should require at least one host for global success", func() {
		result := types.NewInfraExecutionResult(nil)
		result.Summarize()
		Expect(result.Succeeded).To(BeFalse())
	})

	It("Should tolerate failed hosts within a configured tolerance", func() {
		result := types.NewInfraExecutionResult([]string{"a", "b"})
		result.FailTolerance = 50
		result.HostResults["a"].Connected = true
		result.HostResults["b"].Connected = true
		result.HostResults["b"].AddOperation(&types.HostOperationResult{OperationName: "x", Success: false, Error: "bad"})
		result.Summarize()
		Expect(result.FailedHosts).To(Equal(1))
		Expect(result.Succeeded).To(BeTrue())
	})

	It("Should report failure as soon as a global error is set", func() {
		result := types.NewInfraExecutionResult([]string{"a"})
		result.HostResults["a"].Connected = true
		result.GlobalError = fmt.Sprintf("unit %s execution failed", "x")
		result.Summarize()
		Expect(result.Succeeded).To(BeFalse())
	})
})
