package deploy

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubengine/kubengine/pkg/cluster/node"
	"github.com/kubengine/kubengine/pkg/infra/ops"
	"github.com/kubengine/kubengine/pkg/types"
)

// mockDialer hands out scriptable mock nodes and remembers every node it
// created so tests can inspect what ran where.
type mockDialer struct {
	mu          sync.Mutex
	failPattern string
	nodes       []*node.MockNode
}

func (m *mockDialer) dial(opts *types.NodeConnectOptions) (types.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := node.Mock(opts.Address)
	if m.failPattern != "" {
		n.FailCommandsContaining(m.failPattern)
	}
	m.nodes = append(m.nodes, n)
	return n, nil
}

func (m *mockDialer) allCommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for _, n := range m.nodes {
		out = append(out, n.ExecutedCommands()...)
	}
	return out
}

func shellUnit(name, command string) *types.InfraUnit {
	return &types.InfraUnit{
		Name:        name,
		Description: name,
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			return []types.Operation{
				&ops.Shell{OpName: "run_" + name, Commands: []string{command}},
			}, nil
		},
	}
}

var _ = Describe("Deployer", func() {
	var (
		deploySrc string
		certsDir  string
		statePath string
		cfg       *Config
		dialer    *mockDialer
		deployer  *Deployer
	)

	newDeployer := func(plan []*types.InfraUnit) *Deployer {
		d := New(cfg, statePath)
		d.Plan = plan
		d.Dial = dialer.dial
		d.Validator = testValidator()
		d.CertsDir = certsDir
		return d
	}

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		deploySrc = filepath.Join(dir, "offline-deploy")
		certsDir = filepath.Join(dir, "certs")
		statePath = filepath.Join(dir, "deployment-state.json")
		cfg = validConfig(deploySrc)
		dialer = &mockDialer{}

		for _, name := range []string{"unit_one", "unit_two", "unit_three"} {
			Expect(os.MkdirAll(filepath.Join(deploySrc, name), 0755)).To(Succeed())
		}
	})

	makePlan := func(secondCommand string) []*types.InfraUnit {
		plan := []*types.InfraUnit{
			shellUnit("unit_one", "echo one"),
			shellUnit("unit_two", secondCommand),
			shellUnit("unit_three", "echo three"),
		}
		for _, u := range plan {
			u.Source = filepath.Join(deploySrc, u.Name)
		}
		return plan
	}

	Context("When every unit succeeds", func() {
		BeforeEach(func() {
			deployer = newDeployer(makePlan("echo two"))
		})

		It("Should run the whole plan in order and record completion", func() {
			Expect(deployer.Deploy()).To(Succeed())
			for _, name := range []string{"unit_one", "unit_two", "unit_three"} {
				Expect(deployer.State().IsUnitCompleted(name)).To(BeTrue(), name)
			}
		})

		It("Should generate certificates once", func() {
			Expect(deployer.Deploy()).To(Succeed())
			_, err := os.Stat(filepath.Join(certsDir, "server.crt"))
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Context("When a middle unit fails", func() {
		BeforeEach(func() {
			dialer.failPattern = "boom"
			deployer = newDeployer(makePlan("boom"))
		})

		It("Should stop at the failing unit and never touch the rest", func() {
			err := deployer.Deploy()
			Expect(err).To(MatchError(ContainSubstring("stopped at unit unit_two")))

			Expect(deployer.State().IsUnitCompleted("unit_one")).To(BeTrue())
			Expect(deployer.State().IsUnitFailed("unit_two")).To(BeTrue())
			Expect(deployer.State().IsUnitCompleted("unit_three")).To(BeFalse())
			Expect(deployer.State().IsUnitFailed("unit_three")).To(BeFalse())
			Expect(dialer.allCommands()).ToNot(ContainElement("echo three"))
		})

		It("Should resume past completed units once the failure is fixed", func() {
			Expect(deployer.Deploy()).ToNot(Succeed())

			fixed := &mockDialer{}
			dialer = fixed
			deployer = newDeployer(makePlan("echo two"))
			Expect(deployer.Deploy()).To(Succeed())

			Expect(fixed.allCommands()).ToNot(ContainElement("echo one"))
			Expect(fixed.allCommands()).To(ContainElements("echo two", "echo three"))
			Expect(deployer.State().IsUnitFailed("unit_two")).To(BeFalse())
			Expect(deployer.State().IsUnitCompleted("unit_two")).To(BeTrue())
		})
	})

	Context("When the deployment artifacts change between runs", func() {
		BeforeEach(func() {
			deployer = newDeployer(makePlan("echo two"))
			Expect(deployer.Deploy()).To(Succeed())
		})

		It("Should discard recorded progress and rerun everything", func() {
			changed := time.Now().Add(time.Hour)
			Expect(os.Chtimes(filepath.Join(deploySrc, "unit_one"), changed, changed)).To(Succeed())

			rerun := &mockDialer{}
			dialer = rerun
			deployer = newDeployer(makePlan("echo two"))
			Expect(deployer.Deploy()).To(Succeed())
			Expect(rerun.allCommands()).To(ContainElements("echo one", "echo two", "echo three"))
		})

		It("Should skip everything when nothing changed", func() {
			rerun := &mockDialer{}
			dialer = rerun
			deployer = newDeployer(makePlan("echo two"))
			Expect(deployer.Deploy()).To(Succeed())
			Expect(rerun.allCommands()).ToNot(ContainElement("echo one"))
		})
	})

	Context("When an artifact directory is missing", func() {
		BeforeEach(func() {
			Expect(os.RemoveAll(filepath.Join(deploySrc, "unit_two"))).To(Succeed())
			deployer = newDeployer(makePlan("echo two"))
		})

		It("Should fail environment validation before executing anything", func() {
			Expect(deployer.Deploy()).To(MatchError(ContainSubstring("environment validation failed")))
			Expect(dialer.allCommands()).To(BeEmpty())
		})
	})
})
