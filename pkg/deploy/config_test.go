package deploy

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

func TestDeploy(t *testing.T) {
	log.LogWriter = GinkgoWriter
	RegisterFailHandler(Fail)
	RunSpecs(t, "Deploy Suite")
}

func validConfig(deploySrc string) *Config {
	return &Config{
		MasterIP:          "10.0.0.1",
		Workers:           []string{"10.0.0.2"},
		Domain:            "kubengine.local",
		LoadBalancerPools: []string{"10.0.1.1-10.0.1.10"},
		PodCIDR:           "172.16.0.0/16",
		ServiceCIDR:       "10.96.0.0/12",
		Nameservers:       []string{"8.8.8.8"},
		DeploySource:      deploySrc,
		SSHUser:           "root",
		SSHPort:           22,
	}
}

func testValidator() *Validator {
	return &Validator{
		LocalIPs: func() ([]string, error) { return []string{"10.0.0.1"}, nil },
		Stat:     os.Stat,
	}
}

var _ = Describe("Config", func() {
	var (
		deploySrc string
		cfg       *Config
	)

	BeforeEach(func() {
		var err error
		deploySrc, err = os.MkdirTemp("", "")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, deploySrc)
		cfg = validConfig(deploySrc)
	})

	Describe("Loading from a file", func() {
		It("Should apply defaults and file values", func() {
			path := filepath.Join(deploySrc, "kubengine.yaml")
			Expect(os.WriteFile(path, []byte(
				"master_ip: 10.0.0.1\nworkers:\n  - 10.0.0.2\nlb_pools:\n  - 10.0.1.0/24\n  - 10.0.2.1-10.0.2.20\n",
			), 0644)).To(Succeed())

			loaded, err := LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.MasterIP).To(Equal("10.0.0.1"))
			Expect(loaded.Workers).To(Equal([]string{"10.0.0.2"}))
			Expect(loaded.LoadBalancerPools).To(Equal([]string{"10.0.1.0/24", "10.0.2.1-10.0.2.20"}))
			Expect(loaded.Domain).To(Equal(types.DefaultDomain))
			Expect(loaded.PodCIDR).To(Equal("172.16.0.0/16"))
			Expect(loaded.SSHUser).To(Equal("root"))
			Expect(loaded.SSHPort).To(Equal(22))
		})

		It("Should fail on a missing file", func() {
			_, err := LoadConfig(filepath.Join(deploySrc, "nope.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Inventory derivation", func() {
		It("Should address the master as the local machine", func() {
			Expect(cfg.AllHosts()).To(Equal([]string{types.LocalHostAlias, "10.0.0.2"}))
		})

		It("Should split hosts into role groups", func() {
			groups := cfg.HostGroups()
			Expect(groups["master"].Hosts).To(Equal([]string{types.LocalHostAlias}))
			Expect(groups["worker"].Hosts).To(Equal([]string{"10.0.0.2"}))
		})
	})

	Describe("Load balancer address derivation", func() {
		It("Should map a single address to itself", func() {
			cfg.LoadBalancerPools = []string{"10.0.1.5"}
			Expect(cfg.LoadBalancerIP()).To(Equal("10.0.1.5"))
		})
		It("Should map a range to its first address", func() {
			cfg.LoadBalancerPools = []string{"10.0.1.1-10.0.1.10"}
			Expect(cfg.LoadBalancerIP()).To(Equal("10.0.1.1"))
		})
		It("Should map a CIDR to its first usable address", func() {
			cfg.LoadBalancerPools = []string{"10.0.1.0/24"}
			Expect(cfg.LoadBalancerIP()).To(Equal("10.0.1.1"))
		})
		It("Should derive from the first pool when several are configured", func() {
			cfg.LoadBalancerPools = []string{"10.0.1.1-10.0.1.10", "10.0.2.0/24"}
			Expect(cfg.LoadBalancerIP()).To(Equal("10.0.1.1"))
		})
		It("Should return nothing when no pools are configured", func() {
			cfg.LoadBalancerPools = nil
			Expect(cfg.LoadBalancerIP()).To(BeEmpty())
		})
	})

	Describe("Configuration hashing", func() {
		It("Should be stable for equal configurations", func() {
			h1, err := cfg.Hash()
			Expect(err).ToNot(HaveOccurred())
			h2, err := validConfig(deploySrc).Hash()
			Expect(err).ToNot(HaveOccurred())
			Expect(h1).To(Equal(h2))
		})
		It("Should change when any field changes", func() {
			h1, err := cfg.Hash()
			Expect(err).ToNot(HaveOccurred())
			cfg.Workers = append(cfg.Workers, "10.0.0.3")
			h2, err := cfg.Hash()
			Expect(err).ToNot(HaveOccurred())
			Expect(h2).ToNot(Equal(h1))
		})
	})

	Describe("Deploy data", func() {
		It("Should carry the connection and cluster parameters", func() {
			data := cfg.DeployData()
			Expect(data.String("master_ip")).To(Equal("10.0.0.1"))
			Expect(data.String("lb_ip")).To(Equal("10.0.1.1"))
			Expect(data.StringSlice("lb_pools")).To(Equal([]string{"10.0.1.1-10.0.1.10"}))
			Expect(data.String("ssh_user")).To(Equal("root"))
		})
		It("Should carry the master schedulability flag", func() {
			Expect(cfg.DeployData().Bool("master_schedulable")).To(BeFalse())
			cfg.MasterSchedulable = true
			Expect(cfg.DeployData().Bool("master_schedulable")).To(BeTrue())
		})
		It("Should generate a harbor password when none is configured", func() {
			data := cfg.DeployData()
			Expect(data.String("harbor_admin_password")).To(HaveLen(16))
		})
		It("Should keep a configured harbor password", func() {
			cfg.HarborAdminPassword = "hunter2"
			Expect(cfg.DeployData().String("harbor_admin_password")).To(Equal("hunter2"))
		})
	})
})

var _ = Describe("Validator", func() {
	var (
		deploySrc string
		cfg       *Config
		validator *Validator
		err       error
	)

	BeforeEach(func() {
		deploySrc, err = os.MkdirTemp("", "")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, deploySrc)
		cfg = validConfig(deploySrc)
		validator = testValidator()
	})

	JustBeforeEach(func() {
		err = validator.Validate(cfg)
	})

	Context("With a valid configuration", func() {
		It("Should pass", func() {
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Context("With a master address not on this machine", func() {
		BeforeEach(func() { cfg.MasterIP = "10.9.9.9" })
		It("Should report the master check", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not an address of this machine"))
		})
	})

	Context("With a malformed master address", func() {
		BeforeEach(func() { cfg.MasterIP = "not-an-ip" })
		It("Should report the address", func() {
			Expect(err).To(MatchError(ContainSubstring("not a valid IPv4 address")))
		})
	})

	Context("With duplicate and malformed workers", func() {
		BeforeEach(func() { cfg.Workers = []string{"10.0.0.2", "10.0.0.2", "bogus", "10.0.0.1"} })
		It("Should report every issue at once", func() {
			Expect(err).To(HaveOccurred())
			verr, ok := err.(*ValidationError)
			Expect(ok).To(BeTrue())
			Expect(verr.Issues).To(ContainElements(
				ContainSubstring("listed more than once"),
				ContainSubstring(`"bogus"`),
				ContainSubstring("duplicates the master"),
			))
		})
	})

	Context("With invalid network ranges", func() {
		BeforeEach(func() {
			cfg.PodCIDR = "172.16.0.0"
			cfg.ServiceCIDR = "banana"
		})
		It("Should report both CIDRs", func() {
			verr := err.(*ValidationError)
			Expect(verr.Issues).To(HaveLen(2))
		})
	})

	Context("With no load balancer pools", func() {
		BeforeEach(func() { cfg.LoadBalancerPools = nil })
		It("Should report the empty list", func() {
			Expect(err).To(MatchError(ContainSubstring("lb_pools must not be empty")))
		})
	})

	Context("With a backwards load balancer range", func() {
		BeforeEach(func() { cfg.LoadBalancerPools = []string{"10.0.1.10-10.0.1.1"} })
		It("Should report the range", func() {
			Expect(err).To(MatchError(ContainSubstring("ends before it starts")))
		})
	})

	Context("With one bad pool among several", func() {
		BeforeEach(func() {
			cfg.LoadBalancerPools = []string{"10.0.1.1-10.0.1.10", "10.0.2.999"}
		})
		It("Should name the offending pool", func() {
			Expect(err).To(MatchError(ContainSubstring("10.0.2.999")))
		})
	})

	Context("With an invalid nameserver", func() {
		BeforeEach(func() { cfg.Nameservers = []string{"8.8.8.8", "dns.example"} })
		It("Should report the nameserver", func() {
			Expect(err).To(MatchError(ContainSubstring(`nameserver "dns.example"`)))
		})
	})

	Context("With a missing deploy source", func() {
		BeforeEach(func() { cfg.DeploySource = filepath.Join(deploySrc, "missing") })
		It("Should report the path", func() {
			Expect(err).To(MatchError(ContainSubstring("does not exist")))
		})
	})
})
