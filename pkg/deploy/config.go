// Package deploy drives a full cluster deployment: configuration,
// validation, planning, state tracking and execution.
package deploy

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/kubengine/kubengine/pkg/types"
	"github.com/kubengine/kubengine/pkg/util"
)

// Config is the logical cluster definition supplied by the operator. The
// machine running the deployment is always the master, workers are
// reached over SSH.
type Config struct {
	// MasterIP is the advertise address of the master, it must be an
	// address of the local machine
	MasterIP string `mapstructure:"master_ip" yaml:"master_ip" json:"master_ip"`
	// Workers are the addresses of the worker nodes
	Workers []string `mapstructure:"workers" yaml:"workers" json:"workers"`
	// Domain is the cluster ingress domain
	Domain string `mapstructure:"domain" yaml:"domain" json:"domain"`
	// LoadBalancerPools are the MetalLB address pools, each a single IP,
	// a "start-end" range, or a CIDR
	LoadBalancerPools []string `mapstructure:"lb_pools" yaml:"lb_pools" json:"lb_pools"`
	// PodCIDR is the pod network range
	PodCIDR string `mapstructure:"pod_cidr" yaml:"pod_cidr" json:"pod_cidr"`
	// ServiceCIDR is the service network range
	ServiceCIDR string `mapstructure:"service_cidr" yaml:"service_cidr" json:"service_cidr"`
	// Nameservers are the upstream DNS servers for cluster DNS
	Nameservers []string `mapstructure:"nameservers" yaml:"nameservers" json:"nameservers"`
	// DeploySource is the root of the offline artifact bundle
	DeploySource string `mapstructure:"deploy_src" yaml:"deploy_src" json:"deploy_src"`
	// MasterSchedulable allows regular workloads on the control plane node
	MasterSchedulable bool `mapstructure:"master_schedulable" yaml:"master_schedulable" json:"master_schedulable"`

	// SSHUser is the user for worker connections
	SSHUser string `mapstructure:"ssh_user" yaml:"ssh_user" json:"ssh_user"`
	// SSHPort is the port for worker connections
	SSHPort int `mapstructure:"ssh_port" yaml:"ssh_port" json:"ssh_port"`
	// SSHKeyFile is the private key for worker connections
	SSHKeyFile string `mapstructure:"ssh_key" yaml:"ssh_key,omitempty" json:"ssh_key,omitempty"`
	// SSHPassword is the password for worker connections, used when no
	// key is configured
	SSHPassword string `mapstructure:"ssh_password" yaml:"ssh_password,omitempty" json:"ssh_password,omitempty"`

	// HarborAdminPassword seeds the registry admin account, generated
	// when left empty
	HarborAdminPassword string `mapstructure:"harbor_admin_password" yaml:"harbor_admin_password,omitempty" json:"harbor_admin_password,omitempty"`
}

// LoadConfig reads the cluster configuration from the given file,
// applying defaults and KUBENGINE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("domain", types.DefaultDomain)
	v.SetDefault("pod_cidr", "172.16.0.0/16")
	v.SetDefault("service_cidr", "10.96.0.0/12")
	v.SetDefault("deploy_src", types.DefaultDeploySource)
	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_port", 22)
	v.SetEnvPrefix("KUBENGINE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %s", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %s", err)
	}
	return cfg, nil
}

// AllHosts returns the execution inventory: the master is addressed as
// the local machine, workers by their configured addresses.
func (c *Config) AllHosts() []string {
	hosts := []string{types.LocalHostAlias}
	hosts = append(hosts, c.Workers...)
	return hosts
}

// HostGroups returns the role groups for the execution.
func (c *Config) HostGroups() types.HostGroups {
	return types.HostGroups{
		"master": {Hosts: []string{types.LocalHostAlias}},
		"worker": {Hosts: append([]string{}, c.Workers...)},
	}
}

// LoadBalancerIP derives the primary ingress address from the first
// configured pool: a single IP maps to itself, a range to its first
// address, a CIDR to the first usable address of the network.
func (c *Config) LoadBalancerIP() string {
	if len(c.LoadBalancerPools) == 0 {
		return ""
	}
	pool := strings.TrimSpace(c.LoadBalancerPools[0])
	if strings.Contains(pool, "-") {
		return strings.TrimSpace(strings.SplitN(pool, "-", 2)[0])
	}
	if strings.Contains(pool, "/") {
		_, network, err := net.ParseCIDR(pool)
		if err != nil {
			return ""
		}
		ip := network.IP.To4()
		if ip == nil {
			return ""
		}
		first := make(net.IP, len(ip))
		copy(first, ip)
		first[3]++
		return first.String()
	}
	return pool
}

// DeployData builds the shared data map passed to every unit execution.
// A missing harbor password is generated here so the whole run sees one
// value.
func (c *Config) DeployData() types.SharedData {
	harborPassword := c.HarborAdminPassword
	if harborPassword == "" {
		harborPassword = util.GenerateToken(16)
	}
	data := types.SharedData{
		"deploy_src":            c.DeploySource,
		"master_ip":             c.MasterIP,
		"domain":                c.Domain,
		"lb_ip":                 c.LoadBalancerIP(),
		"lb_pools":              c.LoadBalancerPools,
		"pod_cidr":              c.PodCIDR,
		"service_cidr":          c.ServiceCIDR,
		"nameservers":           c.Nameservers,
		"master_schedulable":    c.MasterSchedulable,
		"harbor_admin_password": harborPassword,
		"ssh_user":              c.SSHUser,
		"ssh_port":              c.SSHPort,
	}
	if c.SSHKeyFile != "" {
		data["ssh_key"] = c.SSHKeyFile
	}
	if c.SSHPassword != "" {
		data["ssh_password"] = c.SSHPassword
	}
	return data
}

// Hash returns the md5 fingerprint of the canonical JSON encoding of the
// configuration. Any logical change to the cluster definition changes
// the hash.
func (c *Config) Hash() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return util.MD5HexString(string(raw)), nil
}

// ValidationError aggregates every problem found in a configuration so
// the operator can fix them in one pass.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(e.Issues, "\n  - "))
}

// Validator checks a Config against the running environment. LocalIPs is
// injectable so environment-dependent checks stay testable.
type Validator struct {
	// LocalIPs returns the IPv4 addresses of the local machine
	LocalIPs func() ([]string, error)
	// Stat probes the filesystem for the deploy source check
	Stat func(string) (os.FileInfo, error)
}

// NewValidator returns a Validator bound to the real environment.
func NewValidator() *Validator {
	return &Validator{
		LocalIPs: util.LocalIPv4Strings,
		Stat:     os.Stat,
	}
}

// Validate returns nil for a deployable configuration, or a
// *ValidationError listing every issue found.
func (v *Validator) Validate(cfg *Config) error {
	issues := make([]string, 0)
	addIssue := func(format string, args ...interface{}) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if !isIPv4(cfg.MasterIP) {
		addIssue("master_ip %q is not a valid IPv4 address", cfg.MasterIP)
	} else if locals, err := v.LocalIPs(); err != nil {
		addIssue("could not determine local addresses: %s", err)
	} else if !containsString(locals, cfg.MasterIP) {
		addIssue("master_ip %q is not an address of this machine, the deployment must run on the master", cfg.MasterIP)
	}

	seen := map[string]bool{}
	for _, w := range cfg.Workers {
		if !isIPv4(w) {
			addIssue("worker address %q is not a valid IPv4 address", w)
			continue
		}
		if w == cfg.MasterIP {
			addIssue("worker address %q duplicates the master", w)
		}
		if seen[w] {
			addIssue("worker address %q is listed more than once", w)
		}
		seen[w] = true
	}

	for _, cidr := range []struct{ name, value string }{
		{"pod_cidr", cfg.PodCIDR},
		{"service_cidr", cfg.ServiceCIDR},
	} {
		if _, _, err := net.ParseCIDR(cidr.value); err != nil {
			addIssue("%s %q is not a valid CIDR", cidr.name, cidr.value)
		}
	}

	if len(cfg.LoadBalancerPools) == 0 {
		addIssue("lb_pools must not be empty")
	}
	for _, pool := range cfg.LoadBalancerPools {
		if err := validatePool(pool); err != nil {
			addIssue("lb_pools: %s", err)
		}
	}

	for _, ns := range cfg.Nameservers {
		if net.ParseIP(ns) == nil {
			addIssue("nameserver %q is not a valid IP address", ns)
		}
	}

	if cfg.Domain == "" {
		addIssue("domain must not be empty")
	}

	if info, err := v.Stat(cfg.DeploySource); err != nil {
		addIssue("deploy_src %q does not exist", cfg.DeploySource)
	} else if !info.IsDir() {
		addIssue("deploy_src %q is not a directory", cfg.DeploySource)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validatePool(pool string) error {
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return fmt.Errorf("must not be empty")
	}
	switch {
	case strings.Contains(pool, "-"):
		parts := strings.SplitN(pool, "-", 2)
		start := net.ParseIP(strings.TrimSpace(parts[0]))
		end := net.ParseIP(strings.TrimSpace(parts[1]))
		if start == nil || end == nil || start.To4() == nil || end.To4() == nil {
			return fmt.Errorf("%q is not a valid address range", pool)
		}
		if ipv4ToUint(start) > ipv4ToUint(end) {
			return fmt.Errorf("range %q ends before it starts", pool)
		}
	case strings.Contains(pool, "/"):
		if _, _, err := net.ParseCIDR(pool); err != nil {
			return fmt.Errorf("%q is not a valid CIDR", pool)
		}
	default:
		if !isIPv4(pool) {
			return fmt.Errorf("%q is not a valid IPv4 address", pool)
		}
	}
	return nil
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func ipv4ToUint(ip net.IP) uint32 {
	b := ip.To4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func containsString(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
