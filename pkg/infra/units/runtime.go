package units

import (
	"fmt"
	"path/filepath"

	"github.com/kubengine/kubengine/pkg/infra/ops"
	"github.com/kubengine/kubengine/pkg/types"
)

const sysctlConf = `net.bridge.bridge-nf-call-iptables = 1
net.bridge.bridge-nf-call-ip6tables = 1
net.ipv4.ip_forward = 1
`

// InstallCNI prepares every host for container networking: kernel
// modules, sysctls, swap and firewall teardown, and the CNI plugin
// binaries.
func InstallCNI() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_cni",
		Description: "CNI plugins and host networking prerequisites",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			src := sourceOf(ctx, "install_cni")
			return []types.Operation{
				&ops.Directory{OpName: "create_staging_dir", Path: types.StagingDir, CheckFirst: ctx.CheckChanges},
				&ops.Directory{OpName: "create_cni_bin_dir", Path: "/opt/cni/bin", CheckFirst: ctx.CheckChanges},
				&ops.Shell{OpName: "disable_swap", Commands: []string{
					"swapoff -a",
					`sed -ri 's/^([^#].*\sswap\s.*)$/#\1/' /etc/fstab`,
				}},
				&ops.Shell{OpName: "disable_selinux", Commands: []string{
					"setenforce 0 || true",
					`sed -i 's/^SELINUX=enforcing/SELINUX=permissive/' /etc/selinux/config`,
				}},
				&ops.Shell{OpName: "disable_firewalld", Commands: []string{
					"systemctl disable --now firewalld || true",
				}},
				&ops.Shell{OpName: "load_kernel_modules", Commands: []string{
					"modprobe overlay",
					"modprobe br_netfilter",
					`printf 'overlay\nbr_netfilter\n' > /etc/modules-load.d/kubengine.conf`,
				}},
				&ops.Template{
					OpName:  "write_sysctl_conf",
					Content: sysctlConf,
					Dest:    "/etc/sysctl.d/99-kubengine.conf",
				},
				&ops.Shell{OpName: "apply_sysctls", Commands: []string{"sysctl --system"}},
				&ops.Put{
					OpName: "stage_cni_plugins",
					Src:    filepath.Join(src, "cni-plugins.tgz"),
					Dest:   staged("cni-plugins.tgz"),
				},
				&ops.Shell{OpName: "extract_cni_plugins", Commands: []string{
					fmt.Sprintf("tar -C /opt/cni/bin -xzf %s", staged("cni-plugins.tgz")),
				}},
			}, nil
		},
	}
}

const containerdConfig = `version = 2
[plugins."io.containerd.grpc.v1.cri"]
  sandbox_image = "{{ .PauseImage }}"
  [plugins."io.containerd.grpc.v1.cri".containerd.runtimes.runc]
    runtime_type = "io.containerd.runc.v2"
    [plugins."io.containerd.grpc.v1.cri".containerd.runtimes.runc.options]
      SystemdCgroup = true
`

// InstallContainerd installs the container runtime on every host from the
// bundled release tarball and points CRI at the bundled pause image.
func InstallContainerd() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_containerd",
		Description: "containerd runtime",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			src := sourceOf(ctx, "install_containerd")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_containerd",
					Src:    filepath.Join(src, "containerd.tar.gz"),
					Dest:   staged("containerd.tar.gz"),
				},
				&ops.Shell{OpName: "extract_containerd", Commands: []string{
					fmt.Sprintf("tar -C /usr/local -xzf %s", staged("containerd.tar.gz")),
				}},
				&ops.Put{
					OpName: "install_runc",
					Src:    filepath.Join(src, "runc"),
					Dest:   "/usr/local/sbin/runc",
					Mode:   "0755",
				},
				&ops.Directory{OpName: "create_containerd_conf_dir", Path: "/etc/containerd", CheckFirst: ctx.CheckChanges},
				&ops.Template{
					OpName:  "write_containerd_config",
					Content: containerdConfig,
					Dest:    "/etc/containerd/config.toml",
					Data:    map[string]string{"PauseImage": "registry.k8s.io/pause:3.9"},
				},
				&ops.Put{
					OpName: "install_containerd_unit",
					Src:    filepath.Join(src, "containerd.service"),
					Dest:   "/etc/systemd/system/containerd.service",
				},
				&ops.Systemd{
					OpName:       "start_containerd",
					Service:      "containerd",
					Enabled:      true,
					Restarted:    true,
					DaemonReload: true,
				},
			}, nil
		},
	}
}

const kubeadmConfig = `apiVersion: kubeadm.k8s.io/v1beta3
kind: InitConfiguration
localAPIEndpoint:
  advertiseAddress: {{ .MasterIP }}
---
apiVersion: kubeadm.k8s.io/v1beta3
kind: ClusterConfiguration
networking:
  podSubnet: {{ .PodCIDR }}
  serviceSubnet: {{ .ServiceCIDR }}
---
apiVersion: kubelet.config.k8s.io/v1beta1
kind: KubeletConfiguration
cgroupDriver: systemd
`

// InstallKubernetes installs kubeadm, kubelet and kubectl on every host,
// imports the bundled control plane images, and initializes the control
// plane on the master. The init is guarded so a completed cluster is left
// alone on re-runs.
func InstallKubernetes() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_kubernetes",
		Description: "kubernetes runtime and control plane",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			src := sourceOf(ctx, "install_kubernetes")
			operations := []types.Operation{
				&ops.Put{
					OpName: "stage_kubernetes_rpms",
					Src:    filepath.Join(src, "rpms.tar.gz"),
					Dest:   staged("rpms.tar.gz"),
				},
				&ops.Shell{OpName: "install_kubernetes_rpms", Commands: []string{
					fmt.Sprintf("mkdir -p %s", staged("rpms")),
					fmt.Sprintf("tar -C %s -xzf %s", staged("rpms"), staged("rpms.tar.gz")),
					fmt.Sprintf("yum install -y --disablerepo='*' %s/*.rpm", staged("rpms")),
				}},
				&ops.Put{
					OpName: "stage_kubernetes_images",
					Src:    filepath.Join(src, "images.tar"),
					Dest:   staged("images.tar"),
				},
				&ops.Shell{OpName: "import_kubernetes_images", Commands: []string{
					fmt.Sprintf("ctr -n k8s.io images import %s", staged("images.tar")),
				}},
				&ops.Systemd{OpName: "enable_kubelet", Service: "kubelet", Enabled: true},
			}
			if ctx.InGroup("master") {
				operations = append(operations,
					&ops.Template{
						OpName:  "write_kubeadm_config",
						Content: kubeadmConfig,
						Dest:    staged("kubeadm-config.yaml"),
						Data: map[string]string{
							"MasterIP":    ctx.Data.String("master_ip"),
							"PodCIDR":     ctx.Data.String("pod_cidr"),
							"ServiceCIDR": ctx.Data.String("service_cidr"),
						},
					},
					&ops.Shell{OpName: "kubeadm_init", Commands: []string{
						fmt.Sprintf("test -f /etc/kubernetes/admin.conf || kubeadm init --config %s --upload-certs", staged("kubeadm-config.yaml")),
						"mkdir -p /root/.kube",
						"cp -f /etc/kubernetes/admin.conf /root/.kube/config",
					}},
				)
				if ctx.Data.Bool("master_schedulable") {
					operations = append(operations,
						&ops.Shell{OpName: "untaint_master", Commands: []string{
							"kubectl taint nodes --all node-role.kubernetes.io/control-plane:NoSchedule- || true",
						}},
					)
				}
			}
			return operations, nil
		},
	}
}

// JoinNodes joins every worker to the cluster. The join command is a fact
// fetched live from the master, tokens are short-lived so it cannot be
// precomputed.
func JoinNodes() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "kubernetes_join_node",
		Description: "worker node cluster join",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("worker") {
				return nil, nil
			}
			joinCmd, err := ctx.RunOnGroup("master", "kubeadm token create --print-join-command")
			if err != nil {
				return nil, fmt.Errorf("failed to fetch join command from master: %s", err)
			}
			return []types.Operation{
				&ops.Shell{OpName: "join_cluster", Commands: []string{
					fmt.Sprintf("test -f /etc/kubernetes/kubelet.conf || %s", joinCmd),
				}},
			}, nil
		},
	}
}
