package units

import (
	"fmt"
	"path/filepath"

	"github.com/kubengine/kubengine/pkg/infra/ops"
	"github.com/kubengine/kubengine/pkg/types"
)

// InstallCalico applies the bundled calico manifest on the master with
// the configured pod CIDR substituted in.
func InstallCalico() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_calico",
		Description: "calico pod network",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_calico")
			manifest := filepath.Join(types.ManifestDir, "calico.yaml")
			return []types.Operation{
				&ops.Directory{OpName: "create_manifest_dir", Path: types.ManifestDir, CheckFirst: ctx.CheckChanges},
				&ops.Put{
					OpName: "stage_calico_manifest",
					Src:    filepath.Join(src, "calico.yaml"),
					Dest:   manifest,
				},
				&ops.Shell{OpName: "apply_calico", Commands: []string{
					fmt.Sprintf(`sed -i 's|POD_CIDR_PLACEHOLDER|%s|' %s`, ctx.Data.String("pod_cidr"), manifest),
					fmt.Sprintf("kubectl apply -f %s", manifest),
				}},
			}, nil
		},
	}
}

// InstallHelm installs the bundled helm binary on the master.
func InstallHelm() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_helm",
		Description: "helm package manager",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_helm")
			return []types.Operation{
				&ops.Put{
					OpName: "install_helm_binary",
					Src:    filepath.Join(src, "helm"),
					Dest:   "/usr/local/bin/helm",
					Mode:   "0755",
				},
				&ops.Link{
					OpName:     "link_helm",
					Path:       "/usr/bin/helm",
					Target:     "/usr/local/bin/helm",
					CheckFirst: ctx.CheckChanges,
				},
				&ops.Shell{OpName: "verify_helm", Commands: []string{"helm version"}},
			}, nil
		},
	}
}

const metallbPool = `apiVersion: metallb.io/v1beta1
kind: IPAddressPool
metadata:
  name: default-pool
  namespace: metallb-system
spec:
  addresses:
{{- range .Pools }}
    - {{ . }}
{{- end }}
---
apiVersion: metallb.io/v1beta1
kind: L2Advertisement
metadata:
  name: default-l2
  namespace: metallb-system
spec:
  ipAddressPools:
    - default-pool
`

// InstallMetalLB installs MetalLB from the bundled chart and configures
// its address pool. The pool manifest is applied with retries, the
// MetalLB admission webhook takes a while to come up after the chart
// install.
func InstallMetalLB() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_metallb",
		Description: "metallb load balancer",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_metallb")
			poolManifest := filepath.Join(types.ManifestDir, "metallb-pool.yaml")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_metallb_chart",
					Src:    filepath.Join(src, "metallb.tgz"),
					Dest:   staged("metallb.tgz"),
				},
				&ops.Shell{OpName: "install_metallb_chart", Commands: []string{
					fmt.Sprintf("helm upgrade --install metallb %s --namespace metallb-system --create-namespace --wait --timeout 10m", staged("metallb.tgz")),
				}},
				&ops.Template{
					OpName:  "write_metallb_pool",
					Content: metallbPool,
					Dest:    poolManifest,
					Data:    map[string]interface{}{"Pools": ctx.Data.StringSlice("lb_pools")},
				},
				&ops.Shell{OpName: "apply_metallb_pool", Commands: []string{
					fmt.Sprintf("for i in $(seq 1 30); do kubectl apply -f %s && exit 0; sleep 10; done; exit 1", poolManifest),
				}},
			}, nil
		},
	}
}

// InstallIngressNginx installs the ingress controller from the bundled
// chart, bound to the configured load balancer address.
func InstallIngressNginx() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_ingress_nginx",
		Description: "nginx ingress controller",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_ingress_nginx")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_ingress_chart",
					Src:    filepath.Join(src, "ingress-nginx.tgz"),
					Dest:   staged("ingress-nginx.tgz"),
				},
				&ops.Shell{OpName: "install_ingress_chart", Commands: []string{
					fmt.Sprintf("helm upgrade --install ingress-nginx %s --namespace ingress-nginx --create-namespace"+
						" --set controller.service.loadBalancerIP=%s --wait --timeout 10m",
						staged("ingress-nginx.tgz"), ctx.Data.String("lb_ip")),
				}},
			}, nil
		},
	}
}
