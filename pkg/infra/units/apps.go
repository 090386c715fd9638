package units

import (
	"fmt"
	"path/filepath"

	"github.com/kubengine/kubengine/pkg/infra/ops"
	"github.com/kubengine/kubengine/pkg/types"
)

// IssueCert distributes the generated CA to every host's trust store and
// creates the wildcard TLS secret on the master. Certificate generation
// itself happens on the control machine before execution starts.
func IssueCert() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "issue_cert",
		Description: "cluster TLS certificates",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			operations := []types.Operation{
				&ops.Put{
					OpName: "distribute_ca_cert",
					Src:    filepath.Join(types.CertsDir, "ca.crt"),
					Dest:   "/etc/pki/ca-trust/source/anchors/kubengine-ca.crt",
				},
				&ops.Shell{OpName: "update_ca_trust", Commands: []string{"update-ca-trust"}},
			}
			if ctx.InGroup("master") {
				operations = append(operations,
					&ops.Shell{OpName: "create_tls_secret", Commands: []string{
						fmt.Sprintf("kubectl -n kube-system create secret tls kubengine-tls --cert=%s --key=%s --dry-run=client -o yaml | kubectl apply -f -",
							filepath.Join(types.CertsDir, "server.crt"), filepath.Join(types.CertsDir, "server.key")),
					}},
				)
			}
			return operations, nil
		},
	}
}

// InstallLonghorn installs the distributed storage prerequisites on every
// host and the longhorn chart on the master.
func InstallLonghorn() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_longhorn",
		Description: "longhorn distributed storage",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			operations := []types.Operation{
				&ops.Packages{
					OpName:   "install_storage_packages",
					Packages: []string{"iscsi-initiator-utils", "nfs-utils"},
					Present:  true,
				},
				&ops.Systemd{OpName: "enable_iscsid", Service: "iscsid", Enabled: true},
			}
			if ctx.InGroup("master") {
				src := sourceOf(ctx, "install_longhorn")
				operations = append(operations,
					&ops.Put{
						OpName: "stage_longhorn_chart",
						Src:    filepath.Join(src, "longhorn.tgz"),
						Dest:   staged("longhorn.tgz"),
					},
					&ops.Shell{OpName: "install_longhorn_chart", Commands: []string{
						fmt.Sprintf("helm upgrade --install longhorn %s --namespace longhorn-system --create-namespace"+
							" --set defaultSettings.defaultReplicaCount=2 --wait --timeout 15m", staged("longhorn.tgz")),
					}},
				)
			}
			return operations, nil
		},
	}
}

// InstallHarbor installs the harbor registry behind the ingress domain,
// terminating TLS with the generated certificate.
func InstallHarbor() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_harbor",
		Description: "harbor container registry",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_harbor")
			domain := ctx.Data.String("domain")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_harbor_chart",
					Src:    filepath.Join(src, "harbor.tgz"),
					Dest:   staged("harbor.tgz"),
				},
				&ops.Shell{
					OpName: "install_harbor_chart",
					Commands: []string{
						fmt.Sprintf("helm upgrade --install harbor %s --namespace harbor --create-namespace"+
							" --set expose.ingress.hosts.core=harbor.%s"+
							" --set expose.tls.certSource=secret --set expose.tls.secret.secretName=kubengine-tls"+
							" --set externalURL=https://harbor.%s"+
							" --set harborAdminPassword=$HARBOR_ADMIN_PASSWORD"+
							" --wait --timeout 15m", staged("harbor.tgz"), domain, domain),
					},
					Env:     map[string]string{"HARBOR_ADMIN_PASSWORD": ctx.Data.String("harbor_admin_password")},
					Secrets: []string{ctx.Data.String("harbor_admin_password")},
				},
			}, nil
		},
	}
}

// InstallMetricsServer applies the bundled metrics-server manifest on the
// master.
func InstallMetricsServer() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_metrics_server",
		Description: "metrics server",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_metrics_server")
			manifest := filepath.Join(types.ManifestDir, "metrics-server.yaml")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_metrics_server_manifest",
					Src:    filepath.Join(src, "components.yaml"),
					Dest:   manifest,
				},
				&ops.Shell{OpName: "apply_metrics_server", Commands: []string{
					fmt.Sprintf("kubectl apply -f %s", manifest),
				}},
			}, nil
		},
	}
}

const dashboardAdmin = `apiVersion: v1
kind: ServiceAccount
metadata:
  name: admin-user
  namespace: kubernetes-dashboard
---
apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRoleBinding
metadata:
  name: admin-user
roleRef:
  apiGroup: rbac.authorization.k8s.io
  kind: ClusterRole
  name: cluster-admin
subjects:
  - kind: ServiceAccount
    name: admin-user
    namespace: kubernetes-dashboard
`

// InstallDashboard applies the kubernetes dashboard and an admin service
// account on the master.
func InstallDashboard() *types.InfraUnit {
	return &types.InfraUnit{
		Name:        "install_dashboard",
		Description: "kubernetes dashboard",
		Plan: func(ctx *types.ExecutionContext) ([]types.Operation, error) {
			if !ctx.InGroup("master") {
				return nil, nil
			}
			src := sourceOf(ctx, "install_dashboard")
			manifest := filepath.Join(types.ManifestDir, "dashboard.yaml")
			adminManifest := filepath.Join(types.ManifestDir, "dashboard-admin.yaml")
			return []types.Operation{
				&ops.Put{
					OpName: "stage_dashboard_manifest",
					Src:    filepath.Join(src, "recommended.yaml"),
					Dest:   manifest,
				},
				&ops.Shell{OpName: "apply_dashboard", Commands: []string{
					fmt.Sprintf("kubectl apply -f %s", manifest),
				}},
				&ops.Template{
					OpName:  "write_dashboard_admin",
					Content: dashboardAdmin,
					Dest:    adminManifest,
				},
				&ops.Shell{OpName: "apply_dashboard_admin", Commands: []string{
					fmt.Sprintf("kubectl apply -f %s", adminManifest),
				}},
			}, nil
		},
	}
}
