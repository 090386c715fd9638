// Package units contains the ordered infrastructure units that make up a
// full cluster deployment. Each unit is a typed plan over the declarative
// operations in pkg/infra/ops, branching on the host's role group where
// master and worker diverge.
//
// Units read their parameters from the shared deployment data. The keys
// in use are:
//
//	deploy_src             root of the offline artifact bundle
//	master_ip              address of the master node
//	domain                 cluster ingress domain
//	lb_ip                  ingress load balancer address
//	lb_pools               MetalLB address pools (single IP, range or CIDR each)
//	pod_cidr               pod network CIDR
//	service_cidr           service network CIDR
//	master_schedulable     allow regular workloads on the control plane
//	harbor_admin_password  initial harbor admin password
package units

import (
	"path/filepath"

	"github.com/kubengine/kubengine/pkg/types"
)

// DeploymentPlan returns the full ordered unit list for a deployment
// rooted at the given artifact source. Every unit's asset directory is
// the subdirectory of deploySrc named after the unit.
func DeploymentPlan(deploySrc string) []*types.InfraUnit {
	units := []*types.InfraUnit{
		InstallCNI(),
		InstallContainerd(),
		InstallKubernetes(),
		JoinNodes(),
		InstallCalico(),
		InstallHelm(),
		InstallMetalLB(),
		InstallIngressNginx(),
		IssueCert(),
		InstallLonghorn(),
		InstallHarbor(),
		InstallMetricsServer(),
		InstallDashboard(),
	}
	for _, u := range units {
		u.Source = filepath.Join(deploySrc, u.Name)
	}
	return units
}

// sourceOf resolves a unit's asset directory from the deployment data.
// Plans run after DeploymentPlan has pinned Source, but data is the
// authority so units stay usable standalone.
func sourceOf(ctx *types.ExecutionContext, unit string) string {
	return filepath.Join(ctx.Data.String("deploy_src"), unit)
}

func staged(name string) string {
	return filepath.Join(types.StagingDir, name)
}
