package deploy

import (
	"fmt"
	"strings"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// printReport summarizes the deployed cluster for the operator: topology,
// component endpoints, credentials, and the DNS entries the environment
// still needs.
func (d *Deployer) printReport() {
	cfg := d.cfg
	lbIP := cfg.LoadBalancerIP()

	line := strings.Repeat("=", 64)
	log.Info(line)
	log.Info("Cluster deployment summary")
	log.Info(line)

	log.Infof("Master:   %s (this machine)\n", cfg.MasterIP)
	if len(cfg.Workers) == 0 {
		log.Info("Workers:  none, single node cluster")
	} else {
		log.Infof("Workers:  %s\n", strings.Join(cfg.Workers, ", "))
	}
	log.Infof("Ingress:  %s (pools %s)\n", lbIP, strings.Join(cfg.LoadBalancerPools, ", "))
	log.Infof("Networks: pods %s, services %s\n", cfg.PodCIDR, cfg.ServiceCIDR)

	log.Info(line)
	log.Infof("Registry:   https://harbor.%s (user admin)\n", cfg.Domain)
	log.Infof("Dashboard:  https://kubernetes-dashboard.%s\n", cfg.Domain)
	if cfg.HarborAdminPassword == "" {
		log.Infof("The harbor admin password was generated for this run, retrieve it with:\n")
		log.Infof("  kubectl -n harbor get secret harbor-core -o jsonpath='{.data.HARBOR_ADMIN_PASSWORD}' | base64 -d\n")
	}
	log.Infof("Dashboard login token:\n")
	log.Infof("  kubectl -n kubernetes-dashboard create token admin-user\n")

	log.Info(line)
	log.Info("Remaining manual steps:")
	log.Infof("  - Point *.%s at %s in your DNS\n", cfg.Domain, lbIP)
	log.Infof("  - Distribute %s to clients that should trust the registry\n", fmt.Sprintf("%s/ca.crt", types.CertsDir))
	log.Info(line)
}
