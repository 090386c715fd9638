package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/kubengine/kubengine/pkg/deploy"
	"github.com/kubengine/kubengine/pkg/log"
)

var (
	deploySrcOverride string
	deployShowConfig  bool
	deployAutoApprove bool
)

func init() {
	deployCmd.Flags().StringVar(&deploySrcOverride, "deploy-src", "", "Override the artifact bundle location from the configuration")
	deployCmd.Flags().BoolVar(&deployShowConfig, "show-config", false, "Print the effective configuration and exit without deploying")
	deployCmd.Flags().BoolVarP(&deployAutoApprove, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deployCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the cluster described by the configuration",
	Long: `
Runs the full deployment plan against the configured hosts. The machine running
the command becomes the master. Progress is recorded per unit, a failed or
interrupted deployment picks up where it left off when re-run.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := deploy.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if deploySrcOverride != "" {
			cfg.DeploySource = deploySrcOverride
		}

		if deployShowConfig {
			return printYAML(cfg)
		}

		log.Infof("Deploying cluster with master %s and %d workers\n", cfg.MasterIP, len(cfg.Workers))
		if !deployAutoApprove && !confirm("Proceed with the deployment?") {
			return fmt.Errorf("deployment aborted")
		}

		return deploy.New(cfg, stateFile).Deploy()
	},
}

func printYAML(v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}
