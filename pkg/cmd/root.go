package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
	"github.com/kubengine/kubengine/pkg/util"
)

var (
	configFile string
	stateFile  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", types.DefaultConfigFile, "Path to the cluster configuration file")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", types.DefaultStateFile, "Override the deployment state file location")
	rootCmd.PersistentFlags().StringVar(&util.TempDir, "tmp-dir", util.TempDir, "Override the default tmp directory")
	rootCmd.PersistentFlags().CountVarP(&log.Verbosity, "verbose", "v", "Increase log verbosity, repeat for remote command output")
}

var rootCmd = &cobra.Command{
	Use:   "kubengine",
	Short: "kubengine is an offline kubernetes cluster deployment utility",
	Long: `
The kubengine command deploys a full kubernetes cluster, including networking,
storage, ingress and a container registry, from a pre-staged offline artifact
bundle. Deployments are idempotent and resumable: completed steps are recorded
and skipped on re-runs.
`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	SilenceErrors:     true,
}

// GetRootCommand returns the root kubengine command
func GetRootCommand() *cobra.Command { return rootCmd }
