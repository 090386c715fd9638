package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubengine/kubengine/pkg/infra"
	"github.com/kubengine/kubengine/pkg/log"
)

var resetForce bool

func init() {
	resetStateCmd.Flags().BoolVar(&resetForce, "force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetStateCmd)
}

var resetStateCmd = &cobra.Command{
	Use:   "reset-state",
	Short: "Discard recorded deployment progress",
	Long: `
Clears the deployment state ledger so the next deploy runs every unit from the
beginning. This does not undo anything on the cluster hosts.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce && !confirm("Discard all recorded deployment progress?") {
			return fmt.Errorf("reset aborted")
		}
		if err := infra.LoadState(stateFile).Reset(); err != nil {
			return err
		}
		log.Infof("Deployment state at %q has been reset\n", stateFile)
		return nil
	},
}
