package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubengine/kubengine/pkg/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information for kubengine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Kubengine Version:", version.Version)
		fmt.Println("Kubengine GitCommit:", version.Commit)
	},
}
