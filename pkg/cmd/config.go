package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kubengine/kubengine/pkg/deploy"
	"github.com/kubengine/kubengine/pkg/log"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the cluster configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := deploy.LoadConfig(configFile)
		if err != nil {
			return err
		}
		return printYAML(cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration against this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := deploy.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if err := deploy.NewValidator().Validate(cfg); err != nil {
			return err
		}
		log.Info("Configuration is valid")
		return nil
	},
}
