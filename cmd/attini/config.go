package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := initConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".attini", "config.yaml")
}

// initConfig writes the defaults with the global flag overrides applied
func initConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	cfg := config.DefaultConfig()
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if region != "" {
		cfg.AWS.Region = region
	}
	if jsonOutput {
		cfg.Follow.JSON = true
	}
	return config.SaveConfig(cfg, path)
}
