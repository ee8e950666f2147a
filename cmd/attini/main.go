// Package main provides the attini command line follower.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/config"
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "attini"
)

var (
	// Global flags
	configPath string
	profile    string
	region     string
	jsonOutput bool
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "Attini CLI",
		Long:          "Command-line interface for following Attini deployments",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS profile")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON lines instead of columns")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deployment commands",
	}
	deployCmd.AddCommand(newFollowCmd())
	rootCmd.AddCommand(deployCmd, newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// loadConfig loads the configuration from the flag, a standard location or the defaults,
// then applies environment and flag overrides
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		home, _ := os.UserHomeDir()
		locations := []string{
			"./attini.yaml",
			"./attini.json",
			filepath.Join(home, ".attini", "config.yaml"),
			filepath.Join(home, ".attini", "config.json"),
		}
		for _, path := range locations {
			if loaded, err := config.LoadConfig(path); err == nil {
				cfg = loaded
				break
			}
		}
		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	cfg.ApplyEnv()
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if region != "" {
		cfg.AWS.Region = region
	}
	if jsonOutput {
		cfg.Follow.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
