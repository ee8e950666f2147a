// Package config provides configuration handling for the deployment follower.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// AWS connection settings
	AWS AWSConfig `json:"aws" yaml:"aws"`

	// DeployData configures the deployment metadata store
	DeployData DeployDataConfig `json:"deploy_data" yaml:"deploy_data"`

	// Logs configures where step logs are read from
	Logs LogsConfig `json:"logs" yaml:"logs"`

	// Follow configures the polling behaviour
	Follow FollowConfig `json:"follow" yaml:"follow"`

	// Logging configuration
	Logging logging.LogConfig `json:"logging" yaml:"logging"`
}

// AWSConfig contains AWS session settings
type AWSConfig struct {
	// Region is the AWS region. Empty defers to the SDK environment and the selected profile.
	Region string `json:"region" yaml:"region"`

	// Profile is the shared config profile to use
	Profile string `json:"profile" yaml:"profile"`

	// Endpoint overrides every service endpoint (for local development)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DeployDataConfig contains DynamoDB settings for the metadata store
type DeployDataConfig struct {
	// TableName is the deploy data table
	TableName string `json:"table_name" yaml:"table_name"`
}

// LogsConfig contains S3 settings for step logs
type LogsConfig struct {
	// Bucket holds the step log objects. Empty means derive from account and region.
	Bucket string `json:"bucket" yaml:"bucket"`

	// KeyPrefix is prepended to every step log key
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// FollowConfig contains the polling settings
type FollowConfig struct {
	// PollIntervalMillis is the delay between polls
	PollIntervalMillis int `json:"poll_interval_millis" yaml:"poll_interval_millis"`

	// StackNotFoundRetries is how often the first stack read is retried
	StackNotFoundRetries int `json:"stack_not_found_retries" yaml:"stack_not_found_retries"`

	// StackNotFoundBackoffMillis is the delay between those retries
	StackNotFoundBackoffMillis int `json:"stack_not_found_backoff_millis" yaml:"stack_not_found_backoff_millis"`

	// MaxDeployDataWaitSeconds bounds the wait for the deploy data record. Zero waits indefinitely.
	MaxDeployDataWaitSeconds int `json:"max_deploy_data_wait_seconds" yaml:"max_deploy_data_wait_seconds"`

	// LogFanOut limits concurrent log fetches per render tick
	LogFanOut int `json:"log_fan_out" yaml:"log_fan_out"`

	// DefaultStepColumnWidth is used when the step names cannot be resolved
	DefaultStepColumnWidth int `json:"default_step_column_width" yaml:"default_step_column_width"`

	// JSON selects structured output
	JSON bool `json:"json" yaml:"json"`
}

// PollInterval returns the poll interval as a duration
func (f FollowConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMillis) * time.Millisecond
}

// StackNotFoundBackoff returns the first-read retry delay as a duration
func (f FollowConfig) StackNotFoundBackoff() time.Duration {
	return time.Duration(f.StackNotFoundBackoffMillis) * time.Millisecond
}

// MaxDeployDataWait returns the deploy data wait bound as a duration
func (f FollowConfig) MaxDeployDataWait() time.Duration {
	return time.Duration(f.MaxDeployDataWaitSeconds) * time.Second
}

// LoadConfig loads the configuration from a JSON or YAML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DeployData: DeployDataConfig{
			TableName: "AttiniDeployDataV1",
		},
		Logs: LogsConfig{
			KeyPrefix: "attini/step-logs",
		},
		Follow: FollowConfig{
			PollIntervalMillis:         1000,
			StackNotFoundRetries:       3,
			StackNotFoundBackoffMillis: 2000,
			MaxDeployDataWaitSeconds:   0,
			LogFanOut:                  8,
			DefaultStepColumnWidth:     30,
		},
		Logging: logging.LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		c.AWS.Profile = v
	}
	if v := os.Getenv("ATTINI_DEPLOY_DATA_TABLE"); v != "" {
		c.DeployData.TableName = v
	}
	if v := os.Getenv("ATTINI_ARTIFACT_BUCKET"); v != "" {
		c.Logs.Bucket = v
	}
}

// Validate checks that the settings can drive a follow
func (c *Config) Validate() error {
	if c.DeployData.TableName == "" {
		return fmt.Errorf("deploy data table name is required")
	}
	if c.Follow.PollIntervalMillis < 0 {
		return fmt.Errorf("poll interval must not be negative")
	}
	if c.Follow.LogFanOut <= 0 {
		return fmt.Errorf("log fan out must be positive")
	}
	return nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
