package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/awsclient"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/config"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deploydata"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deployplan"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/follow"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/render"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/stackstatus"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/steplogs"
)

// errReported marks a failure whose details are already on the console
var errReported = errors.New("deployment failed")

func newFollowCmd() *cobra.Command {
	var req follow.Request

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow a deployment until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runFollow(cmd.Context(), cfg, req)
		},
	}

	cmd.Flags().StringVarP(&req.Environment, "environment", "e", "", "Environment name")
	cmd.Flags().StringVarP(&req.Distribution, "distribution-name", "n", "", "Distribution name")
	cmd.Flags().StringVar(&req.ObjectIdentifier, "object-identifier", "", "Object identifier of the uploaded distribution")
	_ = cmd.MarkFlagRequired("environment")
	_ = cmd.MarkFlagRequired("distribution-name")
	_ = cmd.MarkFlagRequired("object-identifier")

	return cmd
}

func runFollow(parent context.Context, cfg *config.Config, req follow.Request) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()

	clients, err := awsclient.New(awsConfig(cfg))
	if err != nil {
		return err
	}

	bucket := cfg.Logs.Bucket
	if bucket == "" {
		account, err := clients.AccountID()
		if err != nil {
			return err
		}
		bucket = awsclient.ArtifactBucket(clients.Region, account)
	}

	mode := render.ModeHuman
	if cfg.Follow.JSON {
		mode = render.ModeJSON
	}
	console := render.NewConsole(os.Stdout, mode)

	tailers := func(data deploydata.DeployData, executionName string) render.TailerSource {
		return steplogs.NewRegistry(clients.S3, steplogs.Location{
			Bucket:        bucket,
			Prefix:        cfg.Logs.KeyPrefix,
			Environment:   req.Environment,
			Distribution:  req.Distribution,
			ExecutionName: executionName,
		}, data, logger)
	}

	follower := follow.NewFollower(
		deploydata.NewDynamoDBStore(clients.DynamoDB, cfg.DeployData.TableName),
		stackstatus.NewClient(clients.CloudFormation, clients.Region, logger),
		deployplan.NewAggregator(clients.SFN, logger),
		tailers,
		console,
		follow.Config{
			PollInterval:       cfg.Follow.PollInterval(),
			StackRetries:       cfg.Follow.StackNotFoundRetries,
			StackRetryBackoff:  cfg.Follow.StackNotFoundBackoff(),
			MaxDeployDataWait:  cfg.Follow.MaxDeployDataWait(),
			LogFanOut:          cfg.Follow.LogFanOut,
			DefaultColumnWidth: cfg.Follow.DefaultStepColumnWidth,
			Profile:            cfg.AWS.Profile,
			Region:             clients.Region,
		},
		follow.WithLogger(logger),
	)

	err = follower.Follow(ctx, req)

	var failed *follow.FailedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failed):
		if failed.Message != "" {
			console.Failure(failed.Message)
		}
		return errReported
	case errors.Is(err, follow.ErrInterrupted):
		console.Failure("Stopped following, the deployment continues in the background")
		return err
	default:
		return err
	}
}

// awsConfig leaves an unset region empty so the session resolves it from the environment or profile
func awsConfig(cfg *config.Config) awsclient.Config {
	return awsclient.Config{
		Region:   cfg.AWS.Region,
		Profile:  cfg.AWS.Profile,
		Endpoint: cfg.AWS.Endpoint,
	}
}

// exitCode maps a command error to a process exit code, printing it unless already shown
func exitCode(err error) int {
	switch {
	case errors.Is(err, errReported):
		return 1
	case errors.Is(err, follow.ErrInterrupted):
		return 130
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
}
