// Package awsclient builds the AWS service clients the follower reads from.
package awsclient

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
)

// ErrNoRegion is returned when neither the config, the environment nor the profile names a region
var ErrNoRegion = errors.New("no AWS region configured, set --region, AWS_REGION or a region in the profile")

// Config contains configuration for the AWS session
type Config struct {
	Region    string
	Profile   string
	AccessKey string
	SecretKey string
	Endpoint  string // Optional, for local emulators
}

// Clients bundles every read API the follower consumes
type Clients struct {
	Region         string
	SFN            sfniface.SFNAPI
	S3             s3iface.S3API
	DynamoDB       dynamodbiface.DynamoDBAPI
	CloudFormation cloudformationiface.CloudFormationAPI
	STS            stsiface.STSAPI
}

// New creates a session and the service clients built on it
func New(config Config) (*Clients, error) {
	// Create AWS session; an empty region is left to the environment and shared config
	awsConfig := &aws.Config{}
	if config.Region != "" {
		awsConfig.Region = aws.String(config.Region)
	}

	// Set credentials if provided
	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	// Set endpoint for local emulators if provided
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsConfig,
		Profile:           config.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	if aws.StringValue(sess.Config.Region) == "" {
		return nil, ErrNoRegion
	}

	return &Clients{
		Region:         aws.StringValue(sess.Config.Region),
		SFN:            sfn.New(sess),
		S3:             s3.New(sess),
		DynamoDB:       dynamodb.New(sess),
		CloudFormation: cloudformation.New(sess),
		STS:            sts.New(sess),
	}, nil
}

// AccountID resolves the account of the active credentials
func (c *Clients) AccountID() (string, error) {
	out, err := c.STS.GetCallerIdentity(&sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	return aws.StringValue(out.Account), nil
}

// ArtifactBucket returns the default bucket holding step logs for an account and region
func ArtifactBucket(region, accountID string) string {
	return fmt.Sprintf("attini-artifact-store-%s-%s", region, accountID)
}
