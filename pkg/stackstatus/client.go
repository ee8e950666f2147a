// Package stackstatus reads the status of CloudFormation stacks.
package stackstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deploydata"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
)

// ErrStackNotFound is returned while a stack does not exist yet
var ErrStackNotFound = errors.New("stack not found")

var terminalStatuses = map[string]bool{
	cloudformation.StackStatusCreateComplete:         true,
	cloudformation.StackStatusUpdateComplete:         true,
	cloudformation.StackStatusRollbackComplete:       true,
	cloudformation.StackStatusUpdateRollbackComplete: true,
	cloudformation.StackStatusRollbackFailed:         true,
	cloudformation.StackStatusUpdateRollbackFailed:   true,
}

// IsTerminal reports whether a stack status ends polling
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// IsSuccess reports whether a terminal stack status is a successful one
func IsSuccess(status string) bool {
	return status == cloudformation.StackStatusCreateComplete || status == cloudformation.StackStatusUpdateComplete
}

// Status is the current state of a stack
type Status struct {
	StackName string
	Status    string
	Reason    string
}

// Client reads stack status and events
type Client struct {
	cfn    cloudformationiface.CloudFormationAPI
	region string
	logger logging.Logger
}

// NewClient creates a stack status client
func NewClient(cfn cloudformationiface.CloudFormationAPI, region string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{cfn: cfn, region: region, logger: logger}
}

// Status returns the current status of a stack
func (c *Client) Status(ctx context.Context, stackName string) (Status, error) {
	start := time.Now()
	out, err := c.cfn.DescribeStacksWithContext(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	c.logger.LogPoll("cloudformation", "DescribeStacks", time.Since(start), err)
	if err != nil {
		if isNotFound(err) {
			return Status{}, ErrStackNotFound
		}
		return Status{}, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return Status{}, ErrStackNotFound
	}

	stack := out.Stacks[0]
	return Status{
		StackName: aws.StringValue(stack.StackName),
		Status:    aws.StringValue(stack.StackStatus),
		Reason:    aws.StringValue(stack.StackStatusReason),
	}, nil
}

// ResourceErrors returns the failed resources of the stack's latest operation, oldest first
func (c *Client) ResourceErrors(ctx context.Context, stackName string) ([]deploydata.StackError, error) {
	input := &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackName)}

	var found []deploydata.StackError
	for {
		start := time.Now()
		out, err := c.cfn.DescribeStackEventsWithContext(ctx, input)
		c.logger.LogPoll("cloudformation", "DescribeStackEvents", time.Since(start), err)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrStackNotFound
			}
			return nil, fmt.Errorf("failed to describe stack events for %s: %w", stackName, err)
		}

		// Events come newest first; stop at the start of the latest operation
		for _, e := range out.StackEvents {
			status := aws.StringValue(e.ResourceStatus)
			reason := aws.StringValue(e.ResourceStatusReason)
			if aws.StringValue(e.PhysicalResourceId) == aws.StringValue(e.StackId) && reason == "User Initiated" {
				return reverse(found), nil
			}
			if !strings.HasSuffix(status, "_FAILED") || isCancellation(reason) {
				continue
			}
			found = append(found, deploydata.StackError{
				StackName:      aws.StringValue(e.StackName),
				ResourceName:   aws.StringValue(e.LogicalResourceId),
				ResourceStatus: status,
				Error:          reason,
				Region:         c.region,
			})
		}

		if aws.StringValue(out.NextToken) == "" {
			return reverse(found), nil
		}
		input.NextToken = out.NextToken
	}
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == "ValidationError" && strings.Contains(aerr.Message(), "does not exist")
}

func isCancellation(reason string) bool {
	return strings.Contains(reason, "Resource creation cancelled") || strings.Contains(reason, "Resource update cancelled")
}

func reverse(errs []deploydata.StackError) []deploydata.StackError {
	for i, j := 0, len(errs)-1; i < j; i, j = i+1, j-1 {
		errs[i], errs[j] = errs[j], errs[i]
	}
	return errs
}
