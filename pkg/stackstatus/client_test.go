package stackstatus

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCloudFormation is a mock implementation of the CloudFormation API
type MockCloudFormation struct {
	cloudformationiface.CloudFormationAPI
	mock.Mock
}

func (m *MockCloudFormation) DescribeStacksWithContext(ctx aws.Context, input *cloudformation.DescribeStacksInput, _ ...request.Option) (*cloudformation.DescribeStacksOutput, error) {
	args := m.Called(aws.StringValue(input.StackName))
	out, _ := args.Get(0).(*cloudformation.DescribeStacksOutput)
	return out, args.Error(1)
}

func (m *MockCloudFormation) DescribeStackEventsWithContext(ctx aws.Context, input *cloudformation.DescribeStackEventsInput, _ ...request.Option) (*cloudformation.DescribeStackEventsOutput, error) {
	args := m.Called(aws.StringValue(input.StackName), aws.StringValue(input.NextToken))
	out, _ := args.Get(0).(*cloudformation.DescribeStackEventsOutput)
	return out, args.Error(1)
}

func stackEvent(logicalID, status, reason string) *cloudformation.StackEvent {
	return &cloudformation.StackEvent{
		StackId:              aws.String("stack-id"),
		StackName:            aws.String("init"),
		LogicalResourceId:    aws.String(logicalID),
		PhysicalResourceId:   aws.String("physical-" + logicalID),
		ResourceStatus:       aws.String(status),
		ResourceStatusReason: aws.String(reason),
	}
}

func TestStatus(t *testing.T) {
	cfn := new(MockCloudFormation)
	cfn.On("DescribeStacksWithContext", "init").Return(&cloudformation.DescribeStacksOutput{
		Stacks: []*cloudformation.Stack{{
			StackName:         aws.String("init"),
			StackStatus:       aws.String(cloudformation.StackStatusUpdateInProgress),
			StackStatusReason: aws.String("User Initiated"),
		}},
	}, nil)

	status, err := NewClient(cfn, "eu-west-1", nil).Status(context.Background(), "init")
	require.NoError(t, err)
	assert.Equal(t, Status{StackName: "init", Status: "UPDATE_IN_PROGRESS", Reason: "User Initiated"}, status)
	cfn.AssertExpectations(t)
}

func TestStatus_NotFound(t *testing.T) {
	cfn := new(MockCloudFormation)
	cfn.On("DescribeStacksWithContext", "missing").Return(nil,
		awserr.New("ValidationError", "Stack with id missing does not exist", nil))

	_, err := NewClient(cfn, "eu-west-1", nil).Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStackNotFound)
}

func TestStatus_OtherErrors(t *testing.T) {
	cfn := new(MockCloudFormation)
	cfn.On("DescribeStacksWithContext", "init").Return(nil, errors.New("throttled"))

	_, err := NewClient(cfn, "eu-west-1", nil).Status(context.Background(), "init")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStackNotFound)
}

func TestResourceErrors_StopsAtLatestOperation(t *testing.T) {
	userInitiated := stackEvent("init", "UPDATE_IN_PROGRESS", "User Initiated")
	userInitiated.PhysicalResourceId = aws.String("stack-id")

	cfn := new(MockCloudFormation)
	cfn.On("DescribeStackEventsWithContext", "init", "").Return(&cloudformation.DescribeStackEventsOutput{
		StackEvents: []*cloudformation.StackEvent{
			stackEvent("init", "UPDATE_ROLLBACK_COMPLETE", ""),
			stackEvent("Queue", "UPDATE_FAILED", "Resource update cancelled"),
			stackEvent("Role", "UPDATE_FAILED", "Access denied"),
		},
		NextToken: aws.String("page-2"),
	}, nil)
	cfn.On("DescribeStackEventsWithContext", "init", "page-2").Return(&cloudformation.DescribeStackEventsOutput{
		StackEvents: []*cloudformation.StackEvent{
			stackEvent("Bucket", "CREATE_FAILED", "Bucket already exists"),
			userInitiated,
			stackEvent("Old", "CREATE_FAILED", "from a previous update"),
		},
	}, nil)

	errs, err := NewClient(cfn, "eu-west-1", nil).ResourceErrors(context.Background(), "init")
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "Bucket", errs[0].ResourceName)
	assert.Equal(t, "Bucket already exists", errs[0].Error)
	assert.Equal(t, "eu-west-1", errs[0].Region)
	assert.Equal(t, "Role", errs[1].ResourceName)
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{"CREATE_COMPLETE", "UPDATE_COMPLETE", "ROLLBACK_COMPLETE", "UPDATE_ROLLBACK_COMPLETE", "ROLLBACK_FAILED", "UPDATE_ROLLBACK_FAILED"} {
		assert.True(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal("CREATE_IN_PROGRESS"))
	assert.False(t, IsTerminal("UPDATE_COMPLETE_CLEANUP_IN_PROGRESS"))

	assert.True(t, IsSuccess("CREATE_COMPLETE"))
	assert.True(t, IsSuccess("UPDATE_COMPLETE"))
	assert.False(t, IsSuccess("ROLLBACK_COMPLETE"))
}
