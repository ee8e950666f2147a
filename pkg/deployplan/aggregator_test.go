package deployplan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSFN serves a fixed history in pages
type fakeSFN struct {
	sfniface.SFNAPI
	pages       [][]*sfn.HistoryEvent
	tokens      []string
	describe    *sfn.DescribeExecutionOutput
	definition  string
	definitionE error
}

func (f *fakeSFN) GetExecutionHistoryWithContext(_ aws.Context, input *sfn.GetExecutionHistoryInput, _ ...request.Option) (*sfn.GetExecutionHistoryOutput, error) {
	page := 0
	if input.NextToken != nil {
		for i, token := range f.tokens {
			if token == aws.StringValue(input.NextToken) {
				page = i + 1
			}
		}
	}

	out := &sfn.GetExecutionHistoryOutput{Events: f.pages[page]}
	if page < len(f.pages)-1 {
		out.NextToken = aws.String(f.tokens[page])
	}
	return out, nil
}

func (f *fakeSFN) DescribeExecutionWithContext(aws.Context, *sfn.DescribeExecutionInput, ...request.Option) (*sfn.DescribeExecutionOutput, error) {
	return f.describe, nil
}

func (f *fakeSFN) DescribeStateMachineForExecutionWithContext(aws.Context, *sfn.DescribeStateMachineForExecutionInput, ...request.Option) (*sfn.DescribeStateMachineForExecutionOutput, error) {
	if f.definitionE != nil {
		return nil, f.definitionE
	}
	return &sfn.DescribeStateMachineForExecutionOutput{Definition: aws.String(f.definition)}, nil
}

func historyEvent(id, prev int64, eventType string) *sfn.HistoryEvent {
	return &sfn.HistoryEvent{
		Id:              aws.Int64(id),
		PreviousEventId: aws.Int64(prev),
		Timestamp:       aws.Time(t0.Add(time.Duration(id) * time.Second)),
		Type:            aws.String(eventType),
	}
}

func TestAggregator_SnapshotPaginates(t *testing.T) {
	enteredA := historyEvent(1, 0, sfn.HistoryEventTypeTaskStateEntered)
	enteredA.StateEnteredEventDetails = &sfn.StateEnteredEventDetails{Name: aws.String("A")}
	exitedA := historyEvent(2, 1, sfn.HistoryEventTypeTaskStateExited)
	exitedA.StateExitedEventDetails = &sfn.StateExitedEventDetails{Name: aws.String("A"), Output: aws.String(`"ok"`)}
	enteredB := historyEvent(3, 2, sfn.HistoryEventTypePassStateEntered)
	enteredB.StateEnteredEventDetails = &sfn.StateEnteredEventDetails{Name: aws.String("B")}
	failedEvent := historyEvent(4, 3, sfn.HistoryEventTypeExecutionFailed)
	failedEvent.ExecutionFailedEventDetails = &sfn.ExecutionFailedEventDetails{Error: aws.String("E"), Cause: aws.String("C")}

	stop := t0.Add(time.Minute)
	client := &fakeSFN{
		pages:  [][]*sfn.HistoryEvent{{enteredA, exitedA}, {enteredB}, {failedEvent}},
		tokens: []string{"t1", "t2"},
		describe: &sfn.DescribeExecutionOutput{
			Name:      aws.String("exec-1"),
			Status:    aws.String(sfn.ExecutionStatusFailed),
			StartDate: aws.Time(t0),
			StopDate:  aws.Time(stop),
		},
	}

	snapshot, err := NewAggregator(client, nil).Snapshot(context.Background(), "arn:exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", snapshot.ExecutionName)
	assert.Equal(t, ExecutionFailed, snapshot.Status)
	assert.False(t, snapshot.Running())
	require.NotNil(t, snapshot.EndTime)
	assert.Equal(t, stop, *snapshot.EndTime)

	require.Len(t, snapshot.StartedSteps, 2)
	require.Len(t, snapshot.CompletedSteps, 2)
	assert.Equal(t, "ok", snapshot.CompletedSteps[0].Message)
	assert.Equal(t, "B", snapshot.CompletedSteps[1].StepName)
	assert.Equal(t, StatusFailed, snapshot.CompletedSteps[1].Status)
	assert.Equal(t, "Error: E\nCause: C", snapshot.FailureMessage())
}

func TestFromHistoryEvent_ClassifiesByType(t *testing.T) {
	e := FromHistoryEvent(historyEvent(9, 8, sfn.HistoryEventTypeChoiceStateEntered))
	assert.Equal(t, EventStateEntered, e.Kind)
	assert.Equal(t, int64(9), e.ID)
	assert.Equal(t, int64(8), e.PreviousID)

	e = FromHistoryEvent(historyEvent(10, 9, sfn.HistoryEventTypeTaskScheduled))
	assert.Equal(t, EventOther, e.Kind)
}

func TestAggregator_LongestStepName(t *testing.T) {
	client := &fakeSFN{definition: `{"States": {"Deploy": {"Type": "Task"}, "AttiniRunnerJob": {"Type": "Task"}}}`}
	assert.Equal(t, len("AttiniRunnerJob"), NewAggregator(client, nil).LongestStepName(context.Background(), "arn", 30))

	client = &fakeSFN{definitionE: errors.New("access denied")}
	assert.Equal(t, 30, NewAggregator(client, nil).LongestStepName(context.Background(), "arn", 30))

	client = &fakeSFN{definition: "broken"}
	assert.Equal(t, 30, NewAggregator(client, nil).LongestStepName(context.Background(), "arn", 30))
}
