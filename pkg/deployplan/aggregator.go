package deployplan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/logging"
)

const historyPageSize = 1000

// Aggregator builds point-in-time snapshots of a deployment plan execution
type Aggregator struct {
	client sfniface.SFNAPI
	logger logging.Logger
}

// NewAggregator creates a new aggregator reading from Step Functions
func NewAggregator(client sfniface.SFNAPI, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Aggregator{client: client, logger: logger}
}

// Snapshot fetches the full history and current status of an execution
func (a *Aggregator) Snapshot(ctx context.Context, executionArn string) (Snapshot, error) {
	events, err := a.History(ctx, executionArn)
	if err != nil {
		return Snapshot{}, err
	}
	completed, started := Reconstruct(events)

	start := time.Now()
	out, err := a.client.DescribeExecutionWithContext(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionArn),
	})
	a.logger.LogPoll("sfn", "DescribeExecution", time.Since(start), err)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to describe execution %s: %w", executionArn, err)
	}

	snapshot := Snapshot{
		ExecutionArn:   executionArn,
		ExecutionName:  aws.StringValue(out.Name),
		CompletedSteps: completed,
		StartedSteps:   started,
		Status:         ExecutionStatus(aws.StringValue(out.Status)),
		StartTime:      aws.TimeValue(out.StartDate),
	}
	if out.StopDate != nil {
		end := aws.TimeValue(out.StopDate)
		snapshot.EndTime = &end
	}
	return snapshot, nil
}

// History fetches every event of an execution, following continuation tokens
func (a *Aggregator) History(ctx context.Context, executionArn string) ([]ExecutionEvent, error) {
	input := &sfn.GetExecutionHistoryInput{
		ExecutionArn:         aws.String(executionArn),
		MaxResults:           aws.Int64(historyPageSize),
		IncludeExecutionData: aws.Bool(true),
	}

	var events []ExecutionEvent
	for {
		start := time.Now()
		out, err := a.client.GetExecutionHistoryWithContext(ctx, input)
		a.logger.LogPoll("sfn", "GetExecutionHistory", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to get execution history for %s: %w", executionArn, err)
		}

		for _, e := range out.Events {
			events = append(events, FromHistoryEvent(e))
		}

		if aws.StringValue(out.NextToken) == "" {
			return events, nil
		}
		input.NextToken = out.NextToken
	}
}

// FromHistoryEvent converts a Step Functions history event
func FromHistoryEvent(e *sfn.HistoryEvent) ExecutionEvent {
	event := ExecutionEvent{
		ID:         aws.Int64Value(e.Id),
		PreviousID: aws.Int64Value(e.PreviousEventId),
		Timestamp:  aws.TimeValue(e.Timestamp),
	}

	eventType := aws.StringValue(e.Type)
	switch {
	case e.StateEnteredEventDetails != nil || strings.HasSuffix(eventType, "StateEntered"):
		event.Kind = EventStateEntered
		if d := e.StateEnteredEventDetails; d != nil {
			event.StateName = aws.StringValue(d.Name)
		}
	case e.StateExitedEventDetails != nil || strings.HasSuffix(eventType, "StateExited"):
		event.Kind = EventStateExited
		if d := e.StateExitedEventDetails; d != nil {
			event.StateName = aws.StringValue(d.Name)
			event.Output = aws.StringValue(d.Output)
		}
	case eventType == sfn.HistoryEventTypeExecutionFailed:
		event.Kind = EventExecutionFailed
		if d := e.ExecutionFailedEventDetails; d != nil {
			event.Error = aws.StringValue(d.Error)
			event.Cause = aws.StringValue(d.Cause)
		}
	}
	return event
}

// LongestStepName returns the longest state name in the execution's definition,
// or defaultWidth when the definition cannot be read.
func (a *Aggregator) LongestStepName(ctx context.Context, executionArn string, defaultWidth int) int {
	start := time.Now()
	out, err := a.client.DescribeStateMachineForExecutionWithContext(ctx, &sfn.DescribeStateMachineForExecutionInput{
		ExecutionArn: aws.String(executionArn),
	})
	a.logger.LogPoll("sfn", "DescribeStateMachineForExecution", time.Since(start), err)
	if err != nil {
		a.logger.Warn("could not read deployment plan definition", logging.F("execution", executionArn), logging.Err(err))
		return defaultWidth
	}

	longest, err := LongestStateName(aws.StringValue(out.Definition))
	if err != nil || longest == 0 {
		a.logger.Warn("could not parse deployment plan definition", logging.F("execution", executionArn), logging.Err(err))
		return defaultWidth
	}
	return longest
}
