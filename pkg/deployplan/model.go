// Package deployplan reconstructs deployment plan progress from a remote execution's event history.
package deployplan

import (
	"time"
)

// PlanStepName is the synthetic step failures are attributed to when no state was entered
const PlanStepName = "Deployment plan"

// EventKind classifies a history event
type EventKind int

const (
	// EventOther is any event the reconstructor does not interpret
	EventOther EventKind = iota

	// EventStateEntered marks a state being entered
	EventStateEntered

	// EventStateExited marks a state being exited
	EventStateExited

	// EventExecutionFailed marks the execution failing
	EventExecutionFailed
)

// ExecutionEvent is one entry in an execution's ordered history
type ExecutionEvent struct {
	ID         int64
	PreviousID int64
	Timestamp  time.Time
	Kind       EventKind

	// StateName is set for entered and exited events
	StateName string

	// Output is the raw state output of exited events
	Output string

	// Error and Cause are set for execution failed events
	Error string
	Cause string
}

// StepStatus is the derived status of a step
type StepStatus string

const (
	StatusStarted      StepStatus = "STARTED"
	StatusRunning      StepStatus = "RUNNING"
	StatusSuccess      StepStatus = "SUCCESS"
	StatusFailed       StepStatus = "FAILED"
	StatusRuntimeError StepStatus = "RUNTIME_ERROR"
)

// IsFailure reports whether the status ends a step unsuccessfully
func (s StepStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusRuntimeError
}

// StepStatusRecord is the status of one step derived from one event
type StepStatusRecord struct {
	StepName  string
	Status    StepStatus
	Message   string
	Timestamp time.Time
}

// RecordKey is the identity of a record for deduplication, timestamp excluded
type RecordKey struct {
	StepName string
	Status   StepStatus
	Message  string
}

// Key returns the deduplication identity of the record
func (r StepStatusRecord) Key() RecordKey {
	return RecordKey{StepName: r.StepName, Status: r.Status, Message: r.Message}
}

// EventTime orders events totally: the wall clock truncated to the
// millisecond with the event id added as a nanosecond tie-breaker.
func EventTime(ts time.Time, id int64) time.Time {
	return ts.Truncate(time.Millisecond).Add(time.Duration(id))
}

// ExecutionStatus is the top level status of an execution
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAborted   ExecutionStatus = "ABORTED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
)

// Snapshot is one poll's reconstructed view of an execution
type Snapshot struct {
	ExecutionArn   string
	ExecutionName  string
	CompletedSteps []StepStatusRecord
	StartedSteps   []StepStatusRecord
	Status         ExecutionStatus
	StartTime      time.Time
	EndTime        *time.Time
}

// Running reports whether the execution has not reached a terminal status
func (s Snapshot) Running() bool {
	return s.Status == ExecutionRunning
}

// Succeeded reports whether the execution ended successfully
func (s Snapshot) Succeeded() bool {
	return s.Status == ExecutionSucceeded
}

// FailureMessage returns the message of the first non-successful completed step
func (s Snapshot) FailureMessage() string {
	for _, step := range s.CompletedSteps {
		if step.Status.IsFailure() && step.Message != "" {
			return step.Message
		}
	}
	return ""
}

// Elapsed returns the execution duration, measured to now while running
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}
