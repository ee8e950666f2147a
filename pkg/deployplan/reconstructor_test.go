package deployplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entered(id, prev int64, name string) ExecutionEvent {
	return ExecutionEvent{ID: id, PreviousID: prev, Timestamp: t0, Kind: EventStateEntered, StateName: name}
}

func exited(id, prev int64, name, output string) ExecutionEvent {
	return ExecutionEvent{ID: id, PreviousID: prev, Timestamp: t0, Kind: EventStateExited, StateName: name, Output: output}
}

func failed(id, prev int64, errorText, cause string) ExecutionEvent {
	return ExecutionEvent{ID: id, PreviousID: prev, Timestamp: t0, Kind: EventExecutionFailed, Error: errorText, Cause: cause}
}

func other(id, prev int64) ExecutionEvent {
	return ExecutionEvent{ID: id, PreviousID: prev, Timestamp: t0, Kind: EventOther}
}

func TestReconstruct_EnteredAndExited(t *testing.T) {
	completed, started := Reconstruct([]ExecutionEvent{
		entered(1, 0, "A"),
		exited(2, 1, "A", "1"),
	})

	require.Len(t, completed, 1)
	assert.Equal(t, RecordKey{StepName: "A", Status: StatusSuccess, Message: "1"}, completed[0].Key())
	require.Len(t, started, 1)
	assert.Equal(t, RecordKey{StepName: "A", Status: StatusStarted}, started[0].Key())
}

func TestReconstruct_FailureAttributedToEnteredState(t *testing.T) {
	completed, _ := Reconstruct([]ExecutionEvent{
		entered(1, 0, "A"),
		failed(2, 1, "E", "C"),
	})

	require.Len(t, completed, 1)
	assert.Equal(t, "A", completed[0].StepName)
	assert.Equal(t, StatusFailed, completed[0].Status)
	assert.Equal(t, "Error: E\nCause: C", completed[0].Message)
}

func TestReconstruct_RootFailureIsRuntimeError(t *testing.T) {
	completed, started := Reconstruct([]ExecutionEvent{
		failed(1, 0, "States.Runtime", "bad input"),
	})

	assert.Empty(t, started)
	require.Len(t, completed, 1)
	assert.Equal(t, PlanStepName, completed[0].StepName)
	assert.Equal(t, StatusRuntimeError, completed[0].Status)
	assert.Equal(t, "Error: States.Runtime\nCause: bad input", completed[0].Message)
}

func TestReconstruct_CausalityWalkSkipsExitedStates(t *testing.T) {
	// The failure's chain passes through two completed states before
	// reaching the state that was entered and never exited.
	events := []ExecutionEvent{
		entered(1, 0, "Target"),
		other(2, 1),
		entered(3, 2, "First"),
		exited(4, 3, "First", `{}`),
		entered(5, 4, "Second"),
		exited(6, 5, "Second", `{}`),
		failed(7, 6, "E", "C"),
	}

	completed, _ := Reconstruct(events)

	var failures []StepStatusRecord
	for _, r := range completed {
		if r.Status == StatusFailed {
			failures = append(failures, r)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, "Target", failures[0].StepName)
}

func TestReconstruct_WalksThroughIntermediateEvents(t *testing.T) {
	completed, _ := Reconstruct([]ExecutionEvent{
		entered(1, 0, "Deploy"),
		other(2, 1), // TaskScheduled
		other(3, 2), // TaskStarted
		other(4, 3), // TaskFailed
		failed(5, 4, "Lambda.Unknown", "timeout"),
	})

	require.Len(t, completed, 1)
	assert.Equal(t, "Deploy", completed[0].StepName)
	assert.Equal(t, StatusFailed, completed[0].Status)
}

func TestReconstruct_BrokenChainFallsBackToPlanStep(t *testing.T) {
	completed, _ := Reconstruct([]ExecutionEvent{
		failed(5, 4, "E", "C"),
	})

	require.Len(t, completed, 1)
	assert.Equal(t, PlanStepName, completed[0].StepName)
	assert.Equal(t, StatusFailed, completed[0].Status)
}

func TestReconstruct_FailuresAppendedAfterSuccesses(t *testing.T) {
	completed, _ := Reconstruct([]ExecutionEvent{
		entered(1, 0, "A"),
		exited(2, 1, "A", `"done"`),
		entered(3, 2, "B"),
		failed(4, 3, "E", "C"),
	})

	require.Len(t, completed, 2)
	assert.Equal(t, StatusSuccess, completed[0].Status)
	assert.Equal(t, "done", completed[0].Message)
	assert.Equal(t, StatusFailed, completed[1].Status)
	assert.Equal(t, "B", completed[1].StepName)
}

func TestReconstruct_Idempotent(t *testing.T) {
	events := []ExecutionEvent{
		entered(1, 0, "A"),
		exited(2, 1, "A", `{"b":1,"a":2}`),
		entered(3, 2, "B"),
		failed(4, 3, "E", "C"),
	}

	c1, s1 := Reconstruct(events)
	c2, s2 := Reconstruct(events)
	assert.Equal(t, c1, c2)
	assert.Equal(t, s1, s2)
}

func TestReconstruct_Distinct(t *testing.T) {
	completed, started := Reconstruct([]ExecutionEvent{
		entered(1, 0, "A"),
		exited(2, 1, "A", "1"),
		entered(3, 2, "A"),
		exited(4, 3, "A", "1"),
	})

	assert.Len(t, completed, 1)
	assert.Len(t, started, 1)
	assert.Equal(t, EventTime(t0, 2), completed[0].Timestamp)
}

func TestReconstruct_MalformedOutputIsEmpty(t *testing.T) {
	completed, _ := Reconstruct([]ExecutionEvent{
		entered(1, 0, "A"),
		exited(2, 1, "A", "{not json"),
	})

	require.Len(t, completed, 1)
	assert.Equal(t, "", completed[0].Message)
}

func TestOutputMessage(t *testing.T) {
	assert.Equal(t, "1", outputMessage("1"))
	assert.Equal(t, "hello", outputMessage(`"hello"`))
	assert.Equal(t, `{"a":2,"b":1}`, outputMessage(`{ "b": 1, "a": 2 }`))
	assert.Equal(t, "12345678901234567890", outputMessage("12345678901234567890"))
	assert.Equal(t, `{"html":"<b>"}`, outputMessage(`{"html":"<b>"}`))
	assert.Equal(t, "", outputMessage("null"))
	assert.Equal(t, "", outputMessage(""))
}

func TestEventTime_OrdersSameMillisecondByID(t *testing.T) {
	ts := t0.Add(123*time.Millisecond + 456*time.Microsecond)

	a := EventTime(ts, 7)
	b := EventTime(ts, 8)

	assert.True(t, a.Before(b))
	assert.Equal(t, ts.Truncate(time.Millisecond), a.Truncate(time.Millisecond))
}

func TestSnapshot_FailureMessageAndElapsed(t *testing.T) {
	end := t0.Add(90 * time.Second)
	snapshot := Snapshot{
		CompletedSteps: []StepStatusRecord{
			{StepName: "A", Status: StatusSuccess, Message: "ok"},
			{StepName: "B", Status: StatusFailed, Message: "Error: E\nCause: C"},
		},
		Status:    ExecutionFailed,
		StartTime: t0,
		EndTime:   &end,
	}

	assert.False(t, snapshot.Running())
	assert.False(t, snapshot.Succeeded())
	assert.Equal(t, "Error: E\nCause: C", snapshot.FailureMessage())
	assert.Equal(t, 90*time.Second, snapshot.Elapsed(time.Now()))
	assert.True(t, StatusRuntimeError.IsFailure())
	assert.False(t, StatusSuccess.IsFailure())
}
