package deployplan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reconstruct derives step status records from an execution history.
// It is pure: the same events always yield the same records. Failures
// are returned among the completed steps.
func Reconstruct(events []ExecutionEvent) (completed []StepStatusRecord, started []StepStatusRecord) {
	byID := make(map[int64]ExecutionEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	var failures []StepStatusRecord
	for _, e := range events {
		switch e.Kind {
		case EventStateEntered:
			started = append(started, StepStatusRecord{
				StepName:  e.StateName,
				Status:    StatusStarted,
				Timestamp: EventTime(e.Timestamp, e.ID),
			})
		case EventStateExited:
			completed = append(completed, StepStatusRecord{
				StepName:  e.StateName,
				Status:    StatusSuccess,
				Message:   outputMessage(e.Output),
				Timestamp: EventTime(e.Timestamp, e.ID),
			})
		case EventExecutionFailed:
			failures = append(failures, failureRecord(e, byID))
		}
	}

	completed = append(completed, failures...)
	return distinct(completed), distinct(started)
}

func failureRecord(failed ExecutionEvent, byID map[int64]ExecutionEvent) StepStatusRecord {
	record := StepStatusRecord{
		StepName:  PlanStepName,
		Status:    StatusRuntimeError,
		Message:   FailureMessage(failed.Error, failed.Cause),
		Timestamp: EventTime(failed.Timestamp, failed.ID),
	}
	if failed.PreviousID == 0 {
		return record
	}

	record.Status = StatusFailed
	if name, ok := failingState(failed.PreviousID, byID); ok {
		record.StepName = name
	}
	return record
}

// failingState walks the previous-event links back to the innermost state
// that was entered but not exited on the way.
func failingState(id int64, byID map[int64]ExecutionEvent) (string, bool) {
	exited := make(map[string]bool)
	seen := make(map[int64]bool)
	for id != 0 && !seen[id] {
		seen[id] = true
		e, ok := byID[id]
		if !ok {
			return "", false
		}
		switch e.Kind {
		case EventStateExited:
			exited[e.StateName] = true
		case EventStateEntered:
			if !exited[e.StateName] {
				return e.StateName, true
			}
		}
		id = e.PreviousID
	}
	return "", false
}

// FailureMessage formats the error and cause of a failure
func FailureMessage(errorText, cause string) string {
	return fmt.Sprintf("Error: %s\nCause: %s", errorText, cause)
}

// outputMessage extracts a printable message from a state output, empty when unparseable
func outputMessage(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}

	var value interface{}
	dec := json.NewDecoder(strings.NewReader(output))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return ""
	}

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}

func distinct(records []StepStatusRecord) []StepStatusRecord {
	if len(records) == 0 {
		return records
	}
	seen := make(map[RecordKey]bool, len(records))
	out := make([]StepStatusRecord, 0, len(records))
	for _, r := range records {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}
