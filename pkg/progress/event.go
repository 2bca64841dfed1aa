// Package progress provides in-process pub/sub of workflow lifecycle and
// progress events, bounded event history, and detailed progress reports.
//
// The [Monitor] is transport-agnostic: subscribers implement [Subscriber]
// and bind whatever delivery mechanism they need. An in-memory channel
// adapter ships as [ChannelSubscriber].
package progress

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a progress event.
type EventType string

// Progress event types.
const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
	EventWorkflowPaused    EventType = "workflow_paused"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"
	EventProgressUpdate    EventType = "progress_update"
	EventTimeEstimate      EventType = "time_estimate_update"
	EventResourceUpdate    EventType = "resource_update"
	EventErrorOccurred     EventType = "error_occurred"
)

// Event is a single progress notification.
type Event struct {
	// EventID uniquely identifies the event.
	EventID string

	// Type classifies the event.
	Type EventType

	// ProjectID is the project the event belongs to.
	ProjectID string

	// WorkflowName is the workflow the event belongs to.
	WorkflowName string

	// StepName is set for step-scoped events, empty otherwise.
	StepName string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Data carries free-form event payload.
	Data map[string]any
}

// NewEvent creates an event with a fresh id and the current timestamp.
func NewEvent(eventType EventType, projectID, workflowName, stepName string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventID:      uuid.New().String(),
		Type:         eventType,
		ProjectID:    projectID,
		WorkflowName: workflowName,
		StepName:     stepName,
		Timestamp:    time.Now().UTC(),
		Data:         data,
	}
}

// ToMap returns a JSON-friendly representation of the event.
func (e Event) ToMap() map[string]any {
	m := map[string]any{
		"event_id":      e.EventID,
		"event_type":    string(e.Type),
		"project_id":    e.ProjectID,
		"workflow_name": e.WorkflowName,
		"timestamp":     e.Timestamp.Format(time.RFC3339),
		"data":          e.Data,
	}
	if e.StepName != "" {
		m["step_name"] = e.StepName
	}
	return m
}

// ToJSON serializes the event for wire transports.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}
