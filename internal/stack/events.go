package stack

import "time"

// EventType enumerates structured plan run events.
type EventType string

const (
	RunStarted   EventType = "RUN_STARTED"
	RunCompleted EventType = "RUN_COMPLETED"

	BatchStarted EventType = "BATCH_STARTED"

	StackRunning   EventType = "STACK_RUNNING"
	StackSucceeded EventType = "STACK_SUCCEEDED"
	StackFailed    EventType = "STACK_FAILED"
	StackSkipped   EventType = "STACK_SKIPPED"
	StackCancelled EventType = "STACK_CANCELLED"
)

// Event is one observation emitted while a plan executes.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Action    string    `json:"action"`
	Stack     string    `json:"stack,omitempty"`
	Batch     int       `json:"batch"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"ts"`
}

type EventObserver interface {
	ObserveEvent(Event)
}

type EventObserverFunc func(Event)

func (f EventObserverFunc) ObserveEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}
