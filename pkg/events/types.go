package events

import "time"

// EventType identifies the kind of event emitted during a session.
type EventType string

const (
	EventStudyLoaded     EventType = "study.loaded"
	EventTrialSetup      EventType = "trial.setup"
	EventTrialCompleted  EventType = "trial.completed"
	EventExampleAdded    EventType = "example.added"
	EventExampleRemoved  EventType = "example.removed"
	EventExampleRejected EventType = "example.rejected"
	EventGuessSubmitted  EventType = "guess.submitted"
	EventAdvanceRejected EventType = "advance.rejected"
	EventRecordEmitted   EventType = "record.emitted"
	EventRecordFailed    EventType = "record.failed"
)

// Event is a single session event. TrialID is empty for events that are
// not tied to one trial.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TrialID   string    `json:"trial_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(typ EventType, trialID string, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		TrialID:   trialID,
		Data:      data,
	}
}
