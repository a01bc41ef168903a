package audit

import "time"

// Event is an immutable outcome record for one call.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required so events can be joined to a call.
// - Emitting is best-effort; call handling never blocks on audit failures.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	RoomName  string    `json:"room_name,omitempty"`
	Type      EventType `json:"type"`

	// Message is a short human-readable description for ops.
	Message string `json:"message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventHangupScheduled  EventType = "auto_hangup_scheduled"
	EventHangupCancelled  EventType = "auto_hangup_cancelled"
	EventHangup           EventType = "auto_hangup"
	EventHangupFailed     EventType = "auto_hangup_failed"
	EventEndCallRequested EventType = "end_call_requested"

	EventRecordingStarted EventType = "recording_started"
	EventRecordingFailed  EventType = "recording_failed"
	EventRecordingResult  EventType = "recording_result"

	EventUploadSucceeded EventType = "upload_succeeded"
	EventUploadFailed    EventType = "upload_failed"
	EventHandedOff       EventType = "reconcile_handed_off"
)
