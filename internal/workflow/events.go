package workflow

import "time"

// EventType names a line-state or document-state change announced to
// external collaborators (notification delivery, audit).
type EventType string

const (
	EventDocumentSubmitted EventType = "document_submitted"
	EventLineApproved      EventType = "line_approved"
	EventLineRejected      EventType = "line_rejected"
	EventLineDelegated     EventType = "line_delegated"
	EventLineSkipped       EventType = "line_skipped"
	EventLineAcknowledged  EventType = "line_acknowledged"
	EventDocumentApproved  EventType = "document_approved"
	EventDocumentRejected  EventType = "document_rejected"
	EventDocumentWithdrawn EventType = "document_withdrawn"
)

// Event describes a single committed state change. Delivery is external and
// best-effort: a failure to deliver never affects the transition itself.
type Event struct {
	Type       EventType `json:"event_type"`
	DocumentID string    `json:"document_id"`
	LineID     string    `json:"line_id,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}
