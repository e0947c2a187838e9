package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventKind labels a visit lifecycle transition.
type EventKind string

const (
	EventVisitCreated   EventKind = "visit.created"
	EventVisitRequested EventKind = "visit.requested"
	EventVisitApproved  EventKind = "visit.approved"
	EventVisitRejected  EventKind = "visit.rejected"
	EventEntryScanned   EventKind = "visit.entry_scanned"
	EventExitScanned    EventKind = "visit.exit_scanned"
	EventVisitExpired   EventKind = "visit.expired"
)

// Event is emitted from the lifecycle core on every state transition. Keep
// it transport-agnostic so sinks can fan out.
type Event struct {
	Kind      EventKind `json:"kind"`
	VisitID   uuid.UUID `json:"visit_id"`
	ActorID   uuid.UUID `json:"actor_id,omitempty"`
	ActorRole string    `json:"actor_role,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
