package audit

import "time"

// Event is an immutable, append-only record of an operator action taken
// through the call-control API.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block call control on audit failures.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// ActorUserID is the authenticated user causing the event.
	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	CallID string `json:"call_id,omitempty"`

	// Message is a short human-readable description for ops.
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCallPlaced     EventType = "call_placed"
	EventTypeCallEnded      EventType = "call_ended"
	EventTypeStatusOverride EventType = "status_override"
)

// Actor identifies who did something.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
