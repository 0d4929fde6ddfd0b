package calls

import (
	"time"

	"voice-telephony/internal/transcript"
)

// Call is an in-memory call session record.
//
// Records live only while the call is active; once a terminal status is
// reached the record is removed from the registry and discarded.
type Call struct {
	CallID    string    `json:"call_id"`
	Direction Direction `json:"direction"`

	PhoneNumber string `json:"phone_number"`
	RoomName    string `json:"room_name"`

	// RemoteParticipantID identifies the SIP participant in the media room.
	// It is only a handle; the participant may already be gone.
	RemoteParticipantID string `json:"remote_participant_id,omitempty"`

	Status CallStatus `json:"status"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// DurationSeconds is set together with EndTime.
	DurationSeconds *int `json:"duration_seconds,omitempty"`

	RecordingURL string `json:"recording_url,omitempty"`

	Transcript []TranscriptEntry `json:"transcript"`
	Metadata   map[string]any    `json:"metadata"`
}

type TranscriptEntry = transcript.Entry

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no_answer"
)

// EventType names a call lifecycle notification.
type EventType string

const (
	EventCallStarted       EventType = "call_started"
	EventCallInitiated     EventType = "call_initiated"
	EventCallEnded         EventType = "call_ended"
	EventCallFailed        EventType = "call_failed"
	EventCallStatusChanged EventType = "call_status_changed"
)

// clone returns a deep-enough copy for handing out of the registry.
func (c *Call) clone() Call {
	out := *c
	if c.StartTime != nil {
		t := *c.StartTime
		out.StartTime = &t
	}
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	out.Transcript = append([]TranscriptEntry(nil), c.Transcript...)
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}
