package notify

import (
	"time"

	"voice-telephony/internal/calls"
)

// Event is the flat payload sent to listeners for every call lifecycle change.
type Event struct {
	EventType           calls.EventType         `json:"event_type"`
	CallID              string                  `json:"call_id"`
	Direction           calls.Direction         `json:"direction"`
	PhoneNumber         string                  `json:"phone_number"`
	RoomName            string                  `json:"room_name"`
	Status              calls.CallStatus        `json:"status"`
	StartTime           *string                 `json:"start_time"`
	EndTime             *string                 `json:"end_time"`
	DurationSeconds     *int                    `json:"duration_seconds"`
	RemoteParticipantID *string                 `json:"remote_participant_id"`
	RecordingURL        string                  `json:"recording_url,omitempty"`
	Transcript          []calls.TranscriptEntry `json:"transcript"`
	Metadata            map[string]any          `json:"metadata"`
	Timestamp           string                  `json:"timestamp"`
}

// NewEvent snapshots c into an Event. Missing optional values encode as null.
func NewEvent(c calls.Call, ev calls.EventType, now time.Time) Event {
	out := Event{
		EventType:       ev,
		CallID:          c.CallID,
		Direction:       c.Direction,
		PhoneNumber:     c.PhoneNumber,
		RoomName:        c.RoomName,
		Status:          c.Status,
		StartTime:       isoTime(c.StartTime),
		EndTime:         isoTime(c.EndTime),
		DurationSeconds: c.DurationSeconds,
		RecordingURL:    c.RecordingURL,
		Transcript:      c.Transcript,
		Metadata:        c.Metadata,
		Timestamp:       now.UTC().Format(time.RFC3339Nano),
	}
	if c.RemoteParticipantID != "" {
		pid := c.RemoteParticipantID
		out.RemoteParticipantID = &pid
	}
	if out.Transcript == nil {
		out.Transcript = []calls.TranscriptEntry{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
