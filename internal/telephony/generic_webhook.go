package telephony

import (
	"errors"
	"strings"
)

var ErrUnsupportedFormat = errors.New("telephony: unsupported webhook format")

// GenericInbound is the provider-neutral inbound call payload.
type GenericInbound struct {
	PhoneNumber string         `json:"phone_number"`
	CallerID    string         `json:"caller_id"`
	CallID      string         `json:"call_id"`
	RoomName    string         `json:"room_name"`
	Metadata    map[string]any `json:"metadata"`
}

func (g GenericInbound) ToInboundCallRequest() (InboundCallRequest, error) {
	phone := normalizePhone(g.PhoneNumber)
	if phone == "" {
		return InboundCallRequest{}, ErrUnsupportedFormat
	}
	meta := make(map[string]any, len(g.Metadata)+1)
	for k, v := range g.Metadata {
		meta[k] = v
	}
	meta["source"] = "generic"
	return InboundCallRequest{
		PhoneNumber: phone,
		CallerID:    strings.TrimSpace(g.CallerID),
		CallID:      strings.TrimSpace(g.CallID),
		RoomName:    strings.TrimSpace(g.RoomName),
		Metadata:    meta,
	}, nil
}

// CompletionPayload reports the final state of a call.
type CompletionPayload struct {
	CallID       string         `json:"call_id"`
	Status       string         `json:"status"`
	RecordingURL string         `json:"recording_url"`
	Metadata     map[string]any `json:"metadata"`
}
