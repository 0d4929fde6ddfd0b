package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-telephony/internal/calls"
)

const DefaultRoomPrefix = "agent_call"

// InboundCallRequest is an inbound call event after provider parsing.
type InboundCallRequest struct {
	PhoneNumber string         `json:"phone_number"`
	CallerID    string         `json:"caller_id,omitempty"`
	CallID      string         `json:"call_id,omitempty"`
	RoomName    string         `json:"room_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InboundCallResult describes the call that was set up.
type InboundCallResult struct {
	CallID        string           `json:"call_id"`
	RoomName      string           `json:"room_name"`
	PhoneNumber   string           `json:"phone_number"`
	ParticipantID string           `json:"participant_id"`
	Status        calls.CallStatus `json:"status"`
}

// CallRegistry is what inbound processing needs from the call registry.
type CallRegistry interface {
	CreateCall(ctx context.Context, req calls.CreateRequest) (string, error)
	Provision(ctx context.Context, callID string) (string, error)
}

type RoomEnsurer interface {
	EnsureRoom(ctx context.Context, name string) error
}

// InboundService routes an inbound call into a media room and registers it.
type InboundService struct {
	Calls      CallRegistry
	Rooms      RoomEnsurer
	RoomPrefix string
	Log        *slog.Logger
	Now        func() time.Time

	// OnConnected runs after the call is provisioned, e.g. to open a session.
	OnConnected func(ctx context.Context, res InboundCallResult)
}

// RoomNameFor builds "<prefix>_<yyyymmdd_hhmmss>_<number>".
func (s *InboundService) RoomNameFor(phone string) string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	prefix := s.RoomPrefix
	if prefix == "" {
		prefix = DefaultRoomPrefix
	}
	return fmt.Sprintf("%s_%s_%s", prefix, now().UTC().Format("20060102_150405"), cleanNumber(phone))
}

func (s *InboundService) Handle(ctx context.Context, req InboundCallRequest) (InboundCallResult, error) {
	if s.Calls == nil {
		return InboundCallResult{}, errors.New("telephony: call registry not configured")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return InboundCallResult{}, ErrUnsupportedFormat
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	room := req.RoomName
	if room == "" {
		room = s.RoomNameFor(req.PhoneNumber)
	}
	log = log.With("room_name", room, "phone_number", req.PhoneNumber)

	if s.Rooms != nil {
		if err := s.Rooms.EnsureRoom(ctx, room); err != nil {
			return InboundCallResult{}, err
		}
	}

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.CallerID != "" {
		meta["caller_id"] = req.CallerID
	}

	id, err := s.Calls.CreateCall(ctx, calls.CreateRequest{
		CallID:      req.CallID,
		Direction:   calls.DirectionInbound,
		PhoneNumber: req.PhoneNumber,
		RoomName:    room,
		Metadata:    meta,
	})
	if err != nil {
		return InboundCallResult{}, err
	}

	pid, err := s.Calls.Provision(ctx, id)
	if err != nil {
		return InboundCallResult{CallID: id, RoomName: room, PhoneNumber: req.PhoneNumber, Status: calls.CallStatusFailed}, err
	}

	res := InboundCallResult{
		CallID:        id,
		RoomName:      room,
		PhoneNumber:   req.PhoneNumber,
		ParticipantID: pid,
		Status:        calls.CallStatusConnected,
	}
	log.Info("inbound call connected", "call_id", id)
	if s.OnConnected != nil {
		s.OnConnected(ctx, res)
	}
	return res, nil
}
