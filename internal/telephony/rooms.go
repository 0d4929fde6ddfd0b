package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livekit/protocol/livekit"
)

const (
	DefaultRoomEmptyTimeout    = 300
	DefaultRoomMaxParticipants = 10
)

var ErrRoomNotFound = errors.New("telephony: room not found")

// RoomService creates and looks up media rooms.
type RoomService struct {
	API RoomAPI
	Log *slog.Logger

	EmptyTimeout    uint32
	MaxParticipants uint32
}

func (s *RoomService) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *RoomService) find(ctx context.Context, name string) (*livekit.Room, error) {
	res, err := s.API.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{name}})
	if err != nil {
		return nil, fmt.Errorf("telephony: list rooms: %w", err)
	}
	for _, r := range res.GetRooms() {
		if r.GetName() == name {
			return r, nil
		}
	}
	return nil, ErrRoomNotFound
}

// EnsureRoom creates the room unless it already exists.
func (s *RoomService) EnsureRoom(ctx context.Context, name string) error {
	if s.API == nil {
		return errors.New("telephony: room client is nil")
	}
	if _, err := s.find(ctx, name); err == nil {
		s.logger().Debug("room already exists", "room_name", name)
		return nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		s.logger().Warn("room lookup failed, creating", "room_name", name, "err", err)
	}

	empty, limit := s.EmptyTimeout, s.MaxParticipants
	if empty == 0 {
		empty = DefaultRoomEmptyTimeout
	}
	if limit == 0 {
		limit = DefaultRoomMaxParticipants
	}
	if _, err := s.API.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    empty,
		MaxParticipants: limit,
	}); err != nil {
		return fmt.Errorf("telephony: create room: %w", err)
	}
	s.logger().Info("room created", "room_name", name)
	return nil
}

// RoomSID returns the server id of a room.
func (s *RoomService) RoomSID(ctx context.Context, name string) (string, error) {
	if s.API == nil {
		return "", errors.New("telephony: room client is nil")
	}
	r, err := s.find(ctx, name)
	if err != nil {
		return "", err
	}
	return r.GetSid(), nil
}
