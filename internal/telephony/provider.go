package telephony

import (
	"context"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// SIPAPI is the subset of the LiveKit SIP service used to dial participants.
//
// Rules:
// - No media server SDK calls outside this package and internal/recording.
// - Keep request/response types provider-agnostic at the package boundary.
type SIPAPI interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
}

// RoomAPI is the subset of the LiveKit room service used here.
type RoomAPI interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error)
}

// ServerConfig locates the media server API.
type ServerConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// Clients bundles the server API clients built from one ServerConfig.
type Clients struct {
	Rooms  *lksdk.RoomServiceClient
	SIP    *lksdk.SIPClient
	Egress *lksdk.EgressClient
}

func NewClients(cfg ServerConfig) Clients {
	return Clients{
		Rooms:  lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		SIP:    lksdk.NewSIPClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		Egress: lksdk.NewEgressClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

var (
	_ SIPAPI  = (*lksdk.SIPClient)(nil)
	_ RoomAPI = (*lksdk.RoomServiceClient)(nil)
)
