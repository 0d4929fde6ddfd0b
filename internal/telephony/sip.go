package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/livekit/protocol/livekit"

	"voice-telephony/internal/calls"
)

// SIPProvisioner dials SIP participants into rooms and removes them again.
//
// IMPORTANT:
// - Keep this adapter free of call state; the registry owns it.
// - The id it returns is the participant identity, which is what removal keys on.
type SIPProvisioner struct {
	SIP   SIPAPI
	Rooms RoomAPI
}

var _ calls.Provisioner = (*SIPProvisioner)(nil)

func (p *SIPProvisioner) CreateRemoteParticipant(ctx context.Context, req calls.ProvisionRequest) (string, error) {
	if p.SIP == nil {
		return "", errors.New("telephony: sip client is nil")
	}
	info, err := p.SIP.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          req.TrunkID,
		SipCallTo:           req.PhoneNumber,
		RoomName:            req.RoomName,
		ParticipantIdentity: req.ParticipantIdentity,
		ParticipantName:     req.PhoneNumber,
	})
	if err != nil {
		return "", fmt.Errorf("telephony: create sip participant: %w", err)
	}
	if id := info.GetParticipantIdentity(); id != "" {
		return id, nil
	}
	if id := info.GetParticipantId(); id != "" {
		return id, nil
	}
	return req.ParticipantIdentity, nil
}

func (p *SIPProvisioner) RemoveParticipant(ctx context.Context, roomName, participantID string) error {
	if p.Rooms == nil {
		return errors.New("telephony: room client is nil")
	}
	_, err := p.Rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomName,
		Identity: participantID,
	})
	if err != nil {
		return fmt.Errorf("telephony: remove participant: %w", err)
	}
	return nil
}
