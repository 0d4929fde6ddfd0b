// Package tools exposes call-control and appointment operations in the shape a
// conversational agent consumes: every call returns a Result whose Message can
// be read aloud, never a Go error.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-telephony/internal/calls"
	"voice-telephony/internal/notify"
	"voice-telephony/internal/telephony"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	OutboundRoomPrefix = "outbound_call"
)

// CallInfo is the tool view of a call.
type CallInfo struct {
	CallID            string           `json:"call_id"`
	PhoneNumber       string           `json:"phone_number"`
	Status            calls.CallStatus `json:"status"`
	Direction         calls.Direction  `json:"direction"`
	StartTime         *string          `json:"start_time"`
	DurationSeconds   *int             `json:"duration_seconds"`
	RoomName          string           `json:"room_name"`
	TranscriptEntries int              `json:"transcript_entries"`
}

// Result is returned by every tool.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	CallID      string           `json:"call_id,omitempty"`
	PhoneNumber string           `json:"phone_number,omitempty"`
	RoomName    string           `json:"room_name,omitempty"`
	CallStatus  calls.CallStatus `json:"call_status,omitempty"`
	Call        *CallInfo        `json:"call,omitempty"`

	ActiveCalls []CallInfo `json:"active_calls,omitempty"`
	TotalCalls  *int       `json:"total_calls,omitempty"`

	IsValid          *bool  `json:"is_valid,omitempty"`
	OriginalNumber   string `json:"original_number,omitempty"`
	NormalizedNumber string `json:"normalized_number,omitempty"`

	Payload *AppointmentPayload `json:"normalized_payload,omitempty"`

	Error string `json:"error,omitempty"`
}

func errorResult(msg string) Result { return Result{Status: StatusError, Message: msg} }

// CallControl is what the telephony tools need from the call registry.
type CallControl interface {
	CreateCall(ctx context.Context, req calls.CreateRequest) (string, error)
	Provision(ctx context.Context, callID string) (string, error)
	Get(callID string) (calls.Call, bool)
	EndCall(ctx context.Context, callID string) bool
	ListActive() []calls.Call
}

// Slots caps concurrent outbound calls, one slot per call id.
// utils.CallSlots implements it. Release of an unheld slot is a no-op.
type Slots interface {
	Acquire(ctx context.Context, callID string) (bool, error)
	Release(ctx context.Context, callID string) error
}

// OutboundRequest asks for an outbound call.
type OutboundRequest struct {
	PhoneNumber       string `json:"phone_number" binding:"required"`
	Purpose           string `json:"purpose"`
	AgentInstructions string `json:"agent_instructions"`
}

// TelephonyTools places and manages calls on behalf of an agent or operator.
type TelephonyTools struct {
	Calls CallControl
	Rooms telephony.RoomEnsurer
	Slots Slots
	Log   *slog.Logger
	Now   func() time.Time
}

func (t *TelephonyTools) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

func (t *TelephonyTools) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// OutboundRoomName builds "outbound_call_<yyyymmdd_hhmmss>_<digits>".
func (t *TelephonyTools) OutboundRoomName(normalized string) string {
	return fmt.Sprintf("%s_%s_%s", OutboundRoomPrefix, t.now().UTC().Format("20060102_150405"), strings.TrimPrefix(normalized, "+"))
}

// MakeOutboundCall validates the number, creates the room and dials out.
func (t *TelephonyTools) MakeOutboundCall(ctx context.Context, req OutboundRequest) Result {
	if t.Calls == nil {
		return errorResult("Telephony is not configured. Outbound calls are not available.")
	}
	if !telephony.ValidPhone(req.PhoneNumber) {
		return errorResult(fmt.Sprintf("The phone number '%s' appears to be invalid. Please provide a valid phone number.", req.PhoneNumber))
	}
	number := telephony.NormalizePhone(req.PhoneNumber)
	room := t.OutboundRoomName(number)
	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		purpose = "a call"
	}
	log := t.logger().With("phone_number", number, "room_name", room, "purpose", purpose)

	fail := func(err error) Result {
		log.Error("outbound call failed", "err", err)
		return Result{
			Status:  StatusError,
			Message: fmt.Sprintf("Failed to initiate call to %s. Please try again later.", number),
			Error:   err.Error(),
		}
	}

	// The id is chosen up front so the slot can be keyed by it.
	id := string(calls.DirectionOutbound) + "_" + uuid.NewString()
	log = log.With("call_id", id)

	if t.Slots != nil {
		ok, err := t.Slots.Acquire(ctx, id)
		if err != nil {
			return fail(fmt.Errorf("acquire outbound slot: %w", err))
		}
		if !ok {
			log.Warn("outbound call limit reached")
			return errorResult("All outbound lines are busy right now. Please try again in a few minutes.")
		}
	}

	if t.Rooms != nil {
		if err := t.Rooms.EnsureRoom(ctx, room); err != nil {
			t.releaseSlot(ctx, id)
			return fail(err)
		}
	}

	meta := map[string]any{"purpose": purpose}
	if req.AgentInstructions != "" {
		meta["agent_instructions"] = req.AgentInstructions
	}
	if _, err := t.Calls.CreateCall(ctx, calls.CreateRequest{
		CallID:      id,
		Direction:   calls.DirectionOutbound,
		PhoneNumber: number,
		RoomName:    room,
		Metadata:    meta,
	}); err != nil {
		t.releaseSlot(ctx, id)
		if errors.Is(err, calls.ErrConfiguration) {
			log.Error("outbound trunk not configured", "err", err)
			return errorResult("Outbound calling is not configured. Please contact support.")
		}
		return fail(err)
	}

	// A failed dial finalizes the call. SlotReleaser also sees its
	// call_failed; release is idempotent.
	if _, err := t.Calls.Provision(ctx, id); err != nil {
		t.releaseSlot(ctx, id)
		res := fail(err)
		res.CallID = id
		return res
	}

	status := calls.CallStatusRinging
	if c, ok := t.Calls.Get(id); ok {
		status = c.Status
	}
	log.Info("outbound call initiated")
	return Result{
		Status:      StatusOK,
		Message:     fmt.Sprintf("Call initiated to %s for %s. The call is now ringing.", number, purpose),
		CallID:      id,
		PhoneNumber: number,
		RoomName:    room,
		CallStatus:  status,
	}
}

func (t *TelephonyTools) releaseSlot(ctx context.Context, callID string) {
	if t.Slots == nil {
		return
	}
	if err := t.Slots.Release(ctx, callID); err != nil {
		t.logger().Warn("release outbound slot failed", "call_id", callID, "err", err)
	}
}

func infoOf(c calls.Call) CallInfo {
	info := CallInfo{
		CallID:            c.CallID,
		PhoneNumber:       c.PhoneNumber,
		Status:            c.Status,
		Direction:         c.Direction,
		DurationSeconds:   c.DurationSeconds,
		RoomName:          c.RoomName,
		TranscriptEntries: len(c.Transcript),
	}
	if c.StartTime != nil {
		s := c.StartTime.UTC().Format(time.RFC3339Nano)
		info.StartTime = &s
	}
	return info
}

// GetCallStatus reports on an active call.
func (t *TelephonyTools) GetCallStatus(_ context.Context, callID string) Result {
	if t.Calls == nil {
		return Result{Status: StatusError, Message: "Telephony is not configured.", CallID: callID}
	}
	c, ok := t.Calls.Get(callID)
	if !ok {
		return Result{Status: StatusError, Message: fmt.Sprintf("Call %s not found or no longer active.", callID), CallID: callID}
	}
	info := infoOf(c)
	return Result{
		Status:      StatusOK,
		CallID:      c.CallID,
		PhoneNumber: c.PhoneNumber,
		RoomName:    c.RoomName,
		CallStatus:  c.Status,
		Call:        &info,
	}
}

// EndCall hangs up an active call.
func (t *TelephonyTools) EndCall(ctx context.Context, callID string) Result {
	if t.Calls == nil {
		return Result{Status: StatusError, Message: "Telephony is not configured.", CallID: callID}
	}
	if !t.Calls.EndCall(ctx, callID) {
		return Result{Status: StatusError, Message: fmt.Sprintf("Failed to end call %s. Call may not be active.", callID), CallID: callID}
	}
	t.logger().Info("call ended via tool", "call_id", callID)
	return Result{Status: StatusOK, Message: fmt.Sprintf("Call %s has been ended successfully.", callID), CallID: callID}
}

// ListActiveCalls lists every live call.
func (t *TelephonyTools) ListActiveCalls(context.Context) Result {
	zero := 0
	if t.Calls == nil {
		return Result{Status: StatusError, Message: "Telephony is not configured.", ActiveCalls: []CallInfo{}, TotalCalls: &zero}
	}
	active := t.Calls.ListActive()
	out := make([]CallInfo, 0, len(active))
	for _, c := range active {
		out = append(out, infoOf(c))
	}
	n := len(out)
	return Result{Status: StatusOK, ActiveCalls: out, TotalCalls: &n}
}

// ValidatePhoneNumber checks and normalizes a number.
func (t *TelephonyTools) ValidatePhoneNumber(_ context.Context, number string) Result {
	valid := telephony.ValidPhone(number)
	if !valid {
		return Result{
			Status:         StatusError,
			IsValid:        &valid,
			OriginalNumber: number,
			Message:        fmt.Sprintf("Phone number '%s' is not valid. Please provide a valid phone number with area code.", number),
		}
	}
	normalized := telephony.NormalizePhone(number)
	return Result{
		Status:           StatusOK,
		IsValid:          &valid,
		OriginalNumber:   number,
		NormalizedNumber: normalized,
		Message:          fmt.Sprintf("Phone number '%s' is valid and normalized to '%s'.", number, normalized),
	}
}

// SlotReleaser frees the outbound slot once a capped call terminates.
type SlotReleaser struct {
	Slots Slots
}

var _ notify.Sink = (*SlotReleaser)(nil)

func (s *SlotReleaser) Name() string { return "outbound-slots" }

func (s *SlotReleaser) Send(ctx context.Context, ev notify.Event) error {
	if s.Slots == nil || ev.Direction != calls.DirectionOutbound {
		return nil
	}
	if ev.EventType != calls.EventCallEnded && ev.EventType != calls.EventCallFailed {
		return nil
	}
	return s.Slots.Release(ctx, ev.CallID)
}
