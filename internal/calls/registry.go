package calls

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProvisionRequest asks the media layer to dial (or attach) a SIP participant.
type ProvisionRequest struct {
	TrunkID             string
	PhoneNumber         string
	RoomName            string
	ParticipantIdentity string
}

// Provisioner creates and removes remote SIP participants.
type Provisioner interface {
	CreateRemoteParticipant(ctx context.Context, req ProvisionRequest) (string, error)
	RemoveParticipant(ctx context.Context, roomName, participantID string) error
}

// Notifier receives lifecycle events. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, call Call, event EventType)
}

type Config struct {
	InboundTrunkID  string
	OutboundTrunkID string

	// CleanupStepTimeout bounds each EndCall issued by Cleanup.
	CleanupStepTimeout time.Duration
}

const DefaultCleanupStepTimeout = 10 * time.Second

// CreateRequest describes a new call. CallID is optional.
type CreateRequest struct {
	CallID      string
	Direction   Direction
	PhoneNumber string
	RoomName    string
	Metadata    map[string]any
}

type entry struct {
	call Call
	// ending is set once termination has been claimed; the record is gone
	// from the map shortly after.
	ending bool
}

// Registry is the authority for active calls.
//
// The map and records are guarded by mu. Provisioner and Notifier calls
// happen outside the lock.
type Registry struct {
	mu     sync.Mutex
	active map[string]*entry

	cfg      Config
	prov     Provisioner
	notifier Notifier
	log      *slog.Logger
	clock    func() time.Time
	newID    func() string
}

func NewRegistry(cfg Config, prov Provisioner, notifier Notifier, log *slog.Logger) *Registry {
	if cfg.CleanupStepTimeout <= 0 {
		cfg.CleanupStepTimeout = DefaultCleanupStepTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		active:   make(map[string]*entry),
		cfg:      cfg,
		prov:     prov,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

func (r *Registry) trunkFor(d Direction) string {
	if d == DirectionInbound {
		return r.cfg.InboundTrunkID
	}
	return r.cfg.OutboundTrunkID
}

// CreateCall registers a call in status initiated and returns its id.
func (r *Registry) CreateCall(_ context.Context, req CreateRequest) (string, error) {
	if !req.Direction.Valid() {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidInput, req.Direction)
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return "", fmt.Errorf("%w: phone_number is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.RoomName) == "" {
		return "", fmt.Errorf("%w: room_name is required", ErrInvalidInput)
	}
	if r.trunkFor(req.Direction) == "" {
		return "", fmt.Errorf("%w: no %s trunk", ErrConfiguration, req.Direction)
	}

	id := req.CallID
	if id == "" {
		id = string(req.Direction) + "_" + r.newID()
	}

	meta := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	start := r.clock().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateCall, id)
	}
	r.active[id] = &entry{call: Call{
		CallID:      id,
		Direction:   req.Direction,
		PhoneNumber: req.PhoneNumber,
		RoomName:    req.RoomName,
		Status:      CallStatusInitiated,
		StartTime:   &start,
		Transcript:  []TranscriptEntry{},
		Metadata:    meta,
	}}
	r.log.Info("call created", "call_id", id, "direction", req.Direction, "room_name", req.RoomName)
	return id, nil
}

// Provision creates the remote participant for an initiated call. On success
// the call moves to ringing (outbound) or connected (inbound). On failure the
// call is finalized as failed, removed, and a *ProvisioningError is returned.
func (r *Registry) Provision(ctx context.Context, callID string) (string, error) {
	r.mu.Lock()
	e, ok := r.active[callID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	if e.ending || e.call.Status != CallStatusInitiated {
		status := e.call.Status
		r.mu.Unlock()
		return "", fmt.Errorf("%w: call %s is %s", ErrInvalidInput, callID, status)
	}
	req := ProvisionRequest{
		TrunkID:             r.trunkFor(e.call.Direction),
		PhoneNumber:         e.call.PhoneNumber,
		RoomName:            e.call.RoomName,
		ParticipantIdentity: "sip_" + callID,
	}
	direction := e.call.Direction
	r.mu.Unlock()

	if r.prov == nil {
		return "", r.failProvisioning(ctx, callID, fmt.Errorf("%w: no provisioner", ErrConfiguration))
	}
	pid, err := r.prov.CreateRemoteParticipant(ctx, req)
	if err != nil {
		return "", r.failProvisioning(ctx, callID, err)
	}

	next, event := CallStatusRinging, EventCallInitiated
	if direction == DirectionInbound {
		next, event = CallStatusConnected, EventCallStarted
	}

	r.mu.Lock()
	e, ok = r.active[callID]
	if !ok || e.ending || e.call.Status != CallStatusInitiated {
		r.mu.Unlock()
		// ended while we were dialing; don't leave the participant behind
		r.log.Warn("call ended during provisioning", "call_id", callID, "participant_id", pid)
		if rmErr := r.prov.RemoveParticipant(ctx, req.RoomName, pid); rmErr != nil {
			r.log.Warn("remove orphan participant failed", "call_id", callID, "err", rmErr)
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	e.call.RemoteParticipantID = pid
	e.call.Status = next
	snap := e.call.clone()
	r.mu.Unlock()

	r.log.Info("call provisioned", "call_id", callID, "participant_id", pid, "status", next)
	r.notify(ctx, snap, event)
	return pid, nil
}

func (r *Registry) failProvisioning(ctx context.Context, callID string, cause error) error {
	perr := &ProvisioningError{CallID: callID, Err: cause}
	r.log.Error("call provisioning failed", "call_id", callID, "err", cause)

	r.mu.Lock()
	e, ok := r.active[callID]
	if !ok || e.ending {
		r.mu.Unlock()
		return perr
	}
	e.ending = true
	r.finalizeLocked(e, CallStatusFailed)
	snap := e.call.clone()
	r.mu.Unlock()

	r.notify(ctx, snap, EventCallFailed)
	return perr
}

// UpdateStatus applies a state transition plus optional fields. It returns
// false for unknown calls and for transitions the state machine rejects.
// A terminal status finalizes and removes the call.
func (r *Registry) UpdateStatus(ctx context.Context, callID string, status CallStatus, fields map[string]any) bool {
	r.mu.Lock()
	e, ok := r.active[callID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("status update for unknown call", "call_id", callID, "status", status)
		return false
	}
	if e.ending || !CanTransition(e.call.Status, status) {
		from := e.call.Status
		r.mu.Unlock()
		r.log.Warn("status transition rejected", "call_id", callID, "from", from, "to", status)
		return false
	}

	applyFields(&e.call, fields)

	if !status.Terminal() {
		e.call.Status = status
		snap := e.call.clone()
		r.mu.Unlock()
		r.log.Info("call status updated", "call_id", callID, "status", status)
		r.notify(ctx, snap, EventCallStatusChanged)
		return true
	}

	e.ending = true
	r.mu.Unlock()
	event := EventCallEnded
	if status == CallStatusFailed {
		event = EventCallFailed
	}
	r.terminate(ctx, e, status, event)
	return true
}

var recognizedFields = map[string]func(c *Call, v string){
	"remote_participant_id": func(c *Call, v string) { c.RemoteParticipantID = v },
	"recording_url":         func(c *Call, v string) { c.RecordingURL = v },
	"room_name":             func(c *Call, v string) { c.RoomName = v },
}

func applyFields(c *Call, fields map[string]any) {
	for k, v := range fields {
		if set, ok := recognizedFields[k]; ok {
			if s, ok := v.(string); ok {
				set(c, s)
				continue
			}
		}
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		c.Metadata[k] = v
	}
}

// AppendTranscript appends one entry. Entries without text are ignored.
func (r *Registry) AppendTranscript(_ context.Context, callID string, e TranscriptEntry) bool {
	if strings.TrimSpace(e.Text) == "" {
		return false
	}
	if e.Timestamp == "" {
		e.Timestamp = r.clock().UTC().Format(time.RFC3339Nano)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok || rec.ending {
		return false
	}
	rec.call.Transcript = append(rec.call.Transcript, e)
	return true
}

// EndCall hangs up an active call: removes the remote participant (best-effort),
// marks it completed, notifies and forgets it.
func (r *Registry) EndCall(ctx context.Context, callID string) bool {
	r.mu.Lock()
	e, ok := r.active[callID]
	if !ok || e.ending {
		r.mu.Unlock()
		r.log.Warn("end requested for unknown call", "call_id", callID)
		return false
	}
	e.ending = true
	r.mu.Unlock()

	r.terminate(ctx, e, CallStatusCompleted, EventCallEnded)
	return true
}

// terminate runs after e.ending has been claimed.
func (r *Registry) terminate(ctx context.Context, e *entry, final CallStatus, event EventType) {
	r.mu.Lock()
	room, pid, id := e.call.RoomName, e.call.RemoteParticipantID, e.call.CallID
	r.mu.Unlock()

	if pid != "" && r.prov != nil {
		if err := r.prov.RemoveParticipant(ctx, room, pid); err != nil {
			r.log.Warn("remove participant failed", "call_id", id, "participant_id", pid, "err", err)
		}
	}

	r.mu.Lock()
	r.finalizeLocked(e, final)
	snap := e.call.clone()
	r.mu.Unlock()

	r.log.Info("call ended", "call_id", id, "status", final, "duration_seconds", *snap.DurationSeconds)
	r.notify(ctx, snap, event)
}

// finalizeLocked stamps the end time and duration and drops the record.
func (r *Registry) finalizeLocked(e *entry, final CallStatus) {
	end := r.clock().UTC()
	e.call.Status = final
	e.call.EndTime = &end
	if e.call.StartTime != nil {
		d := int(math.Round(end.Sub(*e.call.StartTime).Seconds()))
		e.call.DurationSeconds = &d
	} else {
		zero := 0
		e.call.DurationSeconds = &zero
	}
	delete(r.active, e.call.CallID)
}

func (r *Registry) notify(ctx context.Context, c Call, event EventType) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, c, event)
}

// Get returns a copy of an active call.
func (r *Registry) Get(callID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[callID]
	if !ok {
		return Call{}, false
	}
	return e.call.clone(), true
}

// ListActive returns copies of all active calls, oldest first.
func (r *Registry) ListActive() []Call {
	r.mu.Lock()
	out := make([]Call, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e.call.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartTime, out[j].StartTime
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return out[i].CallID < out[j].CallID
	})
	return out
}

// Cleanup ends every active call, each under its own timeout, and returns how
// many were ended.
func (r *Registry) Cleanup(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	ended := 0
	for _, id := range ids {
		stepCtx, cancel := context.WithTimeout(ctx, r.cfg.CleanupStepTimeout)
		if r.EndCall(stepCtx, id) {
			ended++
		}
		cancel()
	}
	r.log.Info("call registry cleaned up", "ended", ended, "total", len(ids))
	return ended
}
