package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	mu        sync.Mutex
	createErr error
	removeErr error
	created   []ProvisionRequest
	removed   []string
	n         int
}

func (f *fakeProvisioner) CreateRemoteParticipant(_ context.Context, req ProvisionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.n++
	return fmt.Sprintf("PA_%d", f.n), nil
}

func (f *fakeProvisioner) RemoveParticipant(_ context.Context, room, pid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, room+"/"+pid)
	return f.removeErr
}

type recordedEvent struct {
	call  Call
	event EventType
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Notify(_ context.Context, c Call, ev EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{call: c, event: ev})
}

func (f *fakeNotifier) types() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.event)
	}
	return out
}

func (f *fakeNotifier) last() recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestRegistry() (*Registry, *fakeProvisioner, *fakeNotifier, *fakeClock) {
	prov := &fakeProvisioner{}
	n := &fakeNotifier{}
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(Config{InboundTrunkID: "ST_in", OutboundTrunkID: "ST_out"}, prov, n, nil)
	r.clock = clk.now
	return r, prov, n, clk
}

func outbound() CreateRequest {
	return CreateRequest{Direction: DirectionOutbound, PhoneNumber: "+14155550100", RoomName: "room-1"}
}

func TestCreateCall_GeneratesUniqueIDs(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := r.CreateCall(context.Background(), outbound())
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, r.ListActive(), 50)
}

func TestCreateCall_RejectsDuplicateSuppliedID(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	req := outbound()
	req.CallID = "fixed"
	_, err := r.CreateCall(context.Background(), req)
	require.NoError(t, err)
	_, err = r.CreateCall(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateCall)
}

func TestCreateCall_RequiresTrunk(t *testing.T) {
	r := NewRegistry(Config{InboundTrunkID: "ST_in"}, &fakeProvisioner{}, nil, nil)
	_, err := r.CreateCall(context.Background(), outbound())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestProvision_OutboundRings(t *testing.T) {
	r, prov, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())

	pid, err := r.Provision(context.Background(), id)
	require.NoError(t, err)
	c, ok := r.Get(id)
	require.True(t, ok, "expected call to be active")
	assert.Equal(t, CallStatusRinging, c.Status)
	assert.Equal(t, pid, c.RemoteParticipantID)
	assert.Equal(t, "ST_out", prov.created[0].TrunkID)
	assert.Equal(t, []EventType{EventCallInitiated}, n.types())
}

func TestProvision_InboundConnects(t *testing.T) {
	r, _, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), CreateRequest{Direction: DirectionInbound, PhoneNumber: "+1", RoomName: "r"})

	_, err := r.Provision(context.Background(), id)
	require.NoError(t, err)
	c, _ := r.Get(id)
	assert.Equal(t, CallStatusConnected, c.Status)
	assert.Equal(t, EventCallStarted, n.last().event)
}

func TestProvision_FailureMarksFailedAndRemoves(t *testing.T) {
	r, prov, n, clk := newTestRegistry()
	prov.createErr = errors.New("trunk rejected")
	id, _ := r.CreateCall(context.Background(), outbound())
	clk.t = clk.t.Add(2 * time.Second)

	_, err := r.Provision(context.Background(), id)
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, id, perr.CallID)
	_, ok := r.Get(id)
	assert.False(t, ok, "failed call must leave the active set")

	ev := n.last()
	assert.Equal(t, EventCallFailed, ev.event)
	assert.Equal(t, CallStatusFailed, ev.call.Status)
	require.NotNil(t, ev.call.EndTime)
	require.NotNil(t, ev.call.DurationSeconds)
	assert.Equal(t, 2, *ev.call.DurationSeconds)
}

func TestUpdateStatus_FollowsStateMachine(t *testing.T) {
	r, _, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())
	_, _ = r.Provision(context.Background(), id)

	assert.False(t, r.UpdateStatus(context.Background(), id, CallStatusInitiated, nil), "ringing -> initiated")
	require.True(t, r.UpdateStatus(context.Background(), id, CallStatusConnected, map[string]any{"recording_url": "https://rec/1", "carrier": "x"}))

	c, _ := r.Get(id)
	assert.Equal(t, CallStatusConnected, c.Status)
	assert.Equal(t, "https://rec/1", c.RecordingURL)
	assert.Equal(t, "x", c.Metadata["carrier"])
	assert.Equal(t, EventCallStatusChanged, n.last().event)
}

func TestUpdateStatus_TerminalFinalizesOnce(t *testing.T) {
	r, prov, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())
	_, _ = r.Provision(context.Background(), id)

	require.True(t, r.UpdateStatus(context.Background(), id, CallStatusBusy, nil))
	_, ok := r.Get(id)
	assert.False(t, ok, "terminal call must leave the active set")
	assert.Len(t, prov.removed, 1)
	assert.False(t, r.UpdateStatus(context.Background(), id, CallStatusConnected, nil))
	assert.False(t, r.EndCall(context.Background(), id), "second termination must be rejected")

	ev := n.last()
	assert.Equal(t, EventCallEnded, ev.event)
	assert.Equal(t, CallStatusBusy, ev.call.Status)
}

func TestUpdateStatus_UnknownCall(t *testing.T) {
	r, _, n, _ := newTestRegistry()
	assert.False(t, r.UpdateStatus(context.Background(), "nope", CallStatusConnected, nil))
	assert.Empty(t, n.types())
}

func TestEndCall_ComputesDurationAndNotifies(t *testing.T) {
	r, prov, n, clk := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())
	pid, _ := r.Provision(context.Background(), id)
	clk.t = clk.t.Add(90*time.Second + 600*time.Millisecond)

	require.True(t, r.EndCall(context.Background(), id))
	ev := n.last()
	assert.Equal(t, EventCallEnded, ev.event)
	assert.Equal(t, CallStatusCompleted, ev.call.Status)
	require.NotNil(t, ev.call.DurationSeconds)
	assert.Equal(t, 91, *ev.call.DurationSeconds)
	assert.Equal(t, []string{"room-1/" + pid}, prov.removed)
}

func TestEndCall_RemovalFailureDoesNotBlock(t *testing.T) {
	r, prov, _, _ := newTestRegistry()
	prov.removeErr = errors.New("gone")
	id, _ := r.CreateCall(context.Background(), outbound())
	_, _ = r.Provision(context.Background(), id)

	assert.True(t, r.EndCall(context.Background(), id))
	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestEndCall_UnknownHasNoSideEffects(t *testing.T) {
	r, prov, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())

	assert.False(t, r.EndCall(context.Background(), "missing"))
	assert.Empty(t, prov.removed)
	assert.Empty(t, n.types())
	_, ok := r.Get(id)
	assert.True(t, ok, "other calls must be untouched")
}

func TestEndCall_ConcurrentOnlyOneWins(t *testing.T) {
	r, _, n, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())
	_, _ = r.Provision(context.Background(), id)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.EndCall(context.Background(), id) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	ended := 0
	for _, ev := range n.types() {
		if ev == EventCallEnded {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
}

func TestAppendTranscript(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())

	assert.True(t, r.AppendTranscript(context.Background(), id, TranscriptEntry{Role: "user", Text: "hello"}))
	assert.True(t, r.AppendTranscript(context.Background(), id, TranscriptEntry{Role: "agent", Text: "hi"}))
	assert.False(t, r.AppendTranscript(context.Background(), id, TranscriptEntry{Role: "agent", Text: " "}), "empty text")
	assert.False(t, r.AppendTranscript(context.Background(), "missing", TranscriptEntry{Role: "user", Text: "x"}), "unknown call")

	c, _ := r.Get(id)
	require.Len(t, c.Transcript, 2)
	assert.Equal(t, "hello", c.Transcript[0].Text)
	assert.Equal(t, "hi", c.Transcript[1].Text)
	assert.NotEmpty(t, c.Transcript[0].Timestamp)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	id, _ := r.CreateCall(context.Background(), outbound())
	c, _ := r.Get(id)
	c.Metadata["mutated"] = true
	c.Transcript = append(c.Transcript, TranscriptEntry{Text: "x"})

	again, _ := r.Get(id)
	assert.NotContains(t, again.Metadata, "mutated")
	assert.Empty(t, again.Transcript)
}

func TestCleanup_EndsEverything(t *testing.T) {
	r, _, n, _ := newTestRegistry()
	for i := 0; i < 3; i++ {
		id, _ := r.CreateCall(context.Background(), outbound())
		_, _ = r.Provision(context.Background(), id)
	}
	assert.Equal(t, 3, r.Cleanup(context.Background()))
	assert.Empty(t, r.ListActive())
	assert.Equal(t, EventCallEnded, n.last().event)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]CallStatus{
		"in-progress": CallStatusConnected,
		"no-answer":   CallStatusNoAnswer,
		"completed":   CallStatusCompleted,
		"busy":        CallStatusBusy,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseStatus("bogus")
	assert.False(t, ok)
}
