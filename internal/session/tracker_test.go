package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-telephony/internal/calls"
	"voice-telephony/internal/recording"
	"voice-telephony/internal/report"
	"voice-telephony/internal/tasks"
	"voice-telephony/internal/transcript"
)

type fakeRecorder struct {
	mu      sync.Mutex
	meta    *recording.Metadata
	started int
	stopped int
}

func (f *fakeRecorder) Start(context.Context) *recording.Metadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.meta
}

func (f *fakeRecorder) Stop(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return true
}

func (f *fakeRecorder) Metadata() *recording.Metadata { return f.meta }

type captureReporter struct {
	mu  sync.Mutex
	got []report.Context
}

func (c *captureReporter) Send(ctx context.Context, rc report.Context) report.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, rc)
	return report.Outcome{Sent: true}
}

type captureSink struct {
	entries map[string][]calls.TranscriptEntry
}

func (c *captureSink) AppendTranscript(_ context.Context, callID string, e calls.TranscriptEntry) bool {
	if c.entries == nil {
		c.entries = map[string][]calls.TranscriptEntry{}
	}
	c.entries[callID] = append(c.entries[callID], e)
	return true
}

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestTracker_StartRecordsAndRejectsDuplicate(t *testing.T) {
	rec := &fakeRecorder{meta: &recording.Metadata{EgressID: "EG_1", RecordingURL: "https://rec/r1.mp4"}}
	tr := &Tracker{NewRecorder: func(string) Recorder { return rec }, Clock: fixedClock()}

	info, err := tr.Start(context.Background(), StartRequest{RoomName: "r1", CallID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", info.RoomName)
	require.NotNil(t, info.Recording)
	assert.Equal(t, "EG_1", info.Recording.EgressID)
	assert.Equal(t, 1, rec.started)

	_, err = tr.Start(context.Background(), StartRequest{RoomName: "r1"})
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = tr.Start(context.Background(), StartRequest{RoomName: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTracker_ItemsMirrorToCall(t *testing.T) {
	sink := &captureSink{}
	tr := &Tracker{Calls: sink, Clock: fixedClock()}
	_, err := tr.Start(context.Background(), StartRequest{RoomName: "r1", CallID: "c1"})
	require.NoError(t, err)

	require.NoError(t, tr.AddItem(context.Background(), "r1", transcript.Message{Role: "assistant", Text: "Hello"}))
	require.NoError(t, tr.AddItem(context.Background(), "r1", transcript.Message{Role: "user", Content: []string{"I", "need help"}}))
	require.NoError(t, tr.AddItem(context.Background(), "r1", transcript.Message{Role: "user"}))

	got := sink.entries["c1"]
	require.Len(t, got, 2)
	assert.Equal(t, "assistant", got[0].Role)
	assert.Equal(t, "I need help", got[1].Text)

	info, ok := tr.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 3, info.Items)

	assert.ErrorIs(t, tr.AddItem(context.Background(), "nope", transcript.Message{Text: "x"}), ErrUnknownSession)
}

func TestTracker_MetricsMerge(t *testing.T) {
	tr := &Tracker{}
	_, err := tr.Start(context.Background(), StartRequest{RoomName: "r1"})
	require.NoError(t, err)

	require.NoError(t, tr.RecordMetrics("r1", map[string]any{"llm_prompt_tokens": 10.0, "stt": map[string]any{"audio_seconds": 1.5}}))
	require.NoError(t, tr.RecordMetrics("r1", map[string]any{"llm_prompt_tokens": 5, "stt": map[string]any{"audio_seconds": 2.0}, "model": "x"}))

	rep := &captureReporter{}
	tr.Reporter = rep
	_, err = tr.End(context.Background(), "r1", EndRequest{})
	require.NoError(t, err)

	require.Len(t, rep.got, 1)
	m := rep.got[0].Metrics
	assert.Equal(t, 15.0, m["llm_prompt_tokens"])
	assert.Equal(t, 3.5, m["stt"].(map[string]any)["audio_seconds"])
	assert.Equal(t, "x", m["model"])
}

func TestTracker_EndStopsRecordingAndReports(t *testing.T) {
	rec := &fakeRecorder{meta: &recording.Metadata{RecordingURL: "https://rec/r1.mp4"}}
	rep := &captureReporter{}
	g := tasks.New(4, nil)
	tr := &Tracker{
		NewRecorder: func(string) Recorder { return rec },
		Reporter:    rep,
		RoomSID:     func(context.Context, string) (string, error) { return "RM_1", nil },
		Tasks:       g,
		Clock:       fixedClock(),
	}

	_, err := tr.Start(context.Background(), StartRequest{RoomName: "r1", SessionID: "s1", CallID: "c1", Models: report.Models{LLM: "m"}})
	require.NoError(t, err)
	require.NoError(t, tr.AddItem(context.Background(), "r1", transcript.Message{Role: "user", Text: "hi"}))
	tr.Tools("r1").Record("validate_phone_number", map[string]any{"phone_number": "x"}, "ok")

	out, err := tr.End(context.Background(), "r1", EndRequest{Transcript: []any{map[string]any{"role": "user", "text": "attached"}}})
	require.NoError(t, err)
	assert.True(t, out.Sent)
	require.NoError(t, g.Shutdown(context.Background()))
	assert.Equal(t, 1, rec.stopped)

	require.Len(t, rep.got, 1)
	rc := rep.got[0]
	assert.Equal(t, "s1", rc.SessionID)
	assert.Equal(t, "c1", rc.CallID)
	assert.Equal(t, "m", rc.Models.LLM)
	require.NotNil(t, rc.Recording)
	require.Len(t, rc.Transcripts, 4)
	items, err := rc.Transcripts[0].Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
	live, err := rc.Transcripts[2].Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 1)
	assert.Len(t, rc.Tools.Calls(), 1)
	sid, err := rc.RoomSID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RM_1", sid)

	_, ok := tr.Get("r1")
	assert.False(t, ok)
	_, err = tr.End(context.Background(), "r1", EndRequest{})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestTracker_CloseAll(t *testing.T) {
	rep := &captureReporter{}
	tr := &Tracker{Reporter: rep}
	for _, r := range []string{"a", "b", "c"} {
		_, err := tr.Start(context.Background(), StartRequest{RoomName: r})
		require.NoError(t, err)
	}
	assert.Len(t, tr.List(), 3)
	assert.Equal(t, 3, tr.CloseAll(context.Background()))
	assert.Empty(t, tr.List())
	assert.Len(t, rep.got, 3)
}

func TestTracker_WithReportBuilderGate(t *testing.T) {
	// A two-second session with no user speech is not reported.
	start := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	r := &report.Reporter{
		URL:     "http://127.0.0.1:1/unused",
		Builder: report.Builder{Clock: clock},
		Gate:    report.Gate{MinDuration: 5 * time.Second},
	}
	tr := &Tracker{Reporter: r, Clock: clock}
	_, err := tr.Start(context.Background(), StartRequest{RoomName: "quiet"})
	require.NoError(t, err)
	require.NoError(t, tr.AddItem(context.Background(), "quiet", transcript.Message{Role: "assistant", Text: "Hello?"}))

	now = start.Add(2 * time.Second)
	out, err := tr.End(context.Background(), "quiet", EndRequest{})
	require.NoError(t, err)
	assert.False(t, out.Sent)
	assert.Equal(t, "low activity", out.Skipped)
}

func TestTracker_EndUsesHistoryExportBeforeLive(t *testing.T) {
	rep := &captureReporter{}
	tr := &Tracker{Reporter: rep, Clock: fixedClock()}
	_, err := tr.Start(context.Background(), StartRequest{RoomName: "r1"})
	require.NoError(t, err)
	require.NoError(t, tr.AddItem(context.Background(), "r1", transcript.Message{Role: "user", Text: "from live"}))

	_, err = tr.End(context.Background(), "r1", EndRequest{
		Transcript: map[string]any{"items": []any{}},
		History: map[string]any{"items": []any{
			map[string]any{"role": "user", "text": "from history"},
		}},
	})
	require.NoError(t, err)

	require.Len(t, rep.got, 1)
	res := transcript.Aggregator{}.Collect(context.Background(), rep.got[0].Transcripts...)
	assert.Equal(t, "history", res.Source)
	assert.Equal(t, "User: from history", res.Text)
}
