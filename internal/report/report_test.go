package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-telephony/internal/delivery"
	"voice-telephony/internal/recording"
	"voice-telephony/internal/transcript"
)

var t0 = time.Date(2025, 8, 30, 13, 0, 0, 0, time.UTC)

func clockAt(d time.Duration) func() time.Time {
	return func() time.Time { return t0.Add(d) }
}

type staticRecorder struct{ meta *recording.Metadata }

func (s staticRecorder) Metadata() *recording.Metadata { return s.meta }

func attached(entries ...transcript.Entry) []transcript.Source {
	return []transcript.Source{transcript.Attached{Value: entries}}
}

func TestGate(t *testing.T) {
	g := Gate{MinDuration: 5 * time.Second}
	noUser := []transcript.Entry{{Role: "agent", Text: "hello?"}}
	withUser := []transcript.Entry{{Role: "agent", Text: "hello?"}, {Role: "user", Text: "hi"}}

	assert.False(t, g.Allows(2*time.Second, noUser))
	assert.True(t, g.Allows(2*time.Second, withUser))
	assert.True(t, g.Allows(5*time.Second, nil))
	assert.True(t, Gate{}.Allows(6*time.Second, nil))
}

func TestBuild_AssemblesPayload(t *testing.T) {
	tools := &ToolLog{}
	tools.Record("book_appointment", map[string]any{"name": "Ann"}, map[string]any{"status": "ok"})

	b := Builder{Clock: clockAt(12*time.Second + 400*time.Millisecond)}
	p := b.Build(context.Background(), Context{
		RoomName:  "agent_call_1",
		SessionID: "sess-1",
		StartTime: t0,
		Recording: &recording.Metadata{EgressID: "EG_1", RecordingURL: "https://cdn/x.mp4"},
		RoomSID:   func(context.Context) (string, error) { return "RM_1", nil },
		Transcripts: attached(
			transcript.Entry{Role: "user", Text: "hi", Timestamp: "a"},
			transcript.Entry{Role: "user", Text: "there", Timestamp: "b"},
			transcript.Entry{Role: "agent", Text: "hello", Timestamp: "c"},
		),
		Metrics: map[string]any{"llm_prompt_tokens": 10},
		Models:  Models{LLM: "gemini-2.0-flash-lite"},
		Tools:   tools,
	})

	assert.Equal(t, "end-of-call-report", p.RequestType)
	assert.Equal(t, "livekit-agent", p.Source)
	assert.Equal(t, 12, p.DurationSeconds)
	require.NotNil(t, p.RoomSID)
	assert.Equal(t, "RM_1", *p.RoomSID)
	require.NotNil(t, p.RecordingURL)
	assert.Equal(t, "https://cdn/x.mp4", *p.RecordingURL)
	assert.Len(t, p.Transcript.Items, 3)
	assert.Equal(t, "User: hi there\nAgent: hello", p.TranscriptText)
	require.Len(t, p.ToolCalls, 1)
	assert.Equal(t, "book_appointment", p.ToolCalls[0].Name)

	b2, err := json.Marshal(p)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b2, &m))
	assert.Contains(t, m, "requestType")
	assert.Contains(t, m["transcript"], "items")
}

func TestBuild_FallsBackToRecorderAndToleratesSIDErrors(t *testing.T) {
	p := Builder{Clock: clockAt(time.Second)}.Build(context.Background(), Context{
		RoomName:  "r",
		StartTime: t0,
		Recording: &recording.Metadata{EgressID: "EG_1"},
		Recorder:  staticRecorder{meta: &recording.Metadata{EgressID: "EG_1", RecordingURL: "https://cdn/late.mp4"}},
		RoomSID:   func(context.Context) (string, error) { return "", errors.New("not connected") },
	})

	assert.Nil(t, p.RoomSID)
	require.NotNil(t, p.RecordingURL)
	assert.Equal(t, "https://cdn/late.mp4", *p.RecordingURL)
	assert.Equal(t, "unknown", p.SessionID)
	assert.Empty(t, p.TranscriptText)
	assert.NotNil(t, p.Transcript.Items)
	assert.NotNil(t, p.ToolCalls)
}

func newSender() delivery.Sender {
	return delivery.Sender{
		Client: delivery.NewClient(delivery.ClientConfig{Transport: http.DefaultTransport}),
		Policy: delivery.Policy{MaxRetries: 3, Base: time.Millisecond, Sleep: func(context.Context, time.Duration) error { return nil }},
	}
}

func TestReporter_SkipsLowActivity(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r := &Reporter{
		URL:     srv.URL,
		Builder: Builder{Clock: clockAt(2 * time.Second)},
		Gate:    Gate{MinDuration: 5 * time.Second},
		Sender:  newSender(),
	}

	out := r.Send(context.Background(), Context{
		RoomName:    "r",
		StartTime:   t0,
		Transcripts: attached(transcript.Entry{Role: "agent", Text: "anyone there?"}),
	})
	assert.False(t, out.Sent)
	assert.Equal(t, "low activity", out.Skipped)
	assert.Zero(t, hits.Load())

	out = r.Send(context.Background(), Context{
		RoomName:    "r",
		StartTime:   t0,
		Transcripts: attached(transcript.Entry{Role: "user", Text: "hello"}),
	})
	assert.True(t, out.Sent)
	assert.EqualValues(t, 1, hits.Load())
}

func TestReporter_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := &Reporter{URL: srv.URL, Builder: Builder{Clock: clockAt(10 * time.Second)}, Sender: newSender()}
	out := r.Send(context.Background(), Context{RoomName: "r", StartTime: t0})
	assert.True(t, out.Sent)
	assert.Equal(t, 3, out.Result.Attempts)
}

func TestReporter_NoURL(t *testing.T) {
	out := (&Reporter{}).Send(context.Background(), Context{})
	assert.False(t, out.Sent)
	assert.NotEmpty(t, out.Skipped)
}
