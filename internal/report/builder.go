// Package report assembles and delivers the end-of-session report.
package report

import (
	"context"
	"log/slog"
	"math"
	"time"

	"voice-telephony/internal/recording"
	"voice-telephony/internal/transcript"
)

const (
	SourceName  = "livekit-agent"
	RequestType = "end-of-call-report"
)

// Models names the models that served the session.
type Models struct {
	LLM           string `json:"llm,omitempty"`
	STT           string `json:"stt,omitempty"`
	TTSVoice      string `json:"tts_voice,omitempty"`
	TurnDetection string `json:"turn_detection,omitempty"`
}

// RecordingSource exposes the metadata of a running or finished recording.
type RecordingSource interface {
	Metadata() *recording.Metadata
}

// Context is everything known about a session when it ends.
type Context struct {
	RoomName  string
	SessionID string
	CallID    string
	StartTime time.Time

	// Recording is the metadata attached when recording started. Recorder is
	// consulted when it is missing or has no URL.
	Recording *recording.Metadata
	Recorder  RecordingSource

	// RoomSID resolves the media room's server id; errors yield an empty sid.
	RoomSID func(ctx context.Context) (string, error)

	// Transcripts are consulted in order; the first non-empty wins.
	Transcripts []transcript.Source

	Metrics map[string]any
	Models  Models
	Tools   *ToolLog
}

type TranscriptBlock struct {
	Items []transcript.Entry `json:"items"`
}

// Payload is the end-of-call report body.
type Payload struct {
	RoomName        string              `json:"room_name"`
	RoomSID         *string             `json:"room_sid"`
	SessionID       string              `json:"session_id"`
	CallID          string              `json:"call_id,omitempty"`
	StartTime       string              `json:"start_time"`
	EndTime         string              `json:"end_time"`
	DurationSeconds int                 `json:"duration_seconds"`
	Transcript      TranscriptBlock     `json:"transcript"`
	TranscriptText  string              `json:"transcript_text"`
	RecordingURL    *string             `json:"recording_url"`
	Recording       *recording.Metadata `json:"recording"`
	Metrics         map[string]any      `json:"metrics"`
	Models          Models              `json:"models"`
	ToolCalls       []ToolCall          `json:"tool_calls"`
	Source          string              `json:"source"`
	RequestType     string              `json:"requestType"`

	// duration is kept unrounded for gating.
	duration time.Duration
	merged   []transcript.Entry
}

// Builder turns a session Context into a Payload.
type Builder struct {
	Log   *slog.Logger
	Clock func() time.Time
}

func (b Builder) logger() *slog.Logger {
	if b.Log == nil {
		return slog.Default()
	}
	return b.Log
}

func (b Builder) Build(ctx context.Context, rc Context) Payload {
	now := time.Now
	if b.Clock != nil {
		now = b.Clock
	}
	log := b.logger().With("room_name", rc.RoomName)
	end := now().UTC()

	rec := rc.Recording
	if (rec == nil || rec.RecordingURL == "") && rc.Recorder != nil {
		if fb := rc.Recorder.Metadata(); fb != nil && fb.RecordingURL != "" {
			log.Info("using recording metadata from recorder")
			rec = fb
		}
	}

	var sid *string
	if rc.RoomSID != nil {
		if s, err := rc.RoomSID(ctx); err != nil {
			log.Debug("room sid unavailable", "err", err)
		} else if s != "" {
			sid = &s
		}
	}

	agg := transcript.Aggregator{Log: log, Clock: now}
	tr := agg.Collect(ctx, rc.Transcripts...)
	agents, users := transcript.CountRoles(tr.Merged)
	log.Info("building end-call report",
		"source", tr.Source,
		"raw_items", tr.RawCount,
		"normalized", len(tr.Structured),
		"merged", len(tr.Merged),
		"agent_entries", agents,
		"user_entries", users,
	)

	var dur time.Duration
	start := ""
	if !rc.StartTime.IsZero() {
		dur = end.Sub(rc.StartTime)
		start = rc.StartTime.UTC().Format(time.RFC3339Nano)
	}

	p := Payload{
		RoomName:        rc.RoomName,
		RoomSID:         sid,
		SessionID:       rc.SessionID,
		CallID:          rc.CallID,
		StartTime:       start,
		EndTime:         end.Format(time.RFC3339Nano),
		DurationSeconds: int(math.Round(dur.Seconds())),
		Transcript:      TranscriptBlock{Items: tr.Structured},
		TranscriptText:  tr.Text,
		Recording:       rec,
		Metrics:         rc.Metrics,
		Models:          rc.Models,
		ToolCalls:       rc.Tools.Calls(),
		Source:          SourceName,
		RequestType:     RequestType,
		duration:        dur,
		merged:          tr.Merged,
	}
	if p.SessionID == "" {
		p.SessionID = "unknown"
	}
	if rec != nil && rec.RecordingURL != "" {
		u := rec.RecordingURL
		p.RecordingURL = &u
	}
	if p.Metrics == nil {
		p.Metrics = map[string]any{}
	}
	if p.Transcript.Items == nil {
		p.Transcript.Items = []transcript.Entry{}
	}
	return p
}

// Duration is the unrounded session length.
func (p Payload) Duration() time.Duration { return p.duration }

// Merged is the merged transcript the text block was rendered from.
func (p Payload) Merged() []transcript.Entry { return p.merged }
