// Package session tracks agent sessions running in media rooms: when they
// started, what was said, usage metrics and tool calls, and sends the
// end-of-call report when they close.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"voice-telephony/internal/calls"
	"voice-telephony/internal/recording"
	"voice-telephony/internal/report"
	"voice-telephony/internal/tasks"
	"voice-telephony/internal/transcript"
)

var (
	ErrSessionExists  = errors.New("session: already active for room")
	ErrUnknownSession = errors.New("session: unknown room")
	ErrInvalidInput   = errors.New("session: invalid input")
)

const recordingStopTimeout = 30 * time.Second

// Recorder is a room recording. recording.Manager implements it.
type Recorder interface {
	Start(ctx context.Context) *recording.Metadata
	Stop(ctx context.Context) bool
	Metadata() *recording.Metadata
}

// ReportSender delivers end-of-call reports. report.Reporter implements it.
type ReportSender interface {
	Send(ctx context.Context, rc report.Context) report.Outcome
}

// TranscriptSink mirrors session lines onto the call record.
type TranscriptSink interface {
	AppendTranscript(ctx context.Context, callID string, e calls.TranscriptEntry) bool
}

// StartRequest opens a session.
type StartRequest struct {
	RoomName  string         `json:"room_name"`
	SessionID string         `json:"session_id"`
	CallID    string         `json:"call_id"`
	Models    report.Models  `json:"models"`
	Metadata  map[string]any `json:"metadata"`

	// TranscriptPath names a JSON transcript persisted by the agent, read as
	// a last resort when the report is built.
	TranscriptPath string `json:"transcript_path"`
}

// Info is a snapshot of a session.
type Info struct {
	RoomName  string              `json:"room_name"`
	SessionID string              `json:"session_id"`
	CallID    string              `json:"call_id,omitempty"`
	StartTime time.Time           `json:"start_time"`
	Items     int                 `json:"items"`
	Recording *recording.Metadata `json:"recording,omitempty"`
	Models    report.Models       `json:"models"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// Session is the in-memory state of one agent session.
type Session struct {
	room      string
	sessionID string
	callID    string
	start     time.Time
	models    report.Models
	meta      map[string]any
	path      string

	recorder  Recorder
	recording *recording.Metadata
	tools     *report.ToolLog

	mu      sync.Mutex
	items   []transcript.Item
	metrics map[string]any
}

// Tools is the session's tool-call log.
func (s *Session) Tools() *report.ToolLog { return s.tools }

func (s *Session) conversation() []transcript.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Item(nil), s.items...)
}

func (s *Session) info() Info {
	s.mu.Lock()
	n := len(s.items)
	s.mu.Unlock()
	return Info{
		RoomName:  s.room,
		SessionID: s.sessionID,
		CallID:    s.callID,
		StartTime: s.start,
		Items:     n,
		Recording: s.recording,
		Models:    s.models,
		Metadata:  s.meta,
	}
}

// Tracker owns the active sessions, keyed by room name.
type Tracker struct {
	// NewRecorder builds the recorder for a room; nil disables recording.
	NewRecorder func(room string) Recorder
	Reporter    ReportSender
	RoomSID     func(ctx context.Context, room string) (string, error)
	Calls       TranscriptSink
	Tasks       *tasks.Group
	Log         *slog.Logger
	Clock       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func (t *Tracker) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

func (t *Tracker) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

// Start opens a session for a room and starts recording before the agent
// joins. A recording that fails to start does not fail the session.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (Info, error) {
	room := strings.TrimSpace(req.RoomName)
	if room == "" {
		return Info{}, ErrInvalidInput
	}

	s := &Session{
		room:      room,
		sessionID: strings.TrimSpace(req.SessionID),
		callID:    strings.TrimSpace(req.CallID),
		start:     t.now().UTC(),
		models:    req.Models,
		meta:      req.Metadata,
		path:      req.TranscriptPath,
		tools:     &report.ToolLog{},
		metrics:   map[string]any{},
	}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*Session)
	}
	if _, ok := t.sessions[room]; ok {
		t.mu.Unlock()
		return Info{}, ErrSessionExists
	}
	t.sessions[room] = s
	t.mu.Unlock()

	log := t.logger().With("room_name", room, "call_id", s.callID)
	if t.NewRecorder != nil {
		s.recorder = t.NewRecorder(room)
		if s.recorder != nil {
			if meta := s.recorder.Start(ctx); meta != nil {
				s.recording = meta
			} else {
				log.Warn("recording not started")
			}
		}
	}

	log.Info("session started", "session_id", s.sessionID, "llm", s.models.LLM)
	return s.info(), nil
}

func (t *Tracker) get(room string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[room]
	return s, ok
}

// Get returns a snapshot of an active session.
func (t *Tracker) Get(room string) (Info, bool) {
	s, ok := t.get(room)
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Tools returns the tool log of an active session, or nil.
func (t *Tracker) Tools(room string) *report.ToolLog {
	if s, ok := t.get(room); ok {
		return s.tools
	}
	return nil
}

// List returns all active sessions ordered by start time.
func (t *Tracker) List() []Info {
	t.mu.Lock()
	out := make([]Info, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.info())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].RoomName < out[j].RoomName
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// AddItem records a committed conversation item. Lines with text are also
// appended to the call's transcript when the session is bound to a call.
func (t *Tracker) AddItem(ctx context.Context, room string, msg transcript.Message) error {
	s, ok := t.get(room)
	if !ok {
		return ErrUnknownSession
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now().UTC()
	}

	s.mu.Lock()
	s.items = append(s.items, msg)
	s.mu.Unlock()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(strings.Join(msg.Content, " "))
	}
	t.logger().Debug("conversation item added", "room_name", room, "role", msg.Role, "text_preview", preview(text))

	if t.Calls != nil && s.callID != "" && text != "" {
		t.Calls.AppendTranscript(ctx, s.callID, calls.TranscriptEntry{
			Role:      strings.ToLower(strings.TrimSpace(msg.Role)),
			Text:      text,
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil
}

// RecordMetrics merges a usage sample into the session totals.
func (t *Tracker) RecordMetrics(room string, sample map[string]any) error {
	s, ok := t.get(room)
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	mergeMetrics(s.metrics, sample)
	s.mu.Unlock()
	return nil
}

// EndRequest carries what the agent knows when the session closes.
type EndRequest struct {
	// Transcript is an attached transcript structure (list of items or a
	// history export); it takes priority over the live conversation.
	Transcript any `json:"transcript"`
	// History is the session's canonical history export, consulted when no
	// transcript is attached.
	History map[string]any `json:"history"`
}

// End closes a session: recording stops in the background and the gated
// end-of-call report is delivered.
func (t *Tracker) End(ctx context.Context, room string, req EndRequest) (report.Outcome, error) {
	t.mu.Lock()
	s, ok := t.sessions[room]
	if ok {
		delete(t.sessions, room)
	}
	t.mu.Unlock()
	if !ok {
		return report.Outcome{}, ErrUnknownSession
	}

	log := t.logger().With("room_name", room, "call_id", s.callID)
	t.stopRecording(log, s)

	s.mu.Lock()
	metrics := make(map[string]any, len(s.metrics))
	for k, v := range s.metrics {
		metrics[k] = v
	}
	s.mu.Unlock()
	log.Info("usage summary", "usage_summary", metrics)

	if t.Reporter == nil {
		log.Info("session ended, no reporter configured")
		return report.Outcome{Skipped: "no destination"}, nil
	}

	var roomSID func(context.Context) (string, error)
	if t.RoomSID != nil {
		roomSID = func(ctx context.Context) (string, error) { return t.RoomSID(ctx, room) }
	}

	rc := report.Context{
		RoomName:  room,
		SessionID: s.sessionID,
		CallID:    s.callID,
		StartTime: s.start,
		Recording: s.recording,
		RoomSID:   roomSID,
		Transcripts: []transcript.Source{
			transcript.Attached{Value: req.Transcript},
			transcript.History{Export: func() (map[string]any, error) { return req.History, nil }},
			transcript.Live{Conversation: s.conversation},
			transcript.File{Path: s.path},
		},
		Metrics: metrics,
		Models:  s.models,
		Tools:   s.tools,
	}
	if s.recorder != nil {
		rc.Recorder = s.recorder
	}

	out := t.Reporter.Send(ctx, rc)
	log.Info("session ended", "report_sent", out.Sent, "skipped", out.Skipped)
	return out, nil
}

func (t *Tracker) stopRecording(log *slog.Logger, s *Session) {
	if s.recorder == nil {
		return
	}
	stop := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, recordingStopTimeout)
		defer cancel()
		if !s.recorder.Stop(ctx) {
			log.Warn("recording stop failed")
		}
	}
	if t.Tasks != nil && t.Tasks.Go("recording_stop", stop) {
		return
	}
	stop(context.Background())
}

// CloseAll ends every active session, sending final reports. It returns the
// number of sessions closed.
func (t *Tracker) CloseAll(ctx context.Context) int {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.sessions))
	for r := range t.sessions {
		rooms = append(rooms, r)
	}
	t.mu.Unlock()

	n := 0
	for _, r := range rooms {
		if ctx.Err() != nil {
			break
		}
		if _, err := t.End(ctx, r, EndRequest{}); err == nil {
			n++
		}
	}
	return n
}

// mergeMetrics adds numeric values and overwrites everything else. Nested
// objects are merged the same way.
func mergeMetrics(dst, src map[string]any) {
	for k, v := range src {
		switch nv := v.(type) {
		case map[string]any:
			cur, ok := dst[k].(map[string]any)
			if !ok {
				cur = map[string]any{}
				dst[k] = cur
			}
			mergeMetrics(cur, nv)
		default:
			if f, ok := number(v); ok {
				if g, ok := number(dst[k]); ok {
					dst[k] = g + f
					continue
				}
				dst[k] = f
				continue
			}
			dst[k] = v
		}
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 120 {
		return string(r[:120])
	}
	return s
}
