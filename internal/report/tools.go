package report

import (
	"sync"
	"time"
)

// ToolCall records one tool invocation made during a session.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// ToolLog is a concurrency-safe, append-only list of tool calls.
type ToolLog struct {
	mu    sync.Mutex
	calls []ToolCall
}

func (l *ToolLog) Record(name string, args map[string]any, result any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ToolCall{
		Name:      name,
		Arguments: args,
		Result:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (l *ToolLog) Calls() []ToolCall {
	if l == nil {
		return []ToolCall{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ToolCall{}, l.calls...)
}
