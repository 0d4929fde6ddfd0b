package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Source yields raw transcript items. An empty result means "try the next source".
type Source interface {
	Name() string
	Items(ctx context.Context) ([]Item, error)
}

// Container keys, in priority order, per source kind.
var (
	attachedContainerKeys = []string{"items", "messages", "transcript", "entries"}
	historyContainerKeys  = []string{"items", "messages"}
	fileContainerKeys     = []string{"transcript", "items", "messages"}
)

// Attached is an explicitly attached transcript structure: a list of items or a
// container object holding one.
type Attached struct {
	Value any
}

func (Attached) Name() string { return "attached" }

func (a Attached) Items(context.Context) ([]Item, error) {
	switch v := a.Value.(type) {
	case nil:
		return nil, nil
	case []Item:
		return v, nil
	case []Entry:
		return FromEntries(v), nil
	case []any:
		return wrapAll(v), nil
	case map[string]any:
		if list, ok := presentList(v, attachedContainerKeys); ok {
			return wrapAll(list), nil
		}
		return []Item{Mapping(v)}, nil
	default:
		return []Item{Opaque{Value: v}}, nil
	}
}

// History reads the session's canonical history export.
type History struct {
	Export func() (map[string]any, error)
}

func (History) Name() string { return "history" }

func (h History) Items(context.Context) ([]Item, error) {
	if h.Export == nil {
		return nil, nil
	}
	doc, err := h.Export()
	if err != nil {
		return nil, fmt.Errorf("history export: %w", err)
	}
	if list, ok := containerList(doc, historyContainerKeys); ok {
		return wrapAll(list), nil
	}
	return nil, nil
}

// Live reads the session's live conversation accessor, then its message accessor.
type Live struct {
	Conversation func() []Item
	Messages     func() []Item
}

func (Live) Name() string { return "live" }

func (l Live) Items(context.Context) ([]Item, error) {
	if l.Conversation != nil {
		if items := l.Conversation(); len(items) > 0 {
			return items, nil
		}
	}
	if l.Messages != nil {
		if items := l.Messages(); len(items) > 0 {
			return items, nil
		}
	}
	return nil, nil
}

// File reads a persisted JSON transcript.
type File struct {
	Path string
}

func (File) Name() string { return "file" }

func (f File) Items(context.Context) ([]Item, error) {
	if f.Path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript file: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode transcript file: %w", err)
	}
	switch v := doc.(type) {
	case []any:
		return wrapAll(v), nil
	case map[string]any:
		if list, ok := containerList(v, fileContainerKeys); ok {
			return wrapAll(list), nil
		}
	}
	return nil, nil
}

// containerList returns the first non-empty list found under keys.
func containerList(m map[string]any, keys []string) ([]any, bool) {
	for _, k := range keys {
		if list, ok := m[k].([]any); ok && len(list) > 0 {
			return list, true
		}
	}
	return nil, false
}

// presentList returns the list under the first key that holds one, even when
// it is empty.
func presentList(m map[string]any, keys []string) ([]any, bool) {
	for _, k := range keys {
		if list, ok := m[k].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func wrapAll(list []any) []Item {
	out := make([]Item, 0, len(list))
	for _, v := range list {
		out = append(out, FromAny(v))
	}
	return out
}
