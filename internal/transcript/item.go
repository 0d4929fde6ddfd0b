package transcript

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is the canonical transcript line.
type Entry struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Item is a raw transcript item as it arrives from a source.
//
// The known shapes are:
//   - Mapping: a decoded JSON object (history exports, attached structures, files)
//   - Message: a typed conversation item from a live session accessor
//   - Opaque:  anything else; only string coercion applies
type Item interface {
	normalize(now func() time.Time) (Entry, bool)
}

// Mapping is a raw item decoded from JSON.
type Mapping map[string]any

// Message is a typed conversation item.
type Message struct {
	Role                string
	SenderIdentity      string
	ParticipantIdentity string
	Text                string
	Content             []string
	CreatedAt           time.Time
}

// Opaque wraps a value of unknown shape.
type Opaque struct {
	Value any
}

const unknownRole = "unknown"

// Alias tables, in priority order.
var (
	mappingRoleKeys    = []string{"role", "sender", "type", "participant_identity"}
	mappingTextKeys    = []string{"text", "message", "content_text"}
	mappingContentKeys = []string{"content", "content_list"}
	timestampKeys      = []string{"created_at", "ts", "timestamp", "time"}
)

func (m Mapping) normalize(now func() time.Time) (Entry, bool) {
	role := unknownRole
	if v, ok := m.first(mappingRoleKeys); ok {
		if s := strings.TrimSpace(scalarString(v)); s != "" {
			role = s
		}
	}

	var text string
	if v, ok := m.first(mappingTextKeys); ok {
		text = strings.TrimSpace(scalarString(v))
	}
	if text == "" {
		if v, ok := m.first(mappingContentKeys); ok {
			text = contentText(v)
		}
	}
	if text == "" {
		text = m.String()
	}
	if text == "" {
		return Entry{}, false
	}

	ts := ""
	if v, ok := m.first(timestampKeys); ok {
		ts = formatTimestamp(v)
	}
	if ts == "" {
		ts = now().Format(time.RFC3339Nano)
	}
	return Entry{Role: role, Text: text, Timestamp: ts}, true
}

// first returns the first non-nil value among keys.
func (m Mapping) first(keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String renders the whole mapping as JSON, the last resort for items with no
// text or content.
func (m Mapping) String() string {
	if len(m) == 0 {
		return ""
	}
	raw, err := json.Marshal(map[string]any(m))
	if err != nil {
		return strings.TrimSpace(fmt.Sprint(map[string]any(m)))
	}
	return string(raw)
}

func (msg Message) normalize(now func() time.Time) (Entry, bool) {
	role := firstNonEmpty(msg.Role, msg.SenderIdentity, msg.ParticipantIdentity)
	if role == "" {
		role = unknownRole
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = joinContent(msg.Content)
	}
	if text == "" {
		text = strings.TrimSpace(fmt.Sprintf("%+v", msg))
	}
	if text == "" {
		return Entry{}, false
	}

	ts := now()
	if !msg.CreatedAt.IsZero() {
		ts = msg.CreatedAt
	}
	return Entry{Role: role, Text: text, Timestamp: ts.Format(time.RFC3339Nano)}, true
}

func (o Opaque) normalize(now func() time.Time) (Entry, bool) {
	if o.Value == nil {
		return Entry{}, false
	}
	text := strings.TrimSpace(fmt.Sprint(o.Value))
	if text == "" {
		return Entry{}, false
	}
	return Entry{Role: unknownRole, Text: text, Timestamp: now().Format(time.RFC3339Nano)}, true
}

// FromAny wraps a decoded JSON value into the matching Item variant.
func FromAny(v any) Item {
	switch t := v.(type) {
	case Item:
		return t
	case map[string]any:
		return Mapping(t)
	case Entry:
		return Mapping{"role": t.Role, "text": t.Text, "timestamp": t.Timestamp}
	default:
		return Opaque{Value: v}
	}
}

// FromEntries turns canonical entries back into items, e.g. a call record's transcript.
func FromEntries(entries []Entry) []Item {
	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromAny(e))
	}
	return out
}

func contentText(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if p == nil {
				continue
			}
			if m, ok := p.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					parts = append(parts, s)
				}
				continue
			}
			parts = append(parts, scalarString(p))
		}
		return joinContent(parts)
	case []string:
		return joinContent(t)
	default:
		return strings.TrimSpace(scalarString(v))
	}
}

func joinContent(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// formatTimestamp accepts strings as-is, unix seconds as numbers, and time values.
func formatTimestamp(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano)
	case int64:
		return time.Unix(t, 0).UTC().Format(time.RFC3339Nano)
	case int:
		return time.Unix(int64(t), 0).UTC().Format(time.RFC3339Nano)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return scalarString(v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
