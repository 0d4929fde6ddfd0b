package transcript

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Result is the output of Collect.
type Result struct {
	Source     string  `json:"source"`
	RawCount   int     `json:"raw_count"`
	Structured []Entry `json:"structured"`
	Merged     []Entry `json:"merged"`
	Text       string  `json:"text"`
}

// Aggregator gathers and normalizes transcripts.
type Aggregator struct {
	Log   *slog.Logger
	Clock func() time.Time
}

// Collect walks sources in order; the first one yielding items wins.
// Errors from a source are logged and the next source is tried.
func (a Aggregator) Collect(ctx context.Context, sources ...Source) Result {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}

	var res Result
	for _, src := range sources {
		if src == nil {
			continue
		}
		items, err := src.Items(ctx)
		if err != nil {
			log.Debug("transcript source not usable", "source", src.Name(), "err", err)
			continue
		}
		if len(items) == 0 {
			continue
		}
		res.Source = src.Name()
		res.RawCount = len(items)
		res.Structured = a.Normalize(items)
		break
	}

	res.Merged = Merge(res.Structured)
	res.Text = Render(res.Merged)
	return res
}

// Normalize converts raw items into entries, dropping items without usable text.
func (a Aggregator) Normalize(items []Item) []Entry {
	now := a.Clock
	if now == nil {
		now = time.Now
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if e, ok := it.normalize(now); ok {
			out = append(out, e)
		}
	}
	return out
}

// Normalize uses the default aggregator.
func Normalize(items []Item) []Entry {
	return Aggregator{}.Normalize(items)
}

// Merge joins adjacent entries with the same role. The later timestamp wins.
func Merge(entries []Entry) []Entry {
	merged := make([]Entry, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == e.Role {
			merged[n-1].Text = strings.TrimSpace(merged[n-1].Text + " " + text)
			merged[n-1].Timestamp = e.Timestamp
			continue
		}
		merged = append(merged, Entry{Role: e.Role, Text: text, Timestamp: e.Timestamp})
	}
	return merged
}

// Render formats entries as "<Role>: <text>" lines.
func Render(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		lines = append(lines, DisplayRole(e.Role)+": "+text)
	}
	return strings.Join(lines, "\n")
}

// DisplayRole maps a raw role to its rendered label.
func DisplayRole(role string) string {
	switch strings.ToLower(role) {
	case "user":
		return "User"
	case "assistant", "agent":
		return "Agent"
	}
	r, size := utf8.DecodeRuneInString(role)
	if r == utf8.RuneError {
		return role
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(role[size:])
}

// HasUserText reports whether any user entry carries non-empty text.
func HasUserText(entries []Entry) bool {
	for _, e := range entries {
		if strings.EqualFold(e.Role, "user") && strings.TrimSpace(e.Text) != "" {
			return true
		}
	}
	return false
}

// CountRoles returns the number of agent and user entries.
func CountRoles(entries []Entry) (agent, user int) {
	for _, e := range entries {
		switch strings.ToLower(e.Role) {
		case "assistant", "agent":
			agent++
		case "user":
			user++
		}
	}
	return agent, user
}
