package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2025, 8, 30, 13, 37, 31, 0, time.UTC) }

func TestCollect_MergesAdjacentRolesAndRenders(t *testing.T) {
	attached := []any{
		map[string]any{"role": "user", "text": "hi"},
		map[string]any{"role": "user", "text": "there"},
		map[string]any{"role": "agent", "text": "hello"},
	}

	res := Aggregator{Clock: fixedNow}.Collect(context.Background(), Attached{Value: attached})

	require.Len(t, res.Structured, 3)
	require.Len(t, res.Merged, 2)
	assert.Equal(t, "user", res.Merged[0].Role)
	assert.Equal(t, "hi there", res.Merged[0].Text)
	assert.Equal(t, "agent", res.Merged[1].Role)
	assert.Equal(t, "hello", res.Merged[1].Text)
	assert.Equal(t, "User: hi there\nAgent: hello", res.Text)
	assert.Equal(t, "attached", res.Source)
}

func TestMerge_LaterTimestampWins(t *testing.T) {
	merged := Merge([]Entry{
		{Role: "user", Text: "one", Timestamp: "t1"},
		{Role: "user", Text: "two", Timestamp: "t2"},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, "t2", merged[0].Timestamp)
}

func TestNormalize_AliasPriority(t *testing.T) {
	items := []Item{
		Mapping{"sender": "assistant", "message": "from alias", "ts": "2025-01-01T00:00:00Z"},
		Mapping{"role": "user", "content": []any{"joined", nil, " parts "}},
		Mapping{"type": "user", "content_list": []any{map[string]any{"text": "nested"}}},
		Message{ParticipantIdentity: "caller", Content: []string{"typed", "item"}},
		Opaque{Value: 42},
		Opaque{Value: ""},
	}

	got := Aggregator{Clock: fixedNow}.Normalize(items)

	require.Len(t, got, 5)
	assert.Equal(t, Entry{Role: "assistant", Text: "from alias", Timestamp: "2025-01-01T00:00:00Z"}, got[0])
	assert.Equal(t, "joined parts", got[1].Text)
	assert.Equal(t, fixedNow().Format(time.RFC3339Nano), got[1].Timestamp)
	assert.Equal(t, "user", got[2].Role)
	assert.Equal(t, "nested", got[2].Text)
	assert.Equal(t, "caller", got[3].Role)
	assert.Equal(t, "typed item", got[3].Text)
	assert.Equal(t, Entry{Role: "unknown", Text: "42", Timestamp: fixedNow().Format(time.RFC3339Nano)}, got[4])
}

func TestNormalize_CoercesItemsWithoutText(t *testing.T) {
	got := Aggregator{Clock: fixedNow}.Normalize([]Item{
		Mapping{"role": "user", "utterance": "hello there"},
		Mapping{"role": "user", "text": "   "},
		Message{Role: "agent"},
		Mapping{},
	})

	require.Len(t, got, 3)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, `{"role":"user","utterance":"hello there"}`, got[0].Text)
	assert.Equal(t, `{"role":"user","text":"   "}`, got[1].Text)
	assert.Equal(t, "agent", got[2].Role)
	assert.Contains(t, got[2].Text, "Role:agent")
	assert.Equal(t, fixedNow().Format(time.RFC3339Nano), got[2].Timestamp)
}

func TestNormalize_TextBeatsContent(t *testing.T) {
	got := Normalize([]Item{Mapping{"role": "user", "text": "explicit", "content": []any{"ignored"}}})
	require.Len(t, got, 1)
	assert.Equal(t, "explicit", got[0].Text)
}

func TestNormalize_NumericTimestampIsUnixSeconds(t *testing.T) {
	got := Normalize([]Item{Mapping{"role": "user", "text": "x", "created_at": float64(1700000000)}})
	require.Len(t, got, 1)
	assert.Equal(t, "2023-11-14T22:13:20Z", got[0].Timestamp)
}

func TestCollect_SourcePriority(t *testing.T) {
	history := History{Export: func() (map[string]any, error) {
		return map[string]any{"items": []any{map[string]any{"role": "user", "text": "from history"}}}, nil
	}}
	live := Live{Conversation: func() []Item {
		return []Item{Message{Role: "user", Text: "from live"}}
	}}

	t.Run("empty attached falls through to history", func(t *testing.T) {
		res := Aggregator{}.Collect(context.Background(), Attached{Value: map[string]any{"items": []any{}}}, history, live)
		assert.Equal(t, "history", res.Source)
		assert.Equal(t, "User: from history", res.Text)
	})

	t.Run("empty attached container falls through to live", func(t *testing.T) {
		res := Aggregator{}.Collect(context.Background(), Attached{Value: map[string]any{"items": []any{}}}, live)
		assert.Equal(t, "live", res.Source)
		assert.Equal(t, "User: from live", res.Text)
	})

	t.Run("attached object without container is one item", func(t *testing.T) {
		res := Aggregator{}.Collect(context.Background(), Attached{Value: map[string]any{"role": "user", "text": "single"}}, live)
		assert.Equal(t, "attached", res.Source)
		assert.Equal(t, "User: single", res.Text)
	})

	t.Run("history error falls through to live", func(t *testing.T) {
		broken := History{Export: func() (map[string]any, error) { return nil, errors.New("boom") }}
		res := Aggregator{}.Collect(context.Background(), Attached{}, broken, live)
		assert.Equal(t, "live", res.Source)
		assert.Equal(t, "User: from live", res.Text)
	})

	t.Run("live messages accessor used when conversation empty", func(t *testing.T) {
		l := Live{
			Conversation: func() []Item { return nil },
			Messages:     func() []Item { return []Item{Message{Role: "assistant", Text: "msg"}} },
		}
		res := Aggregator{}.Collect(context.Background(), l)
		assert.Equal(t, "Agent: msg", res.Text)
	})

	t.Run("nothing usable", func(t *testing.T) {
		res := Aggregator{}.Collect(context.Background(), Attached{}, History{}, Live{}, File{})
		assert.Empty(t, res.Source)
		assert.Empty(t, res.Merged)
		assert.Empty(t, res.Text)
	})
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	t.Run("container", func(t *testing.T) {
		p := filepath.Join(dir, "container.json")
		require.NoError(t, os.WriteFile(p, []byte(`{"transcript":[{"role":"user","text":"saved"}]}`), 0o600))
		res := Aggregator{}.Collect(context.Background(), File{Path: p})
		assert.Equal(t, "file", res.Source)
		assert.Equal(t, "User: saved", res.Text)
	})

	t.Run("bare list", func(t *testing.T) {
		p := filepath.Join(dir, "list.json")
		require.NoError(t, os.WriteFile(p, []byte(`[{"role":"assistant","text":"a"},{"role":"system","text":"b"}]`), 0o600))
		res := Aggregator{}.Collect(context.Background(), File{Path: p})
		assert.Equal(t, "Agent: a\nSystem: b", res.Text)
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		items, err := File{Path: filepath.Join(dir, "nope.json")}.Items(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("corrupt file is skipped", func(t *testing.T) {
		p := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(p, []byte(`{`), 0o600))
		res := Aggregator{}.Collect(context.Background(), File{Path: p})
		assert.Empty(t, res.Source)
	})
}

func TestDisplayRole(t *testing.T) {
	cases := map[string]string{
		"user":      "User",
		"USER":      "User",
		"assistant": "Agent",
		"agent":     "Agent",
		"system":    "System",
		"TOOL":      "Tool",
		"":          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, DisplayRole(in), in)
	}
}

func TestHasUserText(t *testing.T) {
	assert.False(t, HasUserText([]Entry{{Role: "agent", Text: "hi"}, {Role: "user", Text: "  "}}))
	assert.True(t, HasUserText([]Entry{{Role: "user", Text: "yes"}}))
}
