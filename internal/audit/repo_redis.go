package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream       = "call-audit"
	DefaultStreamMaxLen = 10000
)

// StreamAdder is the subset of *redis.Client used for the audit stream.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisRepo appends events to a capped Redis stream, one JSON document per entry.
type RedisRepo struct {
	Client StreamAdder
	Stream string
	MaxLen int64
}

func (r *RedisRepo) Append(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	stream := r.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := r.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	err = r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{"type": string(e.Type), "event": string(b)},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit xadd %s: %w", stream, err)
	}
	return nil
}
