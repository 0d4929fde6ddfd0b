package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"voice-telephony/internal/delivery"
)

// WebhookSink POSTs events to a single URL.
type WebhookSink struct {
	URL    string
	Client *delivery.Client
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	resp, err := s.Client.PostJSON(ctx, s.URL, ev, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &delivery.DeliveryError{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return nil
}

// Publisher is the subset of *redis.Client used for event fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

const DefaultChannel = "call-events"

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	Client  Publisher
	Channel string
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ch := s.Channel
	if ch == "" {
		ch = DefaultChannel
	}
	if err := s.Client.Publish(ctx, ch, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ch, err)
	}
	return nil
}
