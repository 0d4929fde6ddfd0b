// Package notify fans call lifecycle events out to external listeners.
package notify

import (
	"context"
	"log/slog"
	"time"

	"voice-telephony/internal/calls"
	"voice-telephony/internal/tasks"
)

// Sink delivers a single event. One attempt, no retry.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

const DefaultSendTimeout = 10 * time.Second

// Notifier builds events synchronously and delivers them in the background.
// Delivery failures are logged and never reach the caller.
type Notifier struct {
	sinks   []Sink
	group   *tasks.Group
	log     *slog.Logger
	clock   func() time.Time
	timeout time.Duration
}

func New(group *tasks.Group, log *slog.Logger, sinks ...Sink) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Notifier{sinks: kept, group: group, log: log, clock: time.Now, timeout: DefaultSendTimeout}
}

var _ calls.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(_ context.Context, c calls.Call, event calls.EventType) {
	if n == nil || len(n.sinks) == 0 {
		return
	}
	ev := NewEvent(c, event, n.clock())

	run := func(ctx context.Context) { n.deliver(ctx, ev) }
	if n.group == nil {
		run(context.Background())
		return
	}
	n.group.Go("notify:"+string(event), run)
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	for _, s := range n.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Send(sendCtx, ev)
		cancel()
		if err != nil {
			n.log.Warn("event delivery failed",
				"sink", s.Name(),
				"call_id", ev.CallID,
				"event_type", ev.EventType,
				"err", err,
			)
			continue
		}
		n.log.Debug("event delivered", "sink", s.Name(), "call_id", ev.CallID, "event_type", ev.EventType)
	}
}
