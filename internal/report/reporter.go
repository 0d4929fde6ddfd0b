package report

import (
	"context"
	"log/slog"
	"time"

	"voice-telephony/internal/delivery"
	"voice-telephony/internal/transcript"
)

const DefaultMinSessionDuration = 5 * time.Second

// Gate decides whether a session had enough activity to be reported.
type Gate struct {
	MinDuration time.Duration
}

// Allows reports true when the session lasted at least MinDuration or the
// user said something.
func (g Gate) Allows(d time.Duration, entries []transcript.Entry) bool {
	floor := g.MinDuration
	if floor <= 0 {
		floor = DefaultMinSessionDuration
	}
	return d >= floor || transcript.HasUserText(entries)
}

// Reporter builds, gates and delivers end-of-session reports.
type Reporter struct {
	URL     string
	Builder Builder
	Gate    Gate
	Sender  delivery.Sender
	Log     *slog.Logger
}

// Outcome describes what happened to a report.
type Outcome struct {
	Sent    bool            `json:"sent"`
	Skipped string          `json:"skipped,omitempty"`
	Result  delivery.Result `json:"result"`
}

func (r *Reporter) Send(ctx context.Context, rc Context) Outcome {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room_name", rc.RoomName)

	if r.URL == "" {
		log.Info("end-call webhook not configured, skipping report")
		return Outcome{Skipped: "no destination"}
	}

	p := r.Builder.Build(ctx, rc)
	ok := r.Gate.Allows(p.Duration(), p.Merged())
	log.Info("end-call criteria",
		"session_seconds", p.Duration().Seconds(),
		"min_required", r.Gate.MinDuration.Seconds(),
		"has_user_activity", transcript.HasUserText(p.Merged()),
		"send", ok,
	)
	if !ok {
		return Outcome{Skipped: "low activity"}
	}

	res := r.Sender.Send(ctx, r.URL, p)
	if res.Status != delivery.StatusOK {
		log.Warn("end-call report failed", "status_code", res.StatusCode, "attempts", res.Attempts, "message", res.Message)
		return Outcome{Result: res}
	}
	log.Info("end-call report sent", "attempts", res.Attempts)
	return Outcome{Sent: true, Result: res}
}
