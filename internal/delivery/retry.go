package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 750 * time.Millisecond

	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the outcome of a retried delivery. It never carries a Go error:
// callers read it (or speak it) as-is.
type Result struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
}

// Policy retries 5xx responses and transport failures with a linear delay of
// Base * attempt. MaxRetries is the total number of attempts.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Logger     *slog.Logger

	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the 3 attempts / 750ms policy.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Base: DefaultBaseDelay}
}

// Attempt performs a single delivery try.
type Attempt func(ctx context.Context) (*Response, error)

func (p Policy) Do(ctx context.Context, attempt Attempt) Result {
	maxAttempts := p.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}

	var last Result
	for n := 1; n <= maxAttempts; n++ {
		resp, err := attempt(ctx)
		switch {
		case err != nil:
			last = Result{Status: StatusError, Message: fmt.Sprintf("request failed: %v", err), Attempts: n}
		case resp.OK():
			return Result{Status: StatusOK, Message: "delivered", StatusCode: resp.StatusCode, Attempts: n}
		case resp.StatusCode >= 500:
			last = Result{
				Status:     StatusError,
				Message:    fmt.Sprintf("server error %d", resp.StatusCode),
				StatusCode: resp.StatusCode,
				Attempts:   n,
			}
		default:
			return Result{
				Status:     StatusError,
				Message:    fmt.Sprintf("rejected with status %d", resp.StatusCode),
				StatusCode: resp.StatusCode,
				Attempts:   n,
			}
		}

		if n == maxAttempts {
			break
		}
		delay := p.Base * time.Duration(n)
		log.Warn("delivery failed, retrying", "attempt", n, "delay", delay, "reason", last.Message)
		if err := sleep(ctx, delay); err != nil {
			last.Message = fmt.Sprintf("%s (retry aborted: %v)", last.Message, err)
			return last
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sender couples a Client with a retry Policy.
type Sender struct {
	Client  *Client
	Policy  Policy
	Headers map[string]string
}

// Send POSTs payload to target under the retry policy.
func (s Sender) Send(ctx context.Context, target string, payload any) Result {
	if target == "" {
		return Result{Status: StatusError, Message: "no destination configured"}
	}
	return s.Policy.Do(ctx, func(ctx context.Context) (*Response, error) {
		return s.Client.PostJSON(ctx, target, payload, s.Headers)
	})
}
