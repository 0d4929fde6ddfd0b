package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records operator actions.
//
// IMPORTANT:
// - Audit is internal-only.
// - Callers treat audit logging as best-effort: Record never fails the action.
type Service struct {
	repos []Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(log *slog.Logger, repos ...Repository) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repos: repos, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Append stamps and stores e in every repository. It returns the first error.
func (s *Service) Append(ctx context.Context, e Event) error {
	if len(s.repos) == 0 {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}

	var first error
	for _, r := range s.repos {
		if err := r.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Record appends an event and logs failures instead of returning them.
func (s *Service) Record(ctx context.Context, actor Actor, typ EventType, callID, message string, metadata map[string]any) {
	if s == nil {
		return
	}
	err := s.Append(ctx, Event{
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     message,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Warn("audit append failed", "type", typ, "call_id", callID, "err", err)
	}
}
