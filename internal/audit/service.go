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

// Service records call outcome events.
//
// A nil *Service is valid and drops everything, so components can run without audit.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil {
		return nil
	}
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Emit appends and only logs failures.
func (s *Service) Emit(ctx context.Context, sessionID, room string, typ EventType, message string, metadata map[string]any) {
	if s == nil {
		return
	}
	err := s.Append(ctx, Event{
		SessionID: sessionID,
		RoomName:  room,
		Type:      typ,
		Message:   message,
		Metadata:  metadata,
	})
	if err != nil {
		s.log.Warn("audit append failed", "session_id", sessionID, "type", string(typ), "err", err)
	}
}
