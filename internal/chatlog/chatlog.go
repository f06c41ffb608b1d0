package chatlog

import (
	"context"
	"errors"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"

	"github.com/google/uuid"
)

// Repository is the persistence contract for chat logs.
//
// It is append-only: there is no update or delete.
type Repository interface {
	AppendChatLog(ctx context.Context, l models.ChatLog) error
	ListChatLogs(ctx context.Context, sessionID string, limit int) ([]models.ChatLog, error)
	GetSession(ctx context.Context, sessionID string) (models.ChatSession, error)
}

const (
	DefaultTimelineLimit = 50
	MaxTimelineLimit     = 500
)

// Service records one ChatLog per processed exchange and serves the
// conversation timeline.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// In returns a service writing through repo, typically a transaction-bound
// store.
func (s *Service) In(repo Repository) *Service {
	return &Service{repo: repo, clock: s.clock}
}

var ErrInvalidLog = errors.New("chatlog: invalid log")

func (s *Service) Append(ctx context.Context, l models.ChatLog) (models.ChatLog, error) {
	if l.SessionID == "" || l.OrganizationID == "" {
		return models.ChatLog{}, ErrInvalidLog
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.clock().UTC()
	}
	calls := make([]models.ToolCall, len(l.ToolCalls))
	copy(calls, l.ToolCalls)
	l.ToolCalls = calls

	if err := s.repo.AppendChatLog(ctx, l); err != nil {
		return models.ChatLog{}, err
	}
	return l, nil
}

// Recent returns the last n exchanges of a session, oldest first.
func (s *Service) Recent(ctx context.Context, sessionID string, n int) ([]models.ChatLog, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.repo.ListChatLogs(ctx, sessionID, n)
}

// Timeline returns a session's logs for display. Sessions of other
// organizations read as not found.
func (s *Service) Timeline(ctx context.Context, organizationID, sessionID string, limit int) ([]models.ChatLog, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	switch {
	case limit <= 0:
		limit = DefaultTimelineLimit
	case limit > MaxTimelineLimit:
		limit = MaxTimelineLimit
	}
	return s.repo.ListChatLogs(ctx, sessionID, limit)
}
