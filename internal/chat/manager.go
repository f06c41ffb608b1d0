package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
	"guest-messaging/pkg/logger"

	"github.com/google/uuid"
)

// JobReply is the queue job type consumed by the Dispatcher.
const JobReply = "chat.reply"

// ReplyJob is the payload of a JobReply. It names the session only; the
// dispatcher re-reads pending messages when it runs.
type ReplyJob struct {
	SessionID      string `json:"session_id"`
	OrganizationID string `json:"organization_id"`
}

// Enqueuer publishes jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any) (string, error)
}

var ErrUnknownNumber = errors.New("chat: no organization for destination number")

// Intake reports what an inbound message did. Skipped is set when the
// payload was ignored.
type Intake struct {
	Session   models.ChatSession
	MessageID string
	JobID     string
	Duplicate bool
	Skipped   string
}

// Manager is the fast inbound path: it records the message on its session
// and hands the reply off to the queue without waiting for it.
type Manager struct {
	store store.Store
	jobs  Enqueuer
	clock func() time.Time
	newID func() string
}

func NewManager(st store.Store, jobs Enqueuer) *Manager {
	return &Manager{store: st, jobs: jobs, clock: time.Now, newID: uuid.NewString}
}

// HandleIncomingMessage buffers a text (or mixed) message and enqueues a reply.
func (m *Manager) HandleIncomingMessage(ctx context.Context, in messaging.Inbound) (Intake, error) {
	if in.From == "" || !in.HasContent() {
		return Intake{Skipped: "no sender or content"}, nil
	}
	return m.handle(ctx, in, models.MessageKindText)
}

// HandleIncomingAudio buffers a voice note. Payloads without an audio
// attachment are ignored.
func (m *Manager) HandleIncomingAudio(ctx context.Context, in messaging.Inbound) (Intake, error) {
	if in.From == "" || len(in.Media) == 0 {
		return Intake{Skipped: "no sender or media"}, nil
	}
	hasAudio := false
	for _, a := range in.Media {
		if a.IsAudio() {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return Intake{Skipped: "no audio attachment"}, nil
	}
	return m.handle(ctx, in, models.MessageKindAudio)
}

// HandleInbound routes to the audio or text path.
func (m *Manager) HandleInbound(ctx context.Context, in messaging.Inbound) (Intake, error) {
	if in.IsAudio() {
		return m.HandleIncomingAudio(ctx, in)
	}
	return m.HandleIncomingMessage(ctx, in)
}

func (m *Manager) handle(ctx context.Context, in messaging.Inbound, kind models.MessageKind) (Intake, error) {
	phone := messaging.NormalizePhone(in.From)
	if phone == "" {
		return Intake{Skipped: "unparseable sender"}, nil
	}
	org, err := m.store.FindOrganizationByNumber(ctx, messaging.NormalizePhone(in.To))
	if errors.Is(err, store.ErrNotFound) {
		return Intake{}, fmt.Errorf("%w: %s", ErrUnknownNumber, in.To)
	}
	if err != nil {
		return Intake{}, fmt.Errorf("chat: resolve organization: %w", err)
	}

	now := m.clock().UTC()
	received := in.ReceivedAt.UTC()
	if in.ReceivedAt.IsZero() {
		received = now
	}

	sess, err := m.touchSession(ctx, org.ID, phone, received)
	if err != nil {
		return Intake{}, err
	}
	ctx, log := logger.WithAttrs(ctx, "session_id", sess.ID, "organization_id", org.ID)

	msg := models.InboundMessage{
		ID:                m.newID(),
		SessionID:         sess.ID,
		OrganizationID:    org.ID,
		ProviderMessageID: in.ProviderMessageID,
		Kind:              kind,
		Body:              in.Body,
		Media:             in.Media,
		ReceivedAt:        received,
	}
	if err := m.store.AppendInboundMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			log.Info("inbound replay ignored", "provider_message_id", in.ProviderMessageID)
			return Intake{Session: sess, Duplicate: true}, nil
		}
		return Intake{}, fmt.Errorf("chat: append message: %w", err)
	}

	jobID, err := m.jobs.Enqueue(ctx, JobReply, ReplyJob{SessionID: sess.ID, OrganizationID: org.ID})
	if err != nil {
		// The message stays unprocessed and is picked up by the next reply.
		return Intake{Session: sess, MessageID: msg.ID}, fmt.Errorf("chat: enqueue reply: %w", err)
	}
	log.Debug("reply enqueued", "job_id", jobID, "kind", kind)
	return Intake{Session: sess, MessageID: msg.ID, JobID: jobID}, nil
}

// touchSession finds or creates the (organization, phone) session, marks it
// active and re-links the guest when the session has none yet.
func (m *Manager) touchSession(ctx context.Context, organizationID, phone string, at time.Time) (models.ChatSession, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := m.store.FindSession(ctx, organizationID, phone)
		switch {
		case err == nil:
			sess.IsActive = true
			if at.After(sess.LastMessageAt) {
				sess.LastMessageAt = at
			}
			if sess.GuestID == "" {
				m.linkGuest(ctx, &sess)
			}
			if err := m.store.UpdateSession(ctx, sess); err != nil {
				return models.ChatSession{}, fmt.Errorf("chat: update session: %w", err)
			}
			return sess, nil
		case !errors.Is(err, store.ErrNotFound):
			return models.ChatSession{}, fmt.Errorf("chat: find session: %w", err)
		}

		sess = models.ChatSession{
			ID:             m.newID(),
			OrganizationID: organizationID,
			Phone:          phone,
			IsActive:       true,
			LastMessageAt:  at,
			CreatedAt:      m.clock().UTC(),
		}
		m.linkGuest(ctx, &sess)
		err = m.store.CreateSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return models.ChatSession{}, fmt.Errorf("chat: create session: %w", err)
		}
		// Lost a race with a concurrent first message; read the winner.
	}
	return models.ChatSession{}, fmt.Errorf("chat: session for %s kept colliding", phone)
}

func (m *Manager) linkGuest(ctx context.Context, sess *models.ChatSession) {
	g, err := m.store.FindGuestByPhone(ctx, sess.OrganizationID, sess.Phone)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.From(ctx).Warn("guest lookup failed", "err", err)
		}
		return
	}
	sess.GuestID = g.ID
	sess.EventID = g.EventID
}
