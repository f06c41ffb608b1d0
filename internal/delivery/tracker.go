package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
	"guest-messaging/internal/usage"
	"guest-messaging/pkg/logger"

	"github.com/google/uuid"
)

// Outcome describes what a status callback did.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeStale    Outcome = "stale"    // replay or a status behind the current one
	OutcomeUnknown  Outcome = "unknown"  // no delivery row yet for the sid
	OutcomeUnmapped Outcome = "unmapped" // transport status with no lifecycle meaning
)

// Tracker owns the MessageDelivery lifecycle. Rows are created when a send
// is initiated and advanced only by transport status callbacks.
//
// Undelivered messages are marked FAILED and never retried.
type Tracker struct {
	store store.Store
	clock func() time.Time
}

func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st, clock: time.Now}
}

// Origin identifies what an outbound message answered.
type Origin struct {
	OrganizationID string
	SessionID      string
	GuestID        string
}

// Begin records a freshly sent message. The initial status comes from the
// transport response; QUEUED when the transport did not say.
func (t *Tracker) Begin(ctx context.Context, o Origin, res messaging.SendResult) (models.MessageDelivery, error) {
	if res.ExternalID == "" {
		return models.MessageDelivery{}, errors.New("delivery: missing external id")
	}
	now := t.clock().UTC()
	status := res.Status
	if status != models.DeliveryStatusSent {
		status = models.DeliveryStatusQueued
	}
	d := models.MessageDelivery{
		ID:             uuid.NewString(),
		OrganizationID: o.OrganizationID,
		SessionID:      o.SessionID,
		GuestID:        o.GuestID,
		MessageSid:     res.ExternalID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == models.DeliveryStatusSent {
		d.SentAt = &now
	}
	if err := t.store.CreateDelivery(ctx, d); err != nil {
		return models.MessageDelivery{}, fmt.Errorf("delivery: create: %w", err)
	}
	return d, nil
}

// Apply advances the delivery named by u. Transitions are forward-only along
// QUEUED -> SENT -> DELIVERED -> READ, FAILED only from QUEUED or SENT.
// A sid without a row is a no-op because callbacks can race the row's creation.
// DELIVERED and READ count usage in the same transaction.
func (t *Tracker) Apply(ctx context.Context, u messaging.StatusUpdate) (models.MessageDelivery, Outcome, error) {
	next, ok := messaging.MapStatus(u.Status)
	if !ok {
		return models.MessageDelivery{}, OutcomeUnmapped, nil
	}
	log := logger.From(ctx).With("message_sid", u.MessageSid, "status", u.Status)

	var (
		out     models.MessageDelivery
		outcome Outcome
	)
	err := t.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		d, err := tx.GetDeliveryForUpdate(ctx, u.MessageSid)
		if errors.Is(err, store.ErrNotFound) {
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		out = d
		if !d.Status.CanAdvanceTo(next) {
			outcome = OutcomeStale
			return nil
		}

		now := t.clock().UTC()
		advance(&d, next, now)
		if next == models.DeliveryStatusFailed {
			d.ErrorMessage = failureText(u)
		}
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return err
		}
		if next == models.DeliveryStatusDelivered || next == models.DeliveryStatusRead {
			counted, err := usage.Record(ctx, tx, d, now)
			if err != nil {
				return err
			}
			if counted {
				log.Debug("usage counted", "organization_id", d.OrganizationID)
			}
		}
		out = d
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return models.MessageDelivery{}, "", fmt.Errorf("delivery: apply: %w", err)
	}

	switch outcome {
	case OutcomeUnknown:
		log.Info("status for unknown message ignored")
	case OutcomeStale:
		log.Debug("stale status ignored", "current", out.Status)
	case OutcomeApplied:
		if out.Status == models.DeliveryStatusFailed {
			log.Warn("message failed", "error", out.ErrorMessage)
		}
	}
	return out, outcome, nil
}

func advance(d *models.MessageDelivery, next models.DeliveryStatus, now time.Time) {
	d.Status = next
	d.UpdatedAt = now
	switch next {
	case models.DeliveryStatusSent:
		setOnce(&d.SentAt, now)
	case models.DeliveryStatusDelivered:
		setOnce(&d.DeliveredAt, now)
	case models.DeliveryStatusRead:
		// READ implies delivery even when the delivered callback never came.
		setOnce(&d.DeliveredAt, now)
		setOnce(&d.ReadAt, now)
	case models.DeliveryStatusFailed:
		setOnce(&d.FailedAt, now)
	}
}

func setOnce(p **time.Time, now time.Time) {
	if *p == nil {
		ts := now
		*p = &ts
	}
}

func failureText(u messaging.StatusUpdate) string {
	reason := strings.ToLower(u.Status)
	detail := strings.TrimSpace(strings.Join([]string{u.ErrorCode, u.ErrorMessage}, " "))
	if detail == "" {
		if reason == "undelivered" {
			detail = "the carrier could not deliver the message"
		} else {
			detail = "no error details"
		}
	}
	return reason + ": " + detail
}
