package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"

	"github.com/google/uuid"
)

// Service counts delivered outbound messages per organization and month.
//
// Counting invariants:
//   - A message is counted at most once; the usage_events row keyed by
//     message_sid is the idempotency guard.
//   - The counter projection only moves together with a ledger insert.
//   - Only DELIVERED or READ messages are counted.
type Service struct {
	store store.Store
	clock func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, clock: time.Now}
}

var ErrNotDelivered = errors.New("usage: message not delivered")

// Record counts d inside the caller's transaction. tx must be the store bound
// to the transaction that advanced d so the count commits with the status.
// counted is false when the message was already counted.
func Record(ctx context.Context, tx store.Store, d models.MessageDelivery, at time.Time) (bool, error) {
	if d.Status != models.DeliveryStatusDelivered && d.Status != models.DeliveryStatusRead {
		return false, ErrNotDelivered
	}
	at = at.UTC()
	period := models.UsagePeriod(at)

	inserted, err := tx.InsertUsageEvent(ctx, models.UsageEvent{
		ID:             uuid.NewString(),
		OrganizationID: d.OrganizationID,
		Period:         period,
		MessageSid:     d.MessageSid,
		CreatedAt:      at,
	})
	if err != nil {
		return false, fmt.Errorf("usage: insert event: %w", err)
	}
	if !inserted {
		return false, nil
	}
	if _, err := tx.IncrementUsage(ctx, d.OrganizationID, period, 1, at); err != nil {
		return false, fmt.Errorf("usage: increment: %w", err)
	}
	return true, nil
}

// RecordMessageConsumption counts the delivery identified by messageSid. A
// callback replay for an already counted message reports counted=false.
func (s *Service) RecordMessageConsumption(ctx context.Context, messageSid string) (counted bool, err error) {
	if messageSid == "" {
		return false, store.ErrNotFound
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		d, err := tx.GetDeliveryForUpdate(ctx, messageSid)
		if err != nil {
			return err
		}
		counted, err = Record(ctx, tx, d, s.clock())
		return err
	})
	return counted, err
}

// GetUsage returns the counter for period (YYYY-MM). A month without traffic
// reads as zero.
func (s *Service) GetUsage(ctx context.Context, organizationID, period string) (models.UsageCounter, error) {
	if period == "" {
		period = models.UsagePeriod(s.clock())
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return models.UsageCounter{}, fmt.Errorf("usage: bad period %q", period)
	}
	c, err := s.store.GetUsage(ctx, organizationID, period)
	if errors.Is(err, store.ErrNotFound) {
		return models.UsageCounter{OrganizationID: organizationID, Period: period}, nil
	}
	return c, err
}
