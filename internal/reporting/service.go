package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const (
	maxUsageMonths = 24
	maxTopFailures = 5
)

// Repository abstracts data access for reporting.
//
// Methods must filter by organization.
type Repository interface {
	ListDeliveries(ctx context.Context, organizationID string, from, to time.Time) ([]models.MessageDelivery, error)
	GetUsage(ctx context.Context, organizationID, period string) (models.UsageCounter, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) DeliverySummary(ctx context.Context, req DeliverySummaryRequest) (DeliverySummary, error) {
	if req.OrganizationID == "" {
		return DeliverySummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return DeliverySummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return DeliverySummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListDeliveries(ctx, req.OrganizationID, req.Range.From, req.Range.To)
	if err != nil {
		return DeliverySummary{}, err
	}

	out := DeliverySummary{OrganizationID: req.OrganizationID}
	var (
		latencyTotal time.Duration
		latencyCount int
		failures     = map[string]int{}
	)
	for _, d := range rows {
		out.TotalMessages++
		switch d.Status {
		case models.DeliveryStatusQueued:
			out.Queued++
		case models.DeliveryStatusSent:
			out.Sent++
		case models.DeliveryStatusDelivered:
			out.Delivered++
		case models.DeliveryStatusRead:
			out.Read++
		case models.DeliveryStatusFailed:
			out.Failed++
			failures[d.ErrorMessage]++
		}
		if d.DeliveredAt != nil && d.DeliveredAt.After(d.CreatedAt) {
			latencyTotal += d.DeliveredAt.Sub(d.CreatedAt)
			latencyCount++
		}
	}

	if out.TotalMessages > 0 {
		out.DeliveryRate = float64(out.Delivered+out.Read) / float64(out.TotalMessages)
		out.ReadRate = float64(out.Read) / float64(out.TotalMessages)
	}
	if latencyCount > 0 {
		out.AverageDeliverySeconds = int((latencyTotal / time.Duration(latencyCount)).Seconds())
	}
	out.TopFailures = topFailures(failures)
	return out, nil
}

func topFailures(counts map[string]int) []FailureReason {
	if len(counts) == 0 {
		return nil
	}
	out := make([]FailureReason, 0, len(counts))
	for msg, n := range counts {
		out = append(out, FailureReason{Message: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > maxTopFailures {
		out = out[:maxTopFailures]
	}
	return out
}

func (s *Service) UsageSummary(ctx context.Context, req UsageSummaryRequest) (UsageSummary, error) {
	if req.OrganizationID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	from, err := time.Parse("2006-01", req.FromPeriod)
	if err != nil {
		return UsageSummary{}, ErrInvalidRequest
	}
	to, err := time.Parse("2006-01", req.ToPeriod)
	if err != nil || to.Before(from) {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}

	out := UsageSummary{OrganizationID: req.OrganizationID, Months: make([]models.UsageCounter, 0)}
	for m, n := from, 0; !m.After(to); m, n = m.AddDate(0, 1, 0), n+1 {
		if n >= maxUsageMonths {
			return UsageSummary{}, ErrInvalidRequest
		}
		period := models.UsagePeriod(m)
		c, err := s.repo.GetUsage(ctx, req.OrganizationID, period)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c = models.UsageCounter{OrganizationID: req.OrganizationID, Period: period}
		case err != nil:
			return UsageSummary{}, err
		}
		out.Months = append(out.Months, c)
		out.TotalMessages += c.MessagesCount
	}
	return out, nil
}
