package reporting

import (
	"time"

	"guest-messaging/internal/models"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DeliverySummaryRequest requests aggregated outbound message metrics.
// Organization isolation: OrganizationID is required.
type DeliverySummaryRequest struct {
	OrganizationID string    `json:"organization_id"`
	Range          TimeRange `json:"range"`
}

type FailureReason struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type DeliverySummary struct {
	OrganizationID string `json:"organization_id"`

	TotalMessages int `json:"total_messages"`
	Queued        int `json:"queued"`
	Sent          int `json:"sent"`
	Delivered     int `json:"delivered"`
	Read          int `json:"read"`
	Failed        int `json:"failed"`

	// Rates are over all messages in range; Read counts as delivered.
	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`

	AverageDeliverySeconds int `json:"average_delivery_seconds"`

	TopFailures []FailureReason `json:"top_failures,omitempty"`
}

// UsageSummaryRequest covers the months from FromPeriod to ToPeriod
// inclusive (YYYY-MM).
type UsageSummaryRequest struct {
	OrganizationID string `json:"organization_id"`
	FromPeriod     string `json:"from_period"`
	ToPeriod       string `json:"to_period"`
}

type UsageSummary struct {
	OrganizationID string                `json:"organization_id"`
	Months         []models.UsageCounter `json:"months"`
	TotalMessages  int64                 `json:"total_messages"`
}
