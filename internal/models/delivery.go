package models

import "time"

type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "QUEUED"
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusRead      DeliveryStatus = "READ"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// rank orders statuses along QUEUED -> SENT -> DELIVERED -> READ.
// FAILED shares the DELIVERED rank so it can only follow QUEUED or SENT.
func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryStatusQueued:
		return 0
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered, DeliveryStatusFailed:
		return 2
	case DeliveryStatusRead:
		return 3
	default:
		return -1
	}
}

// CanAdvanceTo reports whether a delivery in status s may move to next.
// Replaying the current status is not an advance.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if next.rank() < 0 || s == next {
		return false
	}
	if s == DeliveryStatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// MessageDelivery tracks one outbound message through transport callbacks.
// MessageSid is unique across the system.
type MessageDelivery struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	SessionID      string         `json:"session_id,omitempty" db:"session_id"`
	GuestID        string         `json:"guest_id,omitempty" db:"guest_id"`
	MessageSid     string         `json:"message_sid" db:"message_sid"`
	Status         DeliveryStatus `json:"status" db:"status"`
	SentAt         *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt         *time.Time     `json:"read_at,omitempty" db:"read_at"`
	FailedAt       *time.Time     `json:"failed_at,omitempty" db:"failed_at"`
	ErrorMessage   string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// UsageCounter is the per-organization monthly projection of delivered messages.
type UsageCounter struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Period         string    `json:"period" db:"period"` // YYYY-MM
	MessagesCount  int64     `json:"messages_count" db:"messages_count"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// UsageEvent is the immutable ledger row behind a counter increment.
type UsageEvent struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Period         string    `json:"period" db:"period"`
	MessageSid     string    `json:"message_sid" db:"message_sid"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// UsagePeriod formats the counter period for t (UTC month).
func UsagePeriod(t time.Time) string { return t.UTC().Format("2006-01") }
