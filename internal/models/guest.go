package models

import "time"

// Organization is the tenant. Every guest, session, delivery and usage counter
// belongs to exactly one organization.
type Organization struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// WhatsAppNumber is the transport number guests write to (E.164).
	// Inbound webhooks resolve the organization from it.
	WhatsAppNumber string `json:"whatsapp_number" db:"whatsapp_number"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Event struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Location       string    `json:"location,omitempty" db:"location"`
	StartsAt       time.Time `json:"starts_at" db:"starts_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type GuestStatus string

const (
	GuestStatusPending   GuestStatus = "PENDING"
	GuestStatusConfirmed GuestStatus = "CONFIRMED"
	GuestStatusDeclined  GuestStatus = "DECLINED"
	GuestStatusInactive  GuestStatus = "INACTIVE"
)

func (s GuestStatus) Valid() bool {
	switch s {
	case GuestStatusPending, GuestStatusConfirmed, GuestStatusDeclined, GuestStatusInactive:
		return true
	default:
		return false
	}
}

type Language string

const (
	LanguageES Language = "ES"
	LanguageEN Language = "EN"
)

func (l Language) Valid() bool { return l == LanguageES || l == LanguageEN }

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Guest is a single invitee of an event.
//
// Invariants:
// - A guest belongs to exactly one event.
// - IsPrimaryGuest is true iff the guest is the lead of its group (or has no group).
// - DedupeKey is unique per event; it makes batch re-submission idempotent.
type Guest struct {
	ID                  string      `json:"id" db:"id"`
	OrganizationID      string      `json:"organization_id" db:"organization_id"`
	EventID             string      `json:"event_id" db:"event_id"`
	Name                string      `json:"name" db:"name"`
	Phone               string      `json:"phone,omitempty" db:"phone"`
	Status              GuestStatus `json:"status" db:"status"`
	Priority            Priority    `json:"priority" db:"priority"`
	Language            Language    `json:"language" db:"language"`
	Category            string      `json:"category,omitempty" db:"category"`
	TableNumber         string      `json:"table_number,omitempty" db:"table_number"`
	DietaryRestrictions string      `json:"dietary_restrictions,omitempty" db:"dietary_restrictions"`
	NumberOfGuests      int         `json:"number_of_guests" db:"number_of_guests"`
	HasMultipleGuests   bool        `json:"has_multiple_guests" db:"has_multiple_guests"`
	IsPrimaryGuest      bool        `json:"is_primary_guest" db:"is_primary_guest"`
	GroupID             string      `json:"group_id,omitempty" db:"group_id"`
	DedupeKey           string      `json:"-" db:"dedupe_key"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
}

// IsGroupLead reports whether the guest leads a multi-person group.
func (g Guest) IsGroupLead() bool { return g.GroupID != "" && g.IsPrimaryGuest }

// GuestGroup ties a lead guest to the companions invited with them.
type GuestGroup struct {
	ID          string    `json:"id" db:"id"`
	EventID     string    `json:"event_id" db:"event_id"`
	LeadGuestID string    `json:"lead_guest_id" db:"lead_guest_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
