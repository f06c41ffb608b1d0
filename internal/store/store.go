package store

import (
	"context"
	"errors"
	"time"

	"guest-messaging/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

// TxFunc is the unit of work executed inside WithTx. tx is bound to the
// transaction; calls on it commit or roll back together.
type TxFunc func(ctx context.Context, tx Store) error

// Store is the persistence contract for every record the service owns.
//
// Tenancy: guest and group reads are scoped by event, sessions and deliveries
// carry organization_id. Callers must never look up a guest without its event.
type Store interface {
	// WithTx runs fn in a single transaction. Nested calls on a tx-bound Store
	// join the outer transaction.
	WithTx(ctx context.Context, fn TxFunc) error

	FindOrganizationByNumber(ctx context.Context, number string) (models.Organization, error)
	GetOrganization(ctx context.Context, organizationID string) (models.Organization, error)
	GetEvent(ctx context.Context, organizationID, eventID string) (models.Event, error)

	GetGuest(ctx context.Context, eventID, guestID string) (models.Guest, error)
	FindGuestByPhone(ctx context.Context, organizationID, phone string) (models.Guest, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]models.Guest, error)
	CountGuests(ctx context.Context, eventID string) (int, error)
	// CreateGuest returns ErrDuplicate when the event already holds the dedupe key.
	CreateGuest(ctx context.Context, g models.Guest) error
	// InsertGuestsSkipDuplicates inserts in one statement and returns the ids of
	// the rows that were new; rows colliding on dedupe key are skipped.
	InsertGuestsSkipDuplicates(ctx context.Context, gs []models.Guest) ([]string, error)
	UpdateGuest(ctx context.Context, g models.Guest) error
	DeleteGuest(ctx context.Context, eventID, guestID string) error

	CreateGroup(ctx context.Context, g models.GuestGroup) error
	GetGroup(ctx context.Context, eventID, groupID string) (models.GuestGroup, error)
	DeleteGroup(ctx context.Context, eventID, groupID string) error

	FindSession(ctx context.Context, organizationID, phone string) (models.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (models.ChatSession, error)
	CreateSession(ctx context.Context, s models.ChatSession) error
	UpdateSession(ctx context.Context, s models.ChatSession) error
	DeactivateIdleSessions(ctx context.Context, lastMessageBefore time.Time) (int, error)

	AppendInboundMessage(ctx context.Context, m models.InboundMessage) error
	ListUnprocessedMessages(ctx context.Context, sessionID string) ([]models.InboundMessage, error)
	MarkMessagesProcessed(ctx context.Context, ids []string, at time.Time) error

	AppendChatLog(ctx context.Context, l models.ChatLog) error
	// ListChatLogs returns the most recent limit logs in chronological order.
	ListChatLogs(ctx context.Context, sessionID string, limit int) ([]models.ChatLog, error)

	CreateDelivery(ctx context.Context, d models.MessageDelivery) error
	// GetDeliveryForUpdate locks the row until the surrounding transaction ends.
	GetDeliveryForUpdate(ctx context.Context, messageSid string) (models.MessageDelivery, error)
	UpdateDelivery(ctx context.Context, d models.MessageDelivery) error
	ListDeliveries(ctx context.Context, organizationID string, from, to time.Time) ([]models.MessageDelivery, error)

	// InsertUsageEvent reports false when an event for the message already exists.
	InsertUsageEvent(ctx context.Context, e models.UsageEvent) (bool, error)
	IncrementUsage(ctx context.Context, organizationID, period string, delta int64, at time.Time) (models.UsageCounter, error)
	GetUsage(ctx context.Context, organizationID, period string) (models.UsageCounter, error)
}
