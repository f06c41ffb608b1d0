package messaging

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks guest-messaging/internal/messaging Sender

import (
	"context"
	"time"

	"guest-messaging/internal/models"
)

// Sender is the outbound transport. Implementations must not retry on their
// own; the caller records one MessageDelivery per Send.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

type OutboundMessage struct {
	// To and From are E.164 numbers.
	To   string
	From string
	Body string

	// StatusCallback is optional; transports without callbacks ignore it.
	StatusCallback string
}

type SendResult struct {
	ExternalID string
	Status     models.DeliveryStatus
}

// Inbound is a guest message as received from any transport, already
// stripped of provider prefixes.
type Inbound struct {
	ProviderMessageID string
	From              string
	To                string
	Body              string
	ProfileName       string
	Media             []models.MediaAttachment
	ReceivedAt        time.Time
}

// HasContent reports whether there is anything for the agent to read.
func (m Inbound) HasContent() bool {
	return m.Body != "" || len(m.Media) > 0
}

// IsAudio reports whether every attachment is audio.
func (m Inbound) IsAudio() bool {
	if len(m.Media) == 0 {
		return false
	}
	for _, a := range m.Media {
		if !a.IsAudio() {
			return false
		}
	}
	return true
}

// StatusUpdate is one delivery status signal for an outbound message.
type StatusUpdate struct {
	MessageSid   string
	Status       string
	ErrorCode    string
	ErrorMessage string
}
