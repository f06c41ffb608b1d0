package messaging

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"guest-messaging/internal/models"
)

// Twilio posts application/x-www-form-urlencoded for both the incoming
// message webhook and the status callback.
// Ref: https://www.twilio.com/docs/messaging/guides/webhook-request

var (
	ErrMissingSender = errors.New("messaging: missing sender")
	ErrMissingSid    = errors.New("messaging: missing message sid")
)

// maxMedia bounds NumMedia; Twilio allows at most 10 attachments per message.
const maxMedia = 10

// ParseTwilioInbound converts the incoming message webhook form.
func ParseTwilioInbound(form url.Values, receivedAt time.Time) (Inbound, error) {
	m := Inbound{
		ProviderMessageID: form.Get("MessageSid"),
		From:              NormalizePhone(form.Get("From")),
		To:                NormalizePhone(form.Get("To")),
		Body:              strings.TrimSpace(form.Get("Body")),
		ProfileName:       form.Get("ProfileName"),
		ReceivedAt:        receivedAt,
	}
	if m.ProviderMessageID == "" {
		m.ProviderMessageID = form.Get("SmsMessageSid")
	}
	if m.From == "" {
		return Inbound{}, ErrMissingSender
	}

	if raw := form.Get("NumMedia"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Inbound{}, fmt.Errorf("messaging: invalid NumMedia %q", raw)
		}
		if n > maxMedia {
			n = maxMedia
		}
		for i := 0; i < n; i++ {
			u := form.Get(fmt.Sprintf("MediaUrl%d", i))
			if u == "" {
				continue
			}
			m.Media = append(m.Media, models.MediaAttachment{
				URL:         u,
				ContentType: form.Get(fmt.Sprintf("MediaContentType%d", i)),
			})
		}
	}
	return m, nil
}

// ParseTwilioStatus converts the outbound status callback form.
func ParseTwilioStatus(form url.Values) (StatusUpdate, error) {
	u := StatusUpdate{
		MessageSid:   form.Get("MessageSid"),
		Status:       strings.ToLower(strings.TrimSpace(form.Get("MessageStatus"))),
		ErrorCode:    form.Get("ErrorCode"),
		ErrorMessage: form.Get("ErrorMessage"),
	}
	if u.MessageSid == "" {
		u.MessageSid = form.Get("SmsSid")
	}
	if u.MessageSid == "" {
		return StatusUpdate{}, ErrMissingSid
	}
	if u.Status == "" {
		u.Status = strings.ToLower(form.Get("SmsStatus"))
	}
	return u, nil
}

// MapStatus translates a transport status into the delivery lifecycle.
// ok is false for statuses that carry no lifecycle meaning (e.g. "receiving").
func MapStatus(status string) (models.DeliveryStatus, bool) {
	switch strings.ToLower(status) {
	case "queued", "accepted", "scheduled":
		return models.DeliveryStatusQueued, true
	case "sending", "sent":
		return models.DeliveryStatusSent, true
	case "delivered":
		return models.DeliveryStatusDelivered, true
	case "read":
		return models.DeliveryStatusRead, true
	case "failed", "undelivered", "canceled":
		return models.DeliveryStatusFailed, true
	default:
		return "", false
	}
}
