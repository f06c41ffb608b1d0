package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guest-messaging/internal/chat"
	"guest-messaging/internal/delivery"
	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	twilioFormKey = "twilio_form"

	// Twilio webhook bodies are small url-encoded forms.
	maxWebhookBody = 64 << 10
)

// InboundHandler is the Session Manager entry point.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in messaging.Inbound) (chat.Intake, error)
}

// StatusApplier is the Delivery Tracker entry point.
type StatusApplier interface {
	Apply(ctx context.Context, u messaging.StatusUpdate) (models.MessageDelivery, delivery.Outcome, error)
}

// VerifyTwilioSignature checks X-Twilio-Signature against the raw body before
// anything parses it. publicBaseURL is the origin Twilio was configured with;
// the path and query of the request are appended to it. When validate is
// false (local development) the form is still parsed from the raw body.
func VerifyTwilioSignature(authToken, publicBaseURL string, validate bool) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil || len(raw) > maxWebhookBody {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		form, err := url.ParseQuery(string(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}

		if validate {
			fullURL := base + c.Request.URL.RequestURI()
			if !messaging.ValidateTwilioSignature(authToken, fullURL, form, c.GetHeader(messaging.SignatureHeader)) {
				log.Warn("twilio signature rejected", "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
				return
			}
		}

		c.Set(twilioFormKey, form)
		c.Next()
	}
}

func twilioForm(c *gin.Context) url.Values {
	if v, ok := c.Get(twilioFormKey); ok {
		if f, ok := v.(url.Values); ok {
			return f
		}
	}
	return url.Values{}
}

// TwilioWebhooks converts Twilio callbacks to internal types and delegates.
//
// No business logic here.
type TwilioWebhooks struct {
	Inbound InboundHandler
	Status  StatusApplier
	Now     func() time.Time
}

// HandleInbound buffers the guest message and acknowledges with empty TwiML.
// The reply is sent later through the outbound API, so the acknowledgement
// is the same whatever happened.
func (h TwilioWebhooks) HandleInbound(c *gin.Context) {
	log := logger.FromGin(c)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	in, err := messaging.ParseTwilioInbound(twilioForm(c), now())
	if err != nil {
		log.Warn("twilio inbound ignored", "err", err)
		writeEmptyTwiML(c)
		return
	}

	res, err := h.Inbound.HandleInbound(c.Request.Context(), in)
	switch {
	case errors.Is(err, chat.ErrUnknownNumber):
		log.Warn("inbound for unknown number", "to", in.To)
	case err != nil:
		log.Error("inbound handling failed", "provider_message_id", in.ProviderMessageID, "err", err)
	case res.Skipped != "":
		log.Info("inbound skipped", "reason", res.Skipped)
	}
	writeEmptyTwiML(c)
}

// HandleStatus applies a delivery status callback. Unknown sids and replays
// are successful no-ops.
func (h TwilioWebhooks) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	u, err := messaging.ParseTwilioStatus(twilioForm(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message sid required"})
		return
	}

	if _, _, err := h.Status.Apply(c.Request.Context(), u); err != nil {
		log.Error("status callback failed", "message_sid", u.MessageSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func writeEmptyTwiML(c *gin.Context) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, messaging.RenderEmptyTwiML())
}
