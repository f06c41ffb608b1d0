package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guest-messaging/internal/models"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioSender posts outbound WhatsApp messages to the Twilio Messages API.
type TwilioSender struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

func NewTwilioSender(accountSID, authToken string) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("messaging: twilio account sid and auth token are required")
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		http:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithBaseURL points the sender at another API origin (tests, regional edges).
func (s *TwilioSender) WithBaseURL(u string) *TwilioSender {
	s.baseURL = strings.TrimRight(u, "/")
	return s
}

type twilioMessageResponse struct {
	Sid          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *TwilioSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if msg.To == "" || msg.From == "" {
		return SendResult{}, errors.New("messaging: to and from are required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return SendResult{}, errors.New("messaging: empty body")
	}

	form := url.Values{}
	form.Set("To", WhatsAppAddress(msg.To))
	form.Set("From", WhatsAppAddress(msg.From))
	form.Set("Body", msg.Body)
	if msg.StatusCallback != "" {
		form.Set("StatusCallback", msg.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: twilio send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: twilio read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e twilioErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return SendResult{}, fmt.Errorf("messaging: twilio error: status=%d code=%d %s", resp.StatusCode, e.Code, e.Message)
		}
		return SendResult{}, fmt.Errorf("messaging: twilio error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out twilioMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SendResult{}, fmt.Errorf("messaging: twilio decode response: %w", err)
	}
	if out.Sid == "" {
		return SendResult{}, errors.New("messaging: twilio response without sid")
	}
	status, ok := MapStatus(out.Status)
	if !ok || status == models.DeliveryStatusFailed {
		status = models.DeliveryStatusQueued
	}
	return SendResult{ExternalID: out.Sid, Status: status}, nil
}
