package messaging

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"guest-messaging/internal/models"
)

func TestParseTwilioInbound(t *testing.T) {
	form, err := url.ParseQuery("MessageSid=SM1&From=whatsapp%3A%2B5215512345678&To=whatsapp%3A%2B14155238886" +
		"&Body=S%C3%AD+confirmo&ProfileName=Ana&NumMedia=2" +
		"&MediaUrl0=https%3A%2F%2Fapi.twilio.com%2Fm0&MediaContentType0=audio%2Fogg" +
		"&MediaUrl1=https%3A%2F%2Fapi.twilio.com%2Fm1&MediaContentType1=image%2Fjpeg")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	at := time.Unix(1700000000, 0).UTC()
	m, err := ParseTwilioInbound(form, at)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m.ProviderMessageID != "SM1" || m.From != "+5215512345678" || m.To != "+14155238886" {
		t.Fatalf("unexpected ids: %+v", m)
	}
	if m.Body != "Sí confirmo" || m.ProfileName != "Ana" || !m.ReceivedAt.Equal(at) {
		t.Fatalf("unexpected body fields: %+v", m)
	}
	if len(m.Media) != 2 || m.Media[0].ContentType != "audio/ogg" {
		t.Fatalf("unexpected media: %+v", m.Media)
	}
	if m.IsAudio() {
		t.Fatalf("mixed media is not audio-only")
	}
	if !m.HasContent() {
		t.Fatalf("expected content")
	}
}

func TestParseTwilioInboundAudioOnly(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM2")
	form.Set("From", "whatsapp:+15551234567")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/m0")
	form.Set("MediaContentType0", "audio/ogg")

	m, err := ParseTwilioInbound(form, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !m.IsAudio() || m.Body != "" {
		t.Fatalf("expected audio-only message: %+v", m)
	}
}

func TestParseTwilioInboundRejectsBadInput(t *testing.T) {
	if _, err := ParseTwilioInbound(url.Values{"Body": {"hola"}}, time.Now()); !errors.Is(err, ErrMissingSender) {
		t.Fatalf("expected ErrMissingSender, got %v", err)
	}
	form := url.Values{"From": {"+1555"}, "NumMedia": {"x"}}
	if _, err := ParseTwilioInbound(form, time.Now()); err == nil {
		t.Fatalf("expected NumMedia error")
	}
}

func TestParseTwilioStatus(t *testing.T) {
	u, err := ParseTwilioStatus(url.Values{
		"MessageSid":    {"SM9"},
		"MessageStatus": {"Undelivered"},
		"ErrorCode":     {"63016"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if u.MessageSid != "SM9" || u.Status != "undelivered" || u.ErrorCode != "63016" {
		t.Fatalf("unexpected update: %+v", u)
	}
	if _, err := ParseTwilioStatus(url.Values{"MessageStatus": {"sent"}}); !errors.Is(err, ErrMissingSid) {
		t.Fatalf("expected ErrMissingSid, got %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in   string
		want models.DeliveryStatus
		ok   bool
	}{
		{"queued", models.DeliveryStatusQueued, true},
		{"accepted", models.DeliveryStatusQueued, true},
		{"sending", models.DeliveryStatusSent, true},
		{"sent", models.DeliveryStatusSent, true},
		{"delivered", models.DeliveryStatusDelivered, true},
		{"READ", models.DeliveryStatusRead, true},
		{"failed", models.DeliveryStatusFailed, true},
		{"undelivered", models.DeliveryStatusFailed, true},
		{"receiving", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := MapStatus(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("MapStatus(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRenderEmptyTwiML(t *testing.T) {
	out := RenderEmptyTwiML()
	if !strings.Contains(out, "<Response></Response>") {
		t.Fatalf("unexpected twiml: %s", out)
	}
	if strings.Contains(out, "<Message") {
		t.Fatalf("ack must not carry a message: %s", out)
	}
}

func TestRenderMessageTwiMLEscapes(t *testing.T) {
	out, err := RenderMessageTwiML("a < b & c")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Message>a &lt; b &amp; c</Message>") {
		t.Fatalf("unexpected twiml: %s", out)
	}
}
