package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"guest-messaging/internal/chat"
	"guest-messaging/internal/delivery"
	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	testAuthToken = "twilio-secret"
	testBaseURL   = "https://hooks.example.com"
)

type fakeInbound struct {
	got []messaging.Inbound
	err error
}

func (f *fakeInbound) HandleInbound(_ context.Context, in messaging.Inbound) (chat.Intake, error) {
	f.got = append(f.got, in)
	return chat.Intake{}, f.err
}

type fakeStatus struct {
	got []messaging.StatusUpdate
	err error
}

func (f *fakeStatus) Apply(_ context.Context, u messaging.StatusUpdate) (models.MessageDelivery, delivery.Outcome, error) {
	f.got = append(f.got, u)
	return models.MessageDelivery{}, delivery.OutcomeApplied, f.err
}

func newWebhookRouter(in *fakeInbound, st *fakeStatus, validate bool) *gin.Engine {
	r := gin.New()
	h := TwilioWebhooks{
		Inbound: in,
		Status:  st,
		Now:     func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	h.Register(r, VerifyTwilioSignature(testAuthToken, testBaseURL+"/", validate))
	return r
}

func postForm(r http.Handler, path string, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(messaging.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func inboundForm() url.Values {
	return url.Values{
		"MessageSid": {"SM100"},
		"From":       {"whatsapp:+5215511112222"},
		"To":         {"whatsapp:+14155550100"},
		"Body":       {"Confirmo asistencia"},
		"NumMedia":   {"0"},
	}
}

func TestInboundWithValidSignature(t *testing.T) {
	in := &fakeInbound{}
	r := newWebhookRouter(in, &fakeStatus{}, true)

	form := inboundForm()
	sig := messaging.ComputeTwilioSignature(testAuthToken, testBaseURL+"/webhooks/twilio/whatsapp", form)
	w := postForm(r, "/webhooks/twilio/whatsapp", form, sig)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<Response") {
		t.Fatalf("expected TwiML body, got %q", w.Body.String())
	}
	if len(in.got) != 1 || in.got[0].Body != "Confirmo asistencia" {
		t.Fatalf("unexpected inbound: %+v", in.got)
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	in := &fakeInbound{}
	r := newWebhookRouter(in, &fakeStatus{}, true)

	form := inboundForm()
	sig := messaging.ComputeTwilioSignature("wrong-token", testBaseURL+"/webhooks/twilio/whatsapp", form)
	if w := postForm(r, "/webhooks/twilio/whatsapp", form, sig); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := postForm(r, "/webhooks/twilio/whatsapp", form, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}
	if len(in.got) != 0 {
		t.Fatalf("handler must not run on rejected requests")
	}
}

func TestInboundAcknowledgesFailures(t *testing.T) {
	in := &fakeInbound{err: errors.New("db down")}
	r := newWebhookRouter(in, &fakeStatus{}, false)

	if w := postForm(r, "/webhooks/twilio/whatsapp", inboundForm(), ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on processing failure, got %d", w.Code)
	}

	form := inboundForm()
	form.Del("From")
	if w := postForm(r, "/webhooks/twilio/whatsapp", form, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on unparseable message, got %d", w.Code)
	}
	if len(in.got) != 1 {
		t.Fatalf("expected only the parseable message to reach the manager, got %d", len(in.got))
	}
}

func TestStatusCallback(t *testing.T) {
	st := &fakeStatus{}
	r := newWebhookRouter(&fakeInbound{}, st, false)

	form := url.Values{"MessageSid": {"SM200"}, "MessageStatus": {"delivered"}}
	if w := postForm(r, "/webhooks/twilio/status", form, ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(st.got) != 1 || st.got[0].MessageSid != "SM200" {
		t.Fatalf("unexpected updates: %+v", st.got)
	}

	if w := postForm(r, "/webhooks/twilio/status", url.Values{"MessageStatus": {"sent"}}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without sid, got %d", w.Code)
	}

	st.err = errors.New("db down")
	if w := postForm(r, "/webhooks/twilio/status", form, ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", w.Code)
	}
}
