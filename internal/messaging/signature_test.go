package messaging

import (
	"net/url"
	"testing"
)

// Example from Twilio's security documentation.
func TestComputeTwilioSignatureKnownVector(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	got := ComputeTwilioSignature("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func TestValidateTwilioSignature(t *testing.T) {
	params := url.Values{"MessageSid": {"SM1"}, "Body": {"hola"}}
	sig := ComputeTwilioSignature("tok", "https://example.test/webhooks/twilio/inbound", params)

	if !ValidateTwilioSignature("tok", "https://example.test/webhooks/twilio/inbound", params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateTwilioSignature("other", "https://example.test/webhooks/twilio/inbound", params, sig) {
		t.Fatalf("expected invalid signature for wrong token")
	}
	tampered := url.Values{"MessageSid": {"SM1"}, "Body": {"adios"}}
	if ValidateTwilioSignature("tok", "https://example.test/webhooks/twilio/inbound", tampered, sig) {
		t.Fatalf("expected invalid signature for tampered body")
	}
	if ValidateTwilioSignature("tok", "https://example.test/webhooks/twilio/inbound", params, "") {
		t.Fatalf("expected invalid signature when header missing")
	}
}
