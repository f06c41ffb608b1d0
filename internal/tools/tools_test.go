package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"guest-messaging/internal/models"
)

func TestParseAcceptsWhitelistedCalls(t *testing.T) {
	inv, err := Parse(Call{Name: "update_rsvp", Input: json.RawMessage(`{"status":"CONFIRMED","number_of_guests":2}`)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	rsvp, ok := inv.(UpdateRSVP)
	if !ok {
		t.Fatalf("expected UpdateRSVP, got %T", inv)
	}
	if rsvp.Status != models.GuestStatusConfirmed || rsvp.NumberOfGuests == nil || *rsvp.NumberOfGuests != 2 {
		t.Fatalf("unexpected invocation: %+v", rsvp)
	}
	if inv.Kind() != KindUpdateRSVP {
		t.Fatalf("unexpected kind %s", inv.Kind())
	}
}

func TestParseRejectsUnknownTool(t *testing.T) {
	_, err := Parse(Call{Name: "drop_table", Input: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	cases := []Call{
		{Name: "update_rsvp", Input: json.RawMessage(`{"status":"MAYBE"}`)},
		{Name: "update_rsvp", Input: json.RawMessage(`{"status":"confirmed"}`)},
		{Name: "update_rsvp", Input: json.RawMessage(`{"status":"CONFIRMED","number_of_guests":0}`)},
		{Name: "update_rsvp", Input: json.RawMessage(`{"status":"CONFIRMED","admin":true}`)},
		{Name: "update_rsvp", Input: json.RawMessage(`{"status":"CONFIRMED","number_of_guests":"2"}`)},
		{Name: "update_guest", Input: json.RawMessage(`{"guest_id":"g1"}`)},
		{Name: "update_guest", Input: json.RawMessage(`{"priority":"URGENT"}`)},
		{Name: "update_guest", Input: json.RawMessage(`{"language":"FR"}`)},
		{Name: "add_guest", Input: json.RawMessage(`{"name":"  "}`)},
		{Name: "delete_guest", Input: json.RawMessage(``)},
		{Name: "update_plus_one_name", Input: json.RawMessage(`{"plus_one_name":""}`)},
		{Name: "update_dietary_restrictions", Input: json.RawMessage(`{"dietary_restrictions":"x"} {"x":1}`)},
		{Name: "update_dietary_restrictions", Input: json.RawMessage(`not json`)},
	}
	for _, c := range cases {
		if _, err := Parse(c); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s %s: expected ErrInvalidInput, got %v", c.Name, c.Input, err)
		}
	}
}

func TestDefinitionsCoverWhitelist(t *testing.T) {
	defs := Definitions()
	if len(defs) != len(decoders) {
		t.Fatalf("definitions (%d) and decoders (%d) differ", len(defs), len(decoders))
	}
	for _, d := range defs {
		if _, ok := decoders[d.Name]; !ok {
			t.Fatalf("definition %s has no decoder", d.Name)
		}
		if d.Parameters["type"] != "object" {
			t.Fatalf("definition %s must describe an object", d.Name)
		}
	}
}
