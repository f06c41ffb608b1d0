package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"guest-messaging/internal/guests"
	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

func newExecutorFixture(t *testing.T) (*store.Memory, *Executor, Target) {
	t.Helper()
	m := store.NewMemory()
	m.PutEvent(models.Event{ID: "e1", OrganizationID: "o1"})
	m.PutEvent(models.Event{ID: "e2", OrganizationID: "o1"})
	m.PutGuest(models.Guest{
		ID: "g1", OrganizationID: "o1", EventID: "e1", Name: "Ana",
		Status: models.GuestStatusPending, Language: models.LanguageES,
		NumberOfGuests: 1, IsPrimaryGuest: true, DedupeKey: "|ana",
	})
	m.PutGuest(models.Guest{
		ID: "x1", OrganizationID: "o1", EventID: "e2", Name: "Luis",
		Status: models.GuestStatusPending, NumberOfGuests: 1, IsPrimaryGuest: true, DedupeKey: "|luis",
	})
	target := Target{Scope: guests.Scope{OrganizationID: "o1", EventID: "e1"}, GuestID: "g1"}
	return m, NewExecutor(guests.NewService(m)), target
}

func mustParse(t *testing.T, name, input string) Invocation {
	t.Helper()
	inv, err := Parse(Call{Name: name, Input: json.RawMessage(input)})
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return inv
}

func TestExecuteUpdateRSVPOnSessionGuest(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	res, err := exec.Execute(context.Background(), target, mustParse(t, "update_rsvp", `{"status":"CONFIRMED","number_of_guests":2}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(res, "CONFIRMED") || !strings.Contains(res, "Ana") {
		t.Fatalf("unexpected result %q", res)
	}
	g, _ := m.GetGuest(context.Background(), "e1", "g1")
	if g.Status != models.GuestStatusConfirmed || g.NumberOfGuests != 2 {
		t.Fatalf("guest not updated: %+v", g)
	}
}

func TestExecuteRejectsGuestFromOtherEvent(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	_, err := exec.Execute(context.Background(), target, mustParse(t, "update_rsvp", `{"guest_id":"x1","status":"DECLINED"}`))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	g, _ := m.GetGuest(context.Background(), "e2", "x1")
	if g.Status != models.GuestStatusPending {
		t.Fatalf("foreign guest changed: %+v", g)
	}
}

func TestExecuteRequiresSubjectWithoutSessionGuest(t *testing.T) {
	_, exec, target := newExecutorFixture(t)
	target.GuestID = ""
	_, err := exec.Execute(context.Background(), target, mustParse(t, "update_dietary_restrictions", `{"dietary_restrictions":"vegana"}`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExecutePlusOneAndDeletePolicy(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	ctx := context.Background()

	res, err := exec.Execute(ctx, target, mustParse(t, "update_plus_one_name", `{"plus_one_name":"Pedro"}`))
	if err != nil {
		t.Fatalf("plus one: %v", err)
	}
	if res != "Plus-one name set to Pedro" {
		t.Fatalf("unexpected result %q", res)
	}

	_, err = exec.Execute(ctx, target, mustParse(t, "delete_guest", `{"guest_id":"g1"}`))
	if !errors.Is(err, guests.ErrGroupHasMembers) {
		t.Fatalf("expected ErrGroupHasMembers, got %v", err)
	}
	if !strings.Contains(err.Error(), "Ana") {
		t.Fatalf("expected the lead's name in %q", err.Error())
	}
	if len(m.Guests("e1")) != 2 {
		t.Fatalf("nothing may be deleted")
	}
}

func TestExecuteUpdateGuestAndDiet(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	ctx := context.Background()

	res, err := exec.Execute(ctx, target, mustParse(t, "update_guest", `{"table_number":"7","language":"EN"}`))
	if err != nil {
		t.Fatalf("update guest: %v", err)
	}
	if res != "Updated Ana: language, table" {
		t.Fatalf("unexpected result %q", res)
	}
	res, err = exec.Execute(ctx, target, mustParse(t, "update_dietary_restrictions", `{"dietary_restrictions":"sin gluten"}`))
	if err != nil {
		t.Fatalf("diet: %v", err)
	}
	if res != "Dietary restrictions for Ana: sin gluten" {
		t.Fatalf("unexpected result %q", res)
	}
	g, _ := m.GetGuest(ctx, "e1", "g1")
	if g.TableNumber != "7" || g.Language != models.LanguageEN || g.DietaryRestrictions != "sin gluten" {
		t.Fatalf("unexpected guest %+v", g)
	}
}

func TestExecuteAddGuest(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	res, err := exec.Execute(context.Background(), target, mustParse(t, "add_guest", `{"name":"Lucía","companion_of":"g1"}`))
	if err != nil {
		t.Fatalf("add guest: %v", err)
	}
	if res != "Added Lucía to the party" {
		t.Fatalf("unexpected result %q", res)
	}
	if len(m.Groups("e1")) != 1 {
		t.Fatalf("expected a group")
	}
}

func TestExecuteKeepsExplicitSubjectsInsideTheParty(t *testing.T) {
	m, exec, target := newExecutorFixture(t)
	ctx := context.Background()
	m.PutGuest(models.Guest{
		ID: "g2", OrganizationID: "o1", EventID: "e1", Name: "Marta",
		Status: models.GuestStatusPending, NumberOfGuests: 1, IsPrimaryGuest: true, DedupeKey: "|marta",
	})

	for _, c := range []struct{ name, input string }{
		{"delete_guest", `{"guest_id":"g2"}`},
		{"update_rsvp", `{"guest_id":"g2","status":"DECLINED"}`},
		{"add_guest", `{"name":"Lucía","companion_of":"g2"}`},
	} {
		if _, err := exec.Execute(ctx, target, mustParse(t, c.name, c.input)); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", c.name, err)
		}
	}
	g, err := m.GetGuest(ctx, "e1", "g2")
	if err != nil || g.Status != models.GuestStatusPending || g.GroupID != "" {
		t.Fatalf("unrelated guest must be untouched: %+v, %v", g, err)
	}

	if _, err := exec.Execute(ctx, target, mustParse(t, "update_plus_one_name", `{"plus_one_name":"Pedro"}`)); err != nil {
		t.Fatalf("plus one: %v", err)
	}
	var companion string
	for _, g := range m.Guests("e1") {
		if g.Name == "Pedro" {
			companion = g.ID
		}
	}
	res, err := exec.Execute(ctx, target, mustParse(t, "delete_guest", `{"guest_id":"`+companion+`"}`))
	if err != nil {
		t.Fatalf("delete own companion: %v", err)
	}
	if res != "Removed guest Pedro" {
		t.Fatalf("unexpected result %q", res)
	}
}
