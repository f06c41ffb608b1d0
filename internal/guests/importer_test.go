package guests

import (
	"context"
	"errors"
	"testing"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

func TestImportPartyCreatesGroupLeadAndCompanions(t *testing.T) {
	m := newTestStore()
	inv := &recordingInvalidator{}
	imp := NewImporter(m, inv)

	report, err := imp.Import(context.Background(), testScope, []ImportRow{
		{Name: "Ana", Phone: "+5215512345678", NumberOfGuests: 3, AdditionalNames: "Pedro, Lucía"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Created != 1 || report.Failed != 0 || len(report.Items) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	groups := m.Groups("e1")
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	guests := m.Guests("e1")
	if len(guests) != 3 {
		t.Fatalf("expected 3 guests, got %d", len(guests))
	}
	primaries := 0
	for _, g := range guests {
		if g.GroupID != groups[0].ID {
			t.Fatalf("guest %s not in group", g.Name)
		}
		if g.IsPrimaryGuest {
			primaries++
			if g.Name != "Ana" || g.ID != groups[0].LeadGuestID || g.NumberOfGuests != 3 || !g.HasMultipleGuests {
				t.Fatalf("unexpected lead: %+v", g)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary guest, got %d", primaries)
	}
	if len(inv.events) != 1 {
		t.Fatalf("expected cache invalidation after batch")
	}
}

func TestImportPadsMissingCompanionNames(t *testing.T) {
	m := newTestStore()
	_, err := NewImporter(m, nil).Import(context.Background(), testScope, []ImportRow{
		{Name: "Ana", NumberOfGuests: 3, AdditionalNames: "Pedro"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	names := map[string]bool{}
	for _, g := range m.Guests("e1") {
		names[g.Name] = true
	}
	if !names["Pedro"] || !names["Ana - Guest 3"] {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestImportSinglesIsIdempotent(t *testing.T) {
	m := newTestStore()
	imp := NewImporter(m, nil)
	rows := []ImportRow{
		{Name: "Ana", Phone: "+1 555 000 0001"},
		{Name: "Luis", Phone: "+1 555 000 0002", NumberOfGuests: 1},
	}

	first, err := imp.Import(context.Background(), testScope, rows)
	if err != nil || first.Created != 2 {
		t.Fatalf("first import: %+v (%v)", first, err)
	}
	second, err := imp.Import(context.Background(), testScope, rows)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Created != 0 || second.Skipped != 2 {
		t.Fatalf("expected all skipped on resubmission: %+v", second)
	}
	if n := len(m.Guests("e1")); n != 2 {
		t.Fatalf("expected 2 guests, got %d", n)
	}
}

func TestImportPartyResubmissionIsSkipped(t *testing.T) {
	m := newTestStore()
	imp := NewImporter(m, nil)
	rows := []ImportRow{{Name: "Ana", NumberOfGuests: 2, AdditionalNames: "Pedro"}}

	if _, err := imp.Import(context.Background(), testScope, rows); err != nil {
		t.Fatalf("first import: %v", err)
	}
	report, err := imp.Import(context.Background(), testScope, rows)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if report.Skipped != 1 || len(m.Groups("e1")) != 1 || len(m.Guests("e1")) != 2 {
		t.Fatalf("unexpected state after resubmission: %+v", report)
	}
}

func TestImportIsolatesPartyFailures(t *testing.T) {
	m := newTestStore()
	m.SetFailCreateGuest(func(g models.Guest) error {
		if g.Name == "Boom" {
			return errors.New("constraint violated")
		}
		return nil
	})

	report, err := NewImporter(m, nil).Import(context.Background(), testScope, []ImportRow{
		{Name: "Ana", NumberOfGuests: 2, AdditionalNames: "Boom"},
		{Name: "Luis", NumberOfGuests: 2, AdditionalNames: "Marta"},
		{Name: "Sola"},
		{Name: "   "},
		{Name: "Mal", Status: "MAYBE"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Total != 5 || report.Created != 2 || report.Failed != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Items[0].Outcome != OutcomeFailed || report.Items[0].Error == "" {
		t.Fatalf("expected first party to fail with a reason: %+v", report.Items[0])
	}
	if report.Items[1].Outcome != OutcomeCreated || len(report.Items[1].GuestIDs) != 2 {
		t.Fatalf("expected second party created: %+v", report.Items[1])
	}
	for _, g := range m.Guests("e1") {
		if g.Name == "Ana" {
			t.Fatalf("failed party must leave no lead behind")
		}
	}
	if len(m.Groups("e1")) != 1 {
		t.Fatalf("expected only the successful party's group")
	}
}

func TestImportUnknownEvent(t *testing.T) {
	m := newTestStore()
	_, err := NewImporter(m, nil).Import(context.Background(), Scope{OrganizationID: "o1", EventID: "nope"}, []ImportRow{{Name: "Ana"}})
	if err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestCompanionNames(t *testing.T) {
	got := companionNames("Ana", " Pedro ,, Lucía, Extra", 2)
	if len(got) != 2 || got[0] != "Pedro" || got[1] != "Lucía" {
		t.Fatalf("unexpected names: %v", got)
	}
	got = companionNames("Ana", "", 2)
	if got[0] != "Ana - Guest 2" || got[1] != "Ana - Guest 3" {
		t.Fatalf("unexpected placeholders: %v", got)
	}
}

func TestImportPartiesMayShareCompanionNames(t *testing.T) {
	m := newTestStore()
	imp := NewImporter(m, nil)
	rows := []ImportRow{
		{Name: "Ana", Phone: "+5215512345678", NumberOfGuests: 2, AdditionalNames: "María"},
		{Name: "Luis", Phone: "+5215587654321", NumberOfGuests: 2, AdditionalNames: "María"},
	}

	report, err := imp.Import(context.Background(), testScope, rows)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Created != 2 || report.Failed != 0 {
		t.Fatalf("expected both parties created: %+v", report)
	}
	if len(m.Guests("e1")) != 4 || len(m.Groups("e1")) != 2 {
		t.Fatalf("expected 4 guests in 2 groups, got %d in %d", len(m.Guests("e1")), len(m.Groups("e1")))
	}

	again, err := imp.Import(context.Background(), testScope, rows)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Skipped != 2 || len(m.Guests("e1")) != 4 {
		t.Fatalf("expected resubmission skipped: %+v", again)
	}
}

var errSerialization = errors.New("could not serialize access")

// retryingStore runs every transaction body twice, rolling back the first
// attempt, the way the Postgres store retries serialization failures.
type retryingStore struct {
	*store.Memory
}

func (r retryingStore) WithTx(ctx context.Context, fn store.TxFunc) error {
	err := r.Memory.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errSerialization
	})
	if errors.Is(err, errSerialization) {
		return r.Memory.WithTx(ctx, fn)
	}
	return err
}

func TestImportPartyReportsOnlyCommittedIDs(t *testing.T) {
	m := newTestStore()
	report, err := NewImporter(retryingStore{m}, nil).Import(context.Background(), testScope, []ImportRow{
		{Name: "Ana", NumberOfGuests: 3, AdditionalNames: "Pedro, Lucía"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	item := report.Items[0]
	if item.Outcome != OutcomeCreated || len(item.GuestIDs) != 3 {
		t.Fatalf("expected 3 guest ids, got %+v", item)
	}
	seen := map[string]bool{}
	for _, id := range item.GuestIDs {
		if seen[id] {
			t.Fatalf("duplicate id %s in %v", id, item.GuestIDs)
		}
		seen[id] = true
		if _, err := m.GetGuest(context.Background(), "e1", id); err != nil {
			t.Fatalf("reported id %s not stored: %v", id, err)
		}
	}
}
