package guests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
	"guest-messaging/pkg/logger"

	"github.com/google/uuid"
)

// ImportRow is one line of a guest list. Rows with NumberOfGuests > 1 are
// parties: the named guest leads and AdditionalNames (comma separated) names
// the companions.
type ImportRow struct {
	Name                string `json:"name"`
	Phone               string `json:"phone,omitempty"`
	NumberOfGuests      int    `json:"number_of_guests"`
	AdditionalNames     string `json:"additional_names,omitempty"`
	Status              string `json:"status,omitempty"`
	Priority            string `json:"priority,omitempty"`
	Language            string `json:"language,omitempty"`
	Category            string `json:"category,omitempty"`
	TableNumber         string `json:"table_number,omitempty"`
	DietaryRestrictions string `json:"dietary_restrictions,omitempty"`
}

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type ItemResult struct {
	Row      int      `json:"row"`
	Name     string   `json:"name"`
	Outcome  Outcome  `json:"outcome"`
	GuestIDs []string `json:"guest_ids,omitempty"`
	GroupID  string   `json:"group_id,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Report accounts for every submitted row exactly once.
type Report struct {
	Total   int          `json:"total"`
	Created int          `json:"created"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Items   []ItemResult `json:"items"`
}

func (r *Report) add(item ItemResult) {
	switch item.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Items = append(r.Items, item)
}

// CountInvalidator drops cached per-event guest counts.
type CountInvalidator interface {
	Invalidate(ctx context.Context, eventID string) error
}

// Importer creates one batch of guests. Batching and fan-out are the
// caller's job.
type Importer struct {
	store store.Store
	cache CountInvalidator
	now   func() time.Time
	newID func() string
}

func NewImporter(st store.Store, cache CountInvalidator) *Importer {
	return &Importer{store: st, cache: cache, now: time.Now, newID: uuid.NewString}
}

// Import inserts singles in one duplicate-skipping statement and each party
// in its own transaction. Per-row failures are reported, not returned; the
// error is reserved for an unusable scope.
func (i *Importer) Import(ctx context.Context, scope Scope, rows []ImportRow) (Report, error) {
	if !scope.valid() {
		return Report{}, ErrInvalidArgument
	}
	if _, err := i.store.GetEvent(ctx, scope.OrganizationID, scope.EventID); err != nil {
		return Report{}, fmt.Errorf("guests: import event %s: %w", scope.EventID, err)
	}

	log := logger.From(ctx).With("event_id", scope.EventID, "organization_id", scope.OrganizationID)
	now := i.now().UTC()
	report := Report{Total: len(rows)}

	type single struct {
		row   int
		guest models.Guest
	}
	var singles []single
	results := make([]ItemResult, len(rows))

	for idx, row := range rows {
		base, err := i.guestFromRow(scope, row, now)
		if err != nil {
			results[idx] = ItemResult{Row: idx, Name: row.Name, Outcome: OutcomeFailed, Error: err.Error()}
			continue
		}
		if row.NumberOfGuests <= 1 {
			singles = append(singles, single{row: idx, guest: base})
			continue
		}
		results[idx] = i.importParty(ctx, idx, row, base, now)
	}

	if len(singles) > 0 {
		batch := make([]models.Guest, 0, len(singles))
		for _, s := range singles {
			batch = append(batch, s.guest)
		}
		inserted, err := i.store.InsertGuestsSkipDuplicates(ctx, batch)
		created := make(map[string]bool, len(inserted))
		for _, id := range inserted {
			created[id] = true
		}
		for _, s := range singles {
			item := ItemResult{Row: s.row, Name: s.guest.Name}
			switch {
			case err != nil:
				item.Outcome, item.Error = OutcomeFailed, err.Error()
			case created[s.guest.ID]:
				item.Outcome, item.GuestIDs = OutcomeCreated, []string{s.guest.ID}
			default:
				item.Outcome = OutcomeSkipped
			}
			results[s.row] = item
		}
		if err != nil {
			log.Error("bulk guest insert failed", "rows", len(singles), "err", err)
		}
	}

	for _, item := range results {
		report.add(item)
	}

	if i.cache != nil {
		if err := i.cache.Invalidate(ctx, scope.EventID); err != nil {
			log.Warn("guest count cache invalidation failed", "err", err)
		}
	}
	log.Info("guest batch imported",
		"total", report.Total, "created", report.Created, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// importParty creates group, lead and companions atomically.
func (i *Importer) importParty(ctx context.Context, idx int, row ImportRow, lead models.Guest, now time.Time) ItemResult {
	item := ItemResult{Row: idx, Name: lead.Name}
	group := models.GuestGroup{ID: i.newID(), EventID: lead.EventID, LeadGuestID: lead.ID, CreatedAt: now}

	lead.GroupID = group.ID
	lead.IsPrimaryGuest = true
	lead.HasMultipleGuests = true
	lead.NumberOfGuests = row.NumberOfGuests

	names := companionNames(lead.Name, row.AdditionalNames, row.NumberOfGuests-1)
	var ids []string
	leadCreated := false

	err := i.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		// The store may run this closure more than once.
		ids = []string{lead.ID}
		leadCreated = false
		if err := tx.CreateGroup(ctx, group); err != nil {
			return err
		}
		if err := tx.CreateGuest(ctx, lead); err != nil {
			return err
		}
		leadCreated = true
		for _, name := range names {
			m := lead
			m.ID = i.newID()
			m.Name = name
			m.Phone = ""
			m.DietaryRestrictions = ""
			m.IsPrimaryGuest = false
			m.HasMultipleGuests = false
			m.NumberOfGuests = 1
			m.DedupeKey = CompanionDedupeKey(group.ID, name)
			if err := tx.CreateGuest(ctx, m); err != nil {
				return fmt.Errorf("companion %q: %w", name, err)
			}
			ids = append(ids, m.ID)
		}
		return nil
	})

	switch {
	case err == nil:
		item.Outcome, item.GuestIDs, item.GroupID = OutcomeCreated, ids, group.ID
	case errors.Is(err, store.ErrDuplicate) && !leadCreated:
		// The lead already exists: this party was imported before.
		item.Outcome = OutcomeSkipped
	default:
		item.Outcome, item.Error = OutcomeFailed, err.Error()
	}
	return item
}

func (i *Importer) guestFromRow(scope Scope, row ImportRow, now time.Time) (models.Guest, error) {
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return models.Guest{}, errors.New("name is required")
	}
	if row.NumberOfGuests < 0 {
		return models.Guest{}, errors.New("number_of_guests must be >= 0")
	}
	status := models.GuestStatus(strings.ToUpper(strings.TrimSpace(row.Status)))
	if status == "" {
		status = models.GuestStatusPending
	}
	if !status.Valid() {
		return models.Guest{}, fmt.Errorf("invalid status %q", row.Status)
	}
	priority := models.Priority(strings.ToUpper(strings.TrimSpace(row.Priority)))
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return models.Guest{}, fmt.Errorf("invalid priority %q", row.Priority)
	}
	lang := models.Language(strings.ToUpper(strings.TrimSpace(row.Language)))
	if lang == "" {
		lang = models.LanguageES
	}
	if !lang.Valid() {
		return models.Guest{}, fmt.Errorf("invalid language %q", row.Language)
	}

	g := models.Guest{
		ID:                  i.newID(),
		OrganizationID:      scope.OrganizationID,
		EventID:             scope.EventID,
		Name:                name,
		Status:              status,
		Priority:            priority,
		Language:            lang,
		Category:            strings.TrimSpace(row.Category),
		TableNumber:         strings.TrimSpace(row.TableNumber),
		DietaryRestrictions: strings.TrimSpace(row.DietaryRestrictions),
		NumberOfGuests:      1,
		IsPrimaryGuest:      true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	g.Phone = messaging.NormalizePhone(row.Phone)
	g.DedupeKey = DedupeKey(g.Phone, g.Name)
	return g, nil
}

// companionNames returns exactly n names, taking them from the comma list
// and padding with "<lead> - Guest k" placeholders.
func companionNames(lead, list string, n int) []string {
	out := make([]string, 0, n)
	for _, part := range strings.Split(list, ",") {
		if len(out) == n {
			break
		}
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	for len(out) < n {
		out = append(out, fmt.Sprintf("%s - Guest %d", lead, len(out)+2))
	}
	return out
}
