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

var (
	// ErrGroupHasMembers is returned when deleting a group lead whose group
	// still has other guests. Members must be removed first.
	ErrGroupHasMembers = errors.New("guests: group lead still has members")
	ErrInvalidArgument = errors.New("guests: invalid argument")
	ErrAmbiguous       = errors.New("guests: more than one companion matches")
)

// Scope pins every operation to one event of one organization. A guest id
// from another event is reported as store.ErrNotFound.
type Scope struct {
	OrganizationID string
	EventID        string
}

func (s Scope) valid() bool { return s.OrganizationID != "" && s.EventID != "" }

// Service owns guest mutations shared by the chat tools and the admin API.
// Every method is one transaction.
type Service struct {
	store store.Store
	cache CountInvalidator
	now   func() time.Time
	newID func() string
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now, newID: uuid.NewString}
}

// WithCountCache makes Add and Delete drop the event's cached guest count.
func (s *Service) WithCountCache(c CountInvalidator) *Service {
	s.cache = c
	return s
}

func (s *Service) invalidate(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, eventID); err != nil {
		logger.From(ctx).Warn("guest count cache invalidation failed", "event_id", eventID, "err", err)
	}
}

type RSVPUpdate struct {
	Status models.GuestStatus
	// NumberOfGuests is the party size including the guest; nil leaves it.
	NumberOfGuests *int
}

// UpdateRSVP sets the attendance answer and, optionally, the party size.
func (s *Service) UpdateRSVP(ctx context.Context, scope Scope, guestID string, u RSVPUpdate) (models.Guest, error) {
	if !u.Status.Valid() {
		return models.Guest{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, u.Status)
	}
	if u.NumberOfGuests != nil && *u.NumberOfGuests < 1 {
		return models.Guest{}, fmt.Errorf("%w: number_of_guests must be >= 1", ErrInvalidArgument)
	}
	return s.mutate(ctx, scope, guestID, func(ctx context.Context, tx store.Store, g *models.Guest) error {
		g.Status = u.Status
		if u.NumberOfGuests == nil {
			return nil
		}
		if g.GroupID != "" {
			// A grouped party's size is its membership.
			size, err := partySize(ctx, tx, *g)
			if err != nil {
				return err
			}
			if *u.NumberOfGuests != size {
				return fmt.Errorf("%w: party size is %d; add or remove companions to change it", ErrInvalidArgument, size)
			}
			return nil
		}
		g.NumberOfGuests = *u.NumberOfGuests
		g.HasMultipleGuests = *u.NumberOfGuests > 1
		return nil
	})
}

// Patch is a partial guest update. Nil fields are left unchanged.
type Patch struct {
	Name                *string
	Phone               *string
	Status              *models.GuestStatus
	Priority            *models.Priority
	Language            *models.Language
	Category            *string
	TableNumber         *string
	DietaryRestrictions *string
}

func (p Patch) validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidArgument)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidArgument, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidArgument, *p.Priority)
	}
	if p.Language != nil && !p.Language.Valid() {
		return fmt.Errorf("%w: language %q", ErrInvalidArgument, *p.Language)
	}
	return nil
}

func (s *Service) Patch(ctx context.Context, scope Scope, guestID string, p Patch) (models.Guest, error) {
	if err := p.validate(); err != nil {
		return models.Guest{}, err
	}
	return s.mutate(ctx, scope, guestID, func(_ context.Context, _ store.Store, g *models.Guest) error {
		if p.Name != nil {
			g.Name = strings.TrimSpace(*p.Name)
		}
		if p.Phone != nil {
			g.Phone = messaging.NormalizePhone(*p.Phone)
		}
		if p.Status != nil {
			g.Status = *p.Status
		}
		if p.Priority != nil {
			g.Priority = *p.Priority
		}
		if p.Language != nil {
			g.Language = *p.Language
		}
		if p.Category != nil {
			g.Category = strings.TrimSpace(*p.Category)
		}
		if p.TableNumber != nil {
			g.TableNumber = strings.TrimSpace(*p.TableNumber)
		}
		if p.DietaryRestrictions != nil {
			g.DietaryRestrictions = strings.TrimSpace(*p.DietaryRestrictions)
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, scope Scope, guestID string, fn func(ctx context.Context, tx store.Store, g *models.Guest) error) (models.Guest, error) {
	if !scope.valid() || guestID == "" {
		return models.Guest{}, ErrInvalidArgument
	}
	var out models.Guest
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		g, err := loadScoped(ctx, tx, scope, guestID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &g); err != nil {
			return err
		}
		g.DedupeKey = dedupeKeyFor(g)
		g.UpdatedAt = s.now().UTC()
		if err := tx.UpdateGuest(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// NewGuest describes a guest to create. When CompanionOf is set the guest
// joins that guest's party, creating the group on first use.
type NewGuest struct {
	Name                string
	Phone               string
	Status              models.GuestStatus
	Priority            models.Priority
	Language            models.Language
	Category            string
	DietaryRestrictions string
	CompanionOf         string
}

func (s *Service) Add(ctx context.Context, scope Scope, n NewGuest) (models.Guest, error) {
	if !scope.valid() {
		return models.Guest{}, ErrInvalidArgument
	}
	if strings.TrimSpace(n.Name) == "" {
		return models.Guest{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	var out models.Guest
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		now := s.now().UTC()
		g := s.newGuest(scope, n, now)

		if n.CompanionOf == "" {
			if err := tx.CreateGuest(ctx, g); err != nil {
				return err
			}
			out = g
			return nil
		}

		lead, err := loadScoped(ctx, tx, scope, n.CompanionOf)
		if err != nil {
			return err
		}
		if lead.GroupID != "" && !lead.IsPrimaryGuest {
			// Companions cannot bring their own companions; attach to the lead.
			grp, err := tx.GetGroup(ctx, scope.EventID, lead.GroupID)
			if err != nil {
				return err
			}
			if lead, err = tx.GetGuest(ctx, scope.EventID, grp.LeadGuestID); err != nil {
				return err
			}
		}
		if g.Language == "" {
			g.Language = lead.Language
		}
		created, err := s.attachCompanion(ctx, tx, lead, g, now)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err == nil {
		s.invalidate(ctx, scope.EventID)
	}
	return out, err
}

// attachCompanion creates lead's group if needed, inserts g as a member and
// refreshes the lead's party counters. Callers must be inside a transaction.
func (s *Service) attachCompanion(ctx context.Context, tx store.Store, lead, g models.Guest, now time.Time) (models.Guest, error) {
	if lead.GroupID == "" {
		grp := models.GuestGroup{
			ID:          s.newID(),
			EventID:     lead.EventID,
			LeadGuestID: lead.ID,
			CreatedAt:   now,
		}
		if err := tx.CreateGroup(ctx, grp); err != nil {
			return models.Guest{}, err
		}
		lead.GroupID = grp.ID
	}
	g.GroupID = lead.GroupID
	g.IsPrimaryGuest = false
	g.DedupeKey = dedupeKeyFor(g)
	if err := tx.CreateGuest(ctx, g); err != nil {
		return models.Guest{}, err
	}
	if err := s.refreshLead(ctx, tx, lead, now); err != nil {
		return models.Guest{}, err
	}
	return g, nil
}

// refreshLead recomputes the lead's party size from the group membership.
func (s *Service) refreshLead(ctx context.Context, tx store.Store, lead models.Guest, now time.Time) error {
	lead.IsPrimaryGuest = true
	size, err := partySize(ctx, tx, lead)
	if err != nil {
		return err
	}
	lead.NumberOfGuests = size
	lead.HasMultipleGuests = size > 1
	lead.UpdatedAt = now
	return tx.UpdateGuest(ctx, lead)
}

// partySize counts a lead plus its group members. A companion is a party of one.
func partySize(ctx context.Context, tx store.Store, g models.Guest) (int, error) {
	if !g.IsPrimaryGuest {
		return 1, nil
	}
	members, err := tx.ListGroupMembers(ctx, g.GroupID)
	if err != nil {
		return 0, err
	}
	size := 1
	for _, m := range members {
		if m.ID != g.ID {
			size++
		}
	}
	return size, nil
}

// SetCompanionName renames the lead's companion. companionID may be empty
// when the party has exactly one companion; with none, one is created.
func (s *Service) SetCompanionName(ctx context.Context, scope Scope, leadID, companionID, name string) (models.Guest, error) {
	name = strings.TrimSpace(name)
	if !scope.valid() || leadID == "" || name == "" {
		return models.Guest{}, ErrInvalidArgument
	}
	var out models.Guest
	created := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		now := s.now().UTC()
		lead, err := loadScoped(ctx, tx, scope, leadID)
		if err != nil {
			return err
		}

		var companions []models.Guest
		if lead.GroupID != "" {
			members, err := tx.ListGroupMembers(ctx, lead.GroupID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if m.ID != lead.ID {
					companions = append(companions, m)
				}
			}
		}

		var target *models.Guest
		switch {
		case companionID != "":
			for i := range companions {
				if companions[i].ID == companionID {
					target = &companions[i]
				}
			}
			if target == nil {
				return store.ErrNotFound
			}
		case len(companions) == 1:
			target = &companions[0]
		case len(companions) > 1:
			return ErrAmbiguous
		}

		if target == nil {
			g := s.newGuest(scope, NewGuest{Name: name, Language: lead.Language}, now)
			companion, err := s.attachCompanion(ctx, tx, lead, g, now)
			if err != nil {
				return err
			}
			out, created = companion, true
			return nil
		}

		target.Name = name
		target.DedupeKey = dedupeKeyFor(*target)
		target.UpdatedAt = now
		if err := tx.UpdateGuest(ctx, *target); err != nil {
			return err
		}
		out = *target
		return nil
	})
	if err == nil && created {
		s.invalidate(ctx, scope.EventID)
	}
	return out, err
}

// Delete removes one guest.
//
// Policy for parties: a lead is refused while any companion remains
// (ErrGroupHasMembers); a lead without companions takes the group with it;
// deleting a companion shrinks the lead's party.
func (s *Service) Delete(ctx context.Context, scope Scope, guestID string) (models.Guest, error) {
	if !scope.valid() || guestID == "" {
		return models.Guest{}, ErrInvalidArgument
	}
	var out models.Guest
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		now := s.now().UTC()
		g, err := loadScoped(ctx, tx, scope, guestID)
		if err != nil {
			return err
		}
		out = g

		if g.GroupID == "" {
			return tx.DeleteGuest(ctx, scope.EventID, g.ID)
		}

		grp, err := tx.GetGroup(ctx, scope.EventID, g.GroupID)
		if err != nil {
			return err
		}
		members, err := tx.ListGroupMembers(ctx, grp.ID)
		if err != nil {
			return err
		}
		others := 0
		for _, m := range members {
			if m.ID != g.ID {
				others++
			}
		}

		if grp.LeadGuestID == g.ID {
			if others > 0 {
				return ErrGroupHasMembers
			}
			if err := tx.DeleteGuest(ctx, scope.EventID, g.ID); err != nil {
				return err
			}
			return tx.DeleteGroup(ctx, scope.EventID, grp.ID)
		}

		if err := tx.DeleteGuest(ctx, scope.EventID, g.ID); err != nil {
			return err
		}
		lead, err := tx.GetGuest(ctx, scope.EventID, grp.LeadGuestID)
		if err != nil {
			return err
		}
		return s.refreshLead(ctx, tx, lead, now)
	})
	if err == nil {
		s.invalidate(ctx, scope.EventID)
	}
	return out, err
}

// Get returns a guest inside scope.
func (s *Service) Get(ctx context.Context, scope Scope, guestID string) (models.Guest, error) {
	if !scope.valid() || guestID == "" {
		return models.Guest{}, ErrInvalidArgument
	}
	return loadScoped(ctx, s.store, scope, guestID)
}

func (s *Service) newGuest(scope Scope, n NewGuest, now time.Time) models.Guest {
	g := models.Guest{
		ID:                  s.newID(),
		OrganizationID:      scope.OrganizationID,
		EventID:             scope.EventID,
		Name:                strings.TrimSpace(n.Name),
		Phone:               messaging.NormalizePhone(n.Phone),
		Status:              n.Status,
		Priority:            n.Priority,
		Language:            n.Language,
		Category:            strings.TrimSpace(n.Category),
		DietaryRestrictions: strings.TrimSpace(n.DietaryRestrictions),
		NumberOfGuests:      1,
		IsPrimaryGuest:      true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if g.Status == "" {
		g.Status = models.GuestStatusPending
	}
	if g.Priority == "" {
		g.Priority = models.PriorityMedium
	}
	g.DedupeKey = DedupeKey(g.Phone, g.Name)
	return g
}

// loadScoped fetches a guest and checks it belongs to the scope's organization.
func loadScoped(ctx context.Context, st store.Store, scope Scope, guestID string) (models.Guest, error) {
	g, err := st.GetGuest(ctx, scope.EventID, guestID)
	if err != nil {
		return models.Guest{}, err
	}
	if g.OrganizationID != scope.OrganizationID {
		return models.Guest{}, store.ErrNotFound
	}
	return g, nil
}

// DedupeKey identifies a guest within an event: normalized phone plus the
// case-folded name, so a re-submitted list maps onto the same rows while
// relatives sharing one phone stay distinct.
func DedupeKey(phone, name string) string {
	return messaging.NormalizePhone(phone) + "|" + foldName(name)
}

// CompanionDedupeKey scopes a companion to its party, so two parties may
// each bring a companion with the same name.
func CompanionDedupeKey(groupID, name string) string {
	return "group:" + groupID + "|" + foldName(name)
}

func dedupeKeyFor(g models.Guest) string {
	if g.GroupID != "" && !g.IsPrimaryGuest {
		return CompanionDedupeKey(g.GroupID, g.Name)
	}
	return DedupeKey(g.Phone, g.Name)
}

func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
