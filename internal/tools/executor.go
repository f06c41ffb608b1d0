package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guest-messaging/internal/guests"
	"guest-messaging/internal/store"
)

// Target is what a conversation may touch: one event, and the guest the
// conversation belongs to as the default subject.
type Target struct {
	Scope   guests.Scope
	GuestID string
}

// Executor runs validated invocations against the guest service.
type Executor struct {
	guests *guests.Service
}

func NewExecutor(g *guests.Service) *Executor {
	return &Executor{guests: g}
}

// Execute runs one invocation. Each call is its own transaction; an error
// leaves earlier calls applied.
func (e *Executor) Execute(ctx context.Context, t Target, inv Invocation) (string, error) {
	return Apply(ctx, inv, boundHandler{svc: e.guests, target: t})
}

type boundHandler struct {
	svc    *guests.Service
	target Target
}

// subject resolves the guest a call acts on. An explicit id must be the
// conversation guest or a member of the same group.
func (h boundHandler) subject(ctx context.Context, id string) (string, error) {
	if h.target.GuestID == "" {
		return "", fmt.Errorf("%w: no guest is linked to this conversation", ErrInvalidInput)
	}
	id = strings.TrimSpace(id)
	if id == "" || id == h.target.GuestID {
		return h.target.GuestID, nil
	}
	self, err := h.svc.Get(ctx, h.target.Scope, h.target.GuestID)
	if err != nil {
		return "", err
	}
	other, err := h.svc.Get(ctx, h.target.Scope, id)
	if err != nil {
		return "", err
	}
	if self.GroupID == "" || other.GroupID != self.GroupID {
		return "", fmt.Errorf("guest %s is not in this conversation's party: %w", id, store.ErrNotFound)
	}
	return id, nil
}

func (h boundHandler) UpdateRSVP(ctx context.Context, in UpdateRSVP) (string, error) {
	id, err := h.subject(ctx, in.GuestID)
	if err != nil {
		return "", err
	}
	g, err := h.svc.UpdateRSVP(ctx, h.target.Scope, id, guests.RSVPUpdate{Status: in.Status, NumberOfGuests: in.NumberOfGuests})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RSVP for %s set to %s (party of %d)", g.Name, g.Status, g.NumberOfGuests), nil
}

func (h boundHandler) UpdateGuest(ctx context.Context, in UpdateGuest) (string, error) {
	id, err := h.subject(ctx, in.GuestID)
	if err != nil {
		return "", err
	}
	g, err := h.svc.Patch(ctx, h.target.Scope, id, guests.Patch{
		Name:        in.Name,
		Phone:       in.Phone,
		Status:      in.Status,
		Priority:    in.Priority,
		Language:    in.Language,
		Category:    in.Category,
		TableNumber: in.TableNumber,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s: %s", g.Name, strings.Join(changedFields(in), ", ")), nil
}

func (h boundHandler) AddGuest(ctx context.Context, in AddGuest) (string, error) {
	var lead string
	if strings.TrimSpace(in.CompanionOf) != "" {
		var err error
		if lead, err = h.subject(ctx, in.CompanionOf); err != nil {
			return "", err
		}
	}
	g, err := h.svc.Add(ctx, h.target.Scope, guests.NewGuest{
		Name:                in.Name,
		Phone:               in.Phone,
		Language:            in.Language,
		DietaryRestrictions: in.DietaryRestrictions,
		CompanionOf:         lead,
	})
	if err != nil {
		return "", err
	}
	if g.GroupID != "" {
		return fmt.Sprintf("Added %s to the party", g.Name), nil
	}
	return fmt.Sprintf("Added guest %s", g.Name), nil
}

func (h boundHandler) DeleteGuest(ctx context.Context, in DeleteGuest) (string, error) {
	id, err := h.subject(ctx, in.GuestID)
	if err != nil {
		return "", err
	}
	g, err := h.svc.Delete(ctx, h.target.Scope, id)
	if err != nil {
		if errors.Is(err, guests.ErrGroupHasMembers) {
			return "", fmt.Errorf("%s leads a party with companions; remove them first: %w", g.Name, err)
		}
		return "", err
	}
	return fmt.Sprintf("Removed guest %s", g.Name), nil
}

func (h boundHandler) UpdatePlusOneName(ctx context.Context, in UpdatePlusOneName) (string, error) {
	id, err := h.subject(ctx, in.GuestID)
	if err != nil {
		return "", err
	}
	g, err := h.svc.SetCompanionName(ctx, h.target.Scope, id, in.CompanionID, in.PlusOneName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Plus-one name set to %s", g.Name), nil
}

func (h boundHandler) UpdateDietaryRestrictions(ctx context.Context, in UpdateDietaryRestrictions) (string, error) {
	id, err := h.subject(ctx, in.GuestID)
	if err != nil {
		return "", err
	}
	diet := in.DietaryRestrictions
	g, err := h.svc.Patch(ctx, h.target.Scope, id, guests.Patch{DietaryRestrictions: &diet})
	if err != nil {
		return "", err
	}
	if g.DietaryRestrictions == "" {
		return fmt.Sprintf("Cleared dietary restrictions for %s", g.Name), nil
	}
	return fmt.Sprintf("Dietary restrictions for %s: %s", g.Name, g.DietaryRestrictions), nil
}

func changedFields(in UpdateGuest) []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(in.Name != nil, "name")
	add(in.Phone != nil, "phone")
	add(in.Status != nil, "status")
	add(in.Priority != nil, "priority")
	add(in.Language != nil, "language")
	add(in.Category != nil, "category")
	add(in.TableNumber != nil, "table")
	return out
}

var _ Handler = boundHandler{}
