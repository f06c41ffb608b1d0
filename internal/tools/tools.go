package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guest-messaging/internal/models"
)

var (
	ErrUnknownTool  = errors.New("tools: unknown tool")
	ErrInvalidInput = errors.New("tools: invalid input")
)

// Kind names one whitelisted tool.
type Kind string

const (
	KindUpdateRSVP                Kind = "update_rsvp"
	KindUpdateGuest               Kind = "update_guest"
	KindAddGuest                  Kind = "add_guest"
	KindDeleteGuest               Kind = "delete_guest"
	KindUpdatePlusOneName         Kind = "update_plus_one_name"
	KindUpdateDietaryRestrictions Kind = "update_dietary_restrictions"
)

// Call is a tool request exactly as the agent produced it. It is untrusted
// until Parse accepts it.
type Call struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Invocation is a validated tool call. The set of implementations is closed:
// each one dispatches to its own Handler method, so a new kind does not
// compile until every Handler serves it.
type Invocation interface {
	Kind() Kind
	// Subject is the guest the call targets, "" when it targets the session's guest.
	Subject() string
	apply(ctx context.Context, h Handler) (string, error)
	validate() error
}

// Handler executes each kind of invocation and returns the human-readable
// result recorded on the chat log.
type Handler interface {
	UpdateRSVP(ctx context.Context, in UpdateRSVP) (string, error)
	UpdateGuest(ctx context.Context, in UpdateGuest) (string, error)
	AddGuest(ctx context.Context, in AddGuest) (string, error)
	DeleteGuest(ctx context.Context, in DeleteGuest) (string, error)
	UpdatePlusOneName(ctx context.Context, in UpdatePlusOneName) (string, error)
	UpdateDietaryRestrictions(ctx context.Context, in UpdateDietaryRestrictions) (string, error)
}

type UpdateRSVP struct {
	GuestID        string             `json:"guest_id,omitempty"`
	Status         models.GuestStatus `json:"status"`
	NumberOfGuests *int               `json:"number_of_guests,omitempty"`
}

func (UpdateRSVP) Kind() Kind          { return KindUpdateRSVP }
func (in UpdateRSVP) Subject() string { return in.GuestID }
func (in UpdateRSVP) apply(ctx context.Context, h Handler) (string, error) {
	return h.UpdateRSVP(ctx, in)
}
func (in UpdateRSVP) validate() error {
	if !in.Status.Valid() {
		return fmt.Errorf("status must be one of PENDING, CONFIRMED, DECLINED, INACTIVE; got %q", in.Status)
	}
	if in.NumberOfGuests != nil && (*in.NumberOfGuests < 1 || *in.NumberOfGuests > maxPartySize) {
		return fmt.Errorf("number_of_guests must be between 1 and %d", maxPartySize)
	}
	return nil
}

type UpdateGuest struct {
	GuestID     string              `json:"guest_id,omitempty"`
	Name        *string             `json:"name,omitempty"`
	Phone       *string             `json:"phone,omitempty"`
	Status      *models.GuestStatus `json:"status,omitempty"`
	Priority    *models.Priority    `json:"priority,omitempty"`
	Language    *models.Language    `json:"language,omitempty"`
	Category    *string             `json:"category,omitempty"`
	TableNumber *string             `json:"table_number,omitempty"`
}

func (UpdateGuest) Kind() Kind          { return KindUpdateGuest }
func (in UpdateGuest) Subject() string { return in.GuestID }
func (in UpdateGuest) apply(ctx context.Context, h Handler) (string, error) {
	return h.UpdateGuest(ctx, in)
}
func (in UpdateGuest) validate() error {
	if in.Name == nil && in.Phone == nil && in.Status == nil && in.Priority == nil &&
		in.Language == nil && in.Category == nil && in.TableNumber == nil {
		return errors.New("at least one field to update is required")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return errors.New("name must not be empty")
	}
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("invalid status %q", *in.Status)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return fmt.Errorf("priority must be one of HIGH, MEDIUM, LOW; got %q", *in.Priority)
	}
	if in.Language != nil && !in.Language.Valid() {
		return fmt.Errorf("language must be ES or EN; got %q", *in.Language)
	}
	return nil
}

type AddGuest struct {
	Name                string          `json:"name"`
	Phone               string          `json:"phone,omitempty"`
	Language            models.Language `json:"language,omitempty"`
	DietaryRestrictions string          `json:"dietary_restrictions,omitempty"`
	// CompanionOf joins the new guest to that guest's party.
	CompanionOf string `json:"companion_of,omitempty"`
}

func (AddGuest) Kind() Kind          { return KindAddGuest }
func (in AddGuest) Subject() string { return in.CompanionOf }
func (in AddGuest) apply(ctx context.Context, h Handler) (string, error) {
	return h.AddGuest(ctx, in)
}
func (in AddGuest) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("name is required")
	}
	if in.Language != "" && !in.Language.Valid() {
		return fmt.Errorf("language must be ES or EN; got %q", in.Language)
	}
	return nil
}

type DeleteGuest struct {
	GuestID string `json:"guest_id"`
}

func (DeleteGuest) Kind() Kind          { return KindDeleteGuest }
func (in DeleteGuest) Subject() string { return in.GuestID }
func (in DeleteGuest) apply(ctx context.Context, h Handler) (string, error) {
	return h.DeleteGuest(ctx, in)
}
func (in DeleteGuest) validate() error {
	if strings.TrimSpace(in.GuestID) == "" {
		return errors.New("guest_id is required")
	}
	return nil
}

type UpdatePlusOneName struct {
	GuestID     string `json:"guest_id,omitempty"`
	CompanionID string `json:"companion_id,omitempty"`
	PlusOneName string `json:"plus_one_name"`
}

func (UpdatePlusOneName) Kind() Kind          { return KindUpdatePlusOneName }
func (in UpdatePlusOneName) Subject() string { return in.GuestID }
func (in UpdatePlusOneName) apply(ctx context.Context, h Handler) (string, error) {
	return h.UpdatePlusOneName(ctx, in)
}
func (in UpdatePlusOneName) validate() error {
	if strings.TrimSpace(in.PlusOneName) == "" {
		return errors.New("plus_one_name is required")
	}
	return nil
}

type UpdateDietaryRestrictions struct {
	GuestID             string `json:"guest_id,omitempty"`
	DietaryRestrictions string `json:"dietary_restrictions"`
}

func (UpdateDietaryRestrictions) Kind() Kind          { return KindUpdateDietaryRestrictions }
func (in UpdateDietaryRestrictions) Subject() string { return in.GuestID }
func (in UpdateDietaryRestrictions) apply(ctx context.Context, h Handler) (string, error) {
	return h.UpdateDietaryRestrictions(ctx, in)
}
func (in UpdateDietaryRestrictions) validate() error {
	if len(in.DietaryRestrictions) > 500 {
		return errors.New("dietary_restrictions is too long")
	}
	return nil
}

const maxPartySize = 20

// decoders is the whitelist. A name missing here is rejected by Parse.
var decoders = map[Kind]func(json.RawMessage) (Invocation, error){
	KindUpdateRSVP:                decodeAs[UpdateRSVP],
	KindUpdateGuest:               decodeAs[UpdateGuest],
	KindAddGuest:                  decodeAs[AddGuest],
	KindDeleteGuest:               decodeAs[DeleteGuest],
	KindUpdatePlusOneName:         decodeAs[UpdatePlusOneName],
	KindUpdateDietaryRestrictions: decodeAs[UpdateDietaryRestrictions],
}

func decodeAs[T Invocation](raw json.RawMessage) (Invocation, error) {
	var v T
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after input object")
	}
	return v, nil
}

// Parse accepts a call only if its name is whitelisted and its input decodes
// strictly and passes validation.
func Parse(c Call) (Invocation, error) {
	decode, ok := decoders[Kind(c.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, c.Name)
	}
	inv, err := decode(c.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, c.Name, err)
	}
	if err := inv.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, c.Name, err)
	}
	return inv, nil
}

// Apply runs inv against h.
func Apply(ctx context.Context, inv Invocation, h Handler) (string, error) {
	return inv.apply(ctx, h)
}
