package tools

// Definition describes one tool to the reasoning agent. Parameters is a JSON
// schema object.
type Definition struct {
	Name        Kind           `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func object(required []string, props map[string]any) map[string]any {
	o := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

var guestIDProp = str("Guest id within this conversation's party. Omit to act on the guest in this conversation.")

// Definitions lists every whitelisted tool in a stable order.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        KindUpdateRSVP,
			Description: "Record whether the guest attends and, optionally, how many people come in total including the guest.",
			Parameters: object([]string{"status"}, map[string]any{
				"guest_id": guestIDProp,
				"status":   enum("Attendance answer.", "PENDING", "CONFIRMED", "DECLINED", "INACTIVE"),
				"number_of_guests": map[string]any{
					"type": "integer", "minimum": 1, "maximum": maxPartySize,
					"description": "Party size including the guest.",
				},
			}),
		},
		{
			Name:        KindUpdateGuest,
			Description: "Correct guest details. Only send the fields that change.",
			Parameters: object(nil, map[string]any{
				"guest_id":     guestIDProp,
				"name":         str("Full name."),
				"phone":        str("Phone number in international format."),
				"status":       enum("Attendance status.", "PENDING", "CONFIRMED", "DECLINED", "INACTIVE"),
				"priority":     enum("Invitation priority.", "HIGH", "MEDIUM", "LOW"),
				"language":     enum("Preferred language.", "ES", "EN"),
				"category":     str("Guest category, e.g. family or friends."),
				"table_number": str("Assigned table."),
			}),
		},
		{
			Name:        KindAddGuest,
			Description: "Add a guest. Set companion_of to add them to an existing guest's party.",
			Parameters: object([]string{"name"}, map[string]any{
				"name":                 str("Full name."),
				"phone":                str("Phone number in international format."),
				"language":             enum("Preferred language.", "ES", "EN"),
				"dietary_restrictions": str("Allergies or diet."),
				"companion_of":         str("Guest id in this conversation's party that the new guest joins."),
			}),
		},
		{
			Name:        KindDeleteGuest,
			Description: "Remove a guest. A party lead cannot be removed while companions remain.",
			Parameters: object([]string{"guest_id"}, map[string]any{
				"guest_id": str("Guest id in this conversation's party to remove."),
			}),
		},
		{
			Name:        KindUpdatePlusOneName,
			Description: "Set the name of the guest's plus-one, creating the plus-one if there is none yet.",
			Parameters: object([]string{"plus_one_name"}, map[string]any{
				"guest_id":      guestIDProp,
				"companion_id":  str("Which companion to rename when the party has several."),
				"plus_one_name": str("Plus-one full name."),
			}),
		},
		{
			Name:        KindUpdateDietaryRestrictions,
			Description: "Replace the guest's dietary restrictions. Send an empty string to clear them.",
			Parameters: object([]string{"dietary_restrictions"}, map[string]any{
				"guest_id":             guestIDProp,
				"dietary_restrictions": str("Allergies or diet."),
			}),
		},
	}
}
