package agent

import (
	"fmt"
	"strings"

	"guest-messaging/internal/models"
)

// SystemPrompt describes the assistant's job and the guest's current record.
func SystemPrompt(in Context) string {
	var b strings.Builder
	b.WriteString("You are the RSVP assistant for an event. Answer guests briefly and warmly, ")
	b.WriteString("in the guest's language. Use the tools to record answers; never claim a change ")
	b.WriteString("you did not make with a tool. Only act on this guest and their party.\n\n")

	fmt.Fprintf(&b, "Event: %s", in.Event.Name)
	if in.Event.Location != "" {
		fmt.Fprintf(&b, " at %s", in.Event.Location)
	}
	if !in.Event.StartsAt.IsZero() {
		fmt.Fprintf(&b, " on %s", in.Event.StartsAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	if in.Guest == nil {
		b.WriteString("The sender is not on the guest list. Do not change any guest; ask who they are.\n")
		return b.String()
	}
	g := in.Guest
	fmt.Fprintf(&b, "Guest: %s (id %s), status %s, party of %d, language %s",
		g.Name, g.ID, g.Status, g.NumberOfGuests, languageName(g.Language))
	if g.DietaryRestrictions != "" {
		fmt.Fprintf(&b, ", diet: %s", g.DietaryRestrictions)
	}
	b.WriteString("\n")
	for _, m := range in.Party {
		if m.ID == g.ID {
			continue
		}
		fmt.Fprintf(&b, "Companion: %s (id %s)\n", m.Name, m.ID)
	}
	return b.String()
}

// PendingText flattens unanswered messages into one user turn. Audio
// attachments are referenced by URL; transcription happens upstream.
func PendingText(msgs []models.InboundMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Body != "" {
			b.WriteString(m.Body)
		}
		for _, a := range m.Media {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			kind := "attachment"
			if a.IsAudio() {
				kind = "voice note"
			}
			fmt.Fprintf(&b, "[%s: %s]", kind, a.URL)
		}
	}
	return b.String()
}

func languageName(l models.Language) string {
	switch l {
	case models.LanguageEN:
		return "English"
	default:
		return "Spanish"
	}
}
