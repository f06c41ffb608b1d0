package chat

import "guest-messaging/internal/models"

type replyText struct {
	failed  string
	updated string
	thanks  string
}

var replies = map[models.Language]replyText{
	models.LanguageES: {
		failed:  "Lo siento, no pude completar ese cambio. Por favor inténtalo de nuevo o contacta a los anfitriones.",
		updated: "¡Listo! Ya actualicé tu información.",
		thanks:  "¡Gracias por tu mensaje!",
	},
	models.LanguageEN: {
		failed:  "Sorry, I could not complete that update. Please try again or contact the hosts.",
		updated: "Done! I've updated your details.",
		thanks:  "Thanks for your message!",
	},
}

func textsFor(g *models.Guest) replyText {
	if g != nil {
		if t, ok := replies[g.Language]; ok {
			return t
		}
	}
	return replies[models.LanguageES]
}

// composeReply never passes on the agent's text after a failed call, since
// it may claim a change that did not happen.
func composeReply(g *models.Guest, agentReply string, executed int, failed bool) string {
	t := textsFor(g)
	switch {
	case failed:
		return t.failed
	case agentReply != "":
		return agentReply
	case executed > 0:
		return t.updated
	default:
		return t.thanks
	}
}
