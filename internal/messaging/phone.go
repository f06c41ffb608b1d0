package messaging

import "strings"

const whatsappPrefix = "whatsapp:"

// NormalizePhone turns transport addresses into "+<digits>". It strips the
// Twilio "whatsapp:" prefix, punctuation and spaces, and rewrites a leading
// international "00" as "+". It returns "" when no digits remain.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(whatsappPrefix) && strings.EqualFold(s[:len(whatsappPrefix)], whatsappPrefix) {
		s = s[len(whatsappPrefix):]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if !strings.HasPrefix(strings.TrimSpace(s), "+") {
		digits = strings.TrimPrefix(digits, "00")
	}
	return "+" + digits
}

// WhatsAppAddress is the Twilio channel address for an E.164 number.
func WhatsAppAddress(phone string) string {
	return whatsappPrefix + NormalizePhone(phone)
}
