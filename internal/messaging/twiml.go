package messaging

import (
	"bytes"
	"encoding/xml"
)

// TwiML acknowledgment for messaging webhooks. Replies are sent later through
// the REST API, so the synchronous answer carries no verbs unless asked to.

type twimlResponse struct {
	XMLName xml.Name       `xml:"Response"`
	Message []twimlMessage `xml:"Message,omitempty"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

// RenderEmptyTwiML is the acknowledgment returned for every accepted webhook.
func RenderEmptyTwiML() string {
	out, _ := renderTwiML(twimlResponse{})
	return out
}

// RenderMessageTwiML answers synchronously with one message.
func RenderMessageTwiML(body string) (string, error) {
	return renderTwiML(twimlResponse{Message: []twimlMessage{{Body: body}}})
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
