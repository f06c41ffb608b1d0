package messaging

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func whatsmeowMessage(sender string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(sender, types.DefaultUserServer),
			},
			ID:        "3EB0ABC",
			PushName:  "Ana",
			Timestamp: time.Unix(1700000000, 0).UTC(),
		},
		Message: msg,
	}
}

func TestInboundFromEventText(t *testing.T) {
	evt := whatsmeowMessage("5215512345678", &waE2E.Message{Conversation: proto.String("Sí confirmo")})
	m, ok := inboundFromEvent(evt, "+14155238886")
	if !ok {
		t.Fatalf("expected message")
	}
	if m.From != "+5215512345678" || m.To != "+14155238886" || m.Body != "Sí confirmo" {
		t.Fatalf("unexpected inbound: %+v", m)
	}
	if m.ProviderMessageID != "3EB0ABC" || m.ProfileName != "Ana" {
		t.Fatalf("unexpected ids: %+v", m)
	}
}

func TestInboundFromEventAudio(t *testing.T) {
	evt := whatsmeowMessage("15551234567", &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			URL:      proto.String("https://mmg.whatsapp.net/a"),
			Mimetype: proto.String("audio/ogg; codecs=opus"),
		},
	})
	m, ok := inboundFromEvent(evt, "")
	if !ok {
		t.Fatalf("expected message")
	}
	if !m.IsAudio() || len(m.Media) != 1 {
		t.Fatalf("expected audio attachment: %+v", m)
	}
}

func TestInboundFromEventSkipsOwnAndEmpty(t *testing.T) {
	own := whatsmeowMessage("15551234567", &waE2E.Message{Conversation: proto.String("hi")})
	own.Info.IsFromMe = true
	if _, ok := inboundFromEvent(own, ""); ok {
		t.Fatalf("own messages must be skipped")
	}
	empty := whatsmeowMessage("15551234567", &waE2E.Message{})
	if _, ok := inboundFromEvent(empty, ""); ok {
		t.Fatalf("messages without content must be skipped")
	}
}

func TestStatusesFromReceipt(t *testing.T) {
	read := &events.Receipt{MessageIDs: []types.MessageID{"A", "B"}, Type: types.ReceiptTypeRead}
	got := statusesFromReceipt(read)
	if len(got) != 2 || got[0].MessageSid != "A" || got[1].Status != "read" {
		t.Fatalf("unexpected updates: %+v", got)
	}
	delivered := &events.Receipt{MessageIDs: []types.MessageID{"C"}, Type: types.ReceiptTypeDelivered}
	if got := statusesFromReceipt(delivered); len(got) != 1 || got[0].Status != "delivered" {
		t.Fatalf("unexpected updates: %+v", got)
	}
	played := &events.Receipt{MessageIDs: []types.MessageID{"D"}, Type: types.ReceiptTypePlayed}
	if got := statusesFromReceipt(played); len(got) != 0 {
		t.Fatalf("played receipts carry no lifecycle change: %+v", got)
	}
}
