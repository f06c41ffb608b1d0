package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"guest-messaging/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowTransport sends and receives through a linked WhatsApp Web device.
// The device session lives in a sqlite database under the data directory.
// Delivery receipts are surfaced as StatusUpdates so the same tracker serves
// both transports.
type WhatsmeowTransport struct {
	client *whatsmeow.Client
	log    *slog.Logger
	qrOut  io.Writer

	mu        sync.RWMutex
	baseCtx   context.Context
	onMessage func(ctx context.Context, m Inbound) error
	onStatus  func(ctx context.Context, u StatusUpdate) error
}

func OpenWhatsmeow(ctx context.Context, dataDir string, log *slog.Logger) (*WhatsmeowTransport, error) {
	if dataDir == "" {
		return nil, errors.New("messaging: whatsmeow data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("messaging: create data dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", dataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging: load device: %w", err)
	}

	t := &WhatsmeowTransport{
		client:  whatsmeow.NewClient(device, nil),
		log:     log,
		qrOut:   os.Stdout,
		baseCtx: context.Background(),
	}
	t.client.AddEventHandler(t.handleEvent)
	return t, nil
}

func (t *WhatsmeowTransport) OnMessage(fn func(ctx context.Context, m Inbound) error) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *WhatsmeowTransport) OnStatus(fn func(ctx context.Context, u StatusUpdate) error) {
	t.mu.Lock()
	t.onStatus = fn
	t.mu.Unlock()
}

// Connect links the device on first run by printing a QR code, then keeps the
// websocket open. Event callbacks run with ctx's values.
func (t *WhatsmeowTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.baseCtx = context.WithoutCancel(ctx)
	t.mu.Unlock()

	if t.client.Store.ID != nil {
		if err := t.client.Connect(); err != nil {
			return fmt.Errorf("messaging: whatsmeow connect: %w", err)
		}
		return nil
	}

	qrChan, err := t.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("messaging: whatsmeow qr channel: %w", err)
	}
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("messaging: whatsmeow connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			t.log.Info("whatsmeow login event", "event", evt.Event)
			continue
		}
		q, err := qrcode.New(evt.Code, qrcode.Medium)
		if err != nil {
			t.log.Warn("qr render failed, printing raw code", "err", err)
			fmt.Fprintf(t.qrOut, "QR code: %s\n", evt.Code)
			continue
		}
		fmt.Fprintln(t.qrOut, q.ToSmallString(false))
		t.log.Info("scan the QR code from WhatsApp > Linked Devices")
	}
	return nil
}

func (t *WhatsmeowTransport) Disconnect() {
	t.client.Disconnect()
}

// OwnNumber is the linked device's number, or "" before pairing.
func (t *WhatsmeowTransport) OwnNumber() string {
	if t.client.Store.ID == nil {
		return ""
	}
	return NormalizePhone(t.client.Store.ID.User)
}

func (t *WhatsmeowTransport) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if strings.TrimSpace(msg.Body) == "" {
		return SendResult{}, errors.New("messaging: empty body")
	}
	user := strings.TrimPrefix(NormalizePhone(msg.To), "+")
	if user == "" {
		return SendResult{}, errors.New("messaging: invalid recipient")
	}

	found, err := t.client.IsOnWhatsApp(ctx, []string{"+" + user})
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: whatsmeow lookup: %w", err)
	}
	if len(found) == 0 || !found[0].IsIn {
		return SendResult{}, fmt.Errorf("messaging: %s is not on WhatsApp", msg.To)
	}

	resp, err := t.client.SendMessage(ctx, found[0].JID, &waE2E.Message{
		Conversation: proto.String(msg.Body),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: whatsmeow send: %w", err)
	}
	return SendResult{ExternalID: string(resp.ID), Status: models.DeliveryStatusSent}, nil
}

func (t *WhatsmeowTransport) handleEvent(evt any) {
	t.mu.RLock()
	ctx, onMessage, onStatus := t.baseCtx, t.onMessage, t.onStatus
	t.mu.RUnlock()

	switch evt := evt.(type) {
	case *events.Message:
		m, ok := inboundFromEvent(evt, t.OwnNumber())
		if !ok || onMessage == nil {
			return
		}
		if err := onMessage(ctx, m); err != nil {
			t.log.Error("whatsmeow inbound handling failed", "message_id", m.ProviderMessageID, "err", err)
		}
	case *events.Receipt:
		if onStatus == nil {
			return
		}
		for _, u := range statusesFromReceipt(evt) {
			if err := onStatus(ctx, u); err != nil {
				t.log.Error("whatsmeow receipt handling failed", "message_sid", u.MessageSid, "err", err)
			}
		}
	case *events.Connected:
		t.log.Info("connected to WhatsApp")
	case *events.Disconnected:
		t.log.Warn("disconnected from WhatsApp")
	case *events.LoggedOut:
		t.log.Error("logged out from WhatsApp; relink the device")
	}
}

func inboundFromEvent(evt *events.Message, own string) (Inbound, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return Inbound{}, false
	}
	m := Inbound{
		ProviderMessageID: string(evt.Info.ID),
		From:              NormalizePhone(evt.Info.Sender.User),
		To:                own,
		ProfileName:       evt.Info.PushName,
		ReceivedAt:        evt.Info.Timestamp,
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		m.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		m.Body = msg.GetExtendedTextMessage().GetText()
	}
	if a := msg.GetAudioMessage(); a != nil {
		m.Media = append(m.Media, models.MediaAttachment{URL: a.GetURL(), ContentType: a.GetMimetype()})
	}
	if img := msg.GetImageMessage(); img != nil {
		m.Body = strings.TrimSpace(m.Body + " " + img.GetCaption())
		m.Media = append(m.Media, models.MediaAttachment{URL: img.GetURL(), ContentType: img.GetMimetype()})
	}
	m.Body = strings.TrimSpace(m.Body)

	if m.From == "" || !m.HasContent() {
		return Inbound{}, false
	}
	return m, true
}

func statusesFromReceipt(evt *events.Receipt) []StatusUpdate {
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead:
		status = "read"
	default:
		return nil
	}
	out := make([]StatusUpdate, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		out = append(out, StatusUpdate{MessageSid: string(id), Status: status})
	}
	return out
}
