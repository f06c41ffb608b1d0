package chatlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

func seedSession(t *testing.T, st *store.Memory, id, org string) {
	t.Helper()
	err := st.CreateSession(context.Background(), models.ChatSession{
		ID: id, OrganizationID: org, Phone: "+5215512345678", IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestAppendRequiresSessionAndOrganization(t *testing.T) {
	svc := NewService(store.NewMemory())

	if _, err := svc.Append(context.Background(), models.ChatLog{SessionID: "s1"}); !errors.Is(err, ErrInvalidLog) {
		t.Fatalf("expected ErrInvalidLog, got %v", err)
	}
	if _, err := svc.Append(context.Background(), models.ChatLog{OrganizationID: "o1"}); !errors.Is(err, ErrInvalidLog) {
		t.Fatalf("expected ErrInvalidLog, got %v", err)
	}
}

func TestAppendFillsIdentityAndTimestamp(t *testing.T) {
	st := store.NewMemory()
	svc := NewService(st)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	calls := []models.ToolCall{{Name: "update_rsvp", Result: "ok"}}
	l, err := svc.Append(context.Background(), models.ChatLog{
		SessionID: "s1", OrganizationID: "o1", Inbound: "sí", Reply: "¡Gracias!", ToolCalls: calls,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if l.ID == "" || !l.CreatedAt.Equal(now) {
		t.Fatalf("expected id and timestamp, got %+v", l)
	}
	calls[0].Result = "mutated"
	logs, _ := st.ListChatLogs(context.Background(), "s1", 10)
	if len(logs) != 1 || logs[0].ToolCalls[0].Result != "ok" {
		t.Fatalf("stored log must not alias caller slice: %+v", logs)
	}
}

func TestTimelineIsOrganizationScoped(t *testing.T) {
	st := store.NewMemory()
	svc := NewService(st)
	seedSession(t, st, "s1", "o1")
	for i := 0; i < 3; i++ {
		if _, err := svc.Append(context.Background(), models.ChatLog{SessionID: "s1", OrganizationID: "o1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	logs, err := svc.Timeline(context.Background(), "o1", "s1", 2)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if _, err := svc.Timeline(context.Background(), "o2", "s1", 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other organization, got %v", err)
	}
}
