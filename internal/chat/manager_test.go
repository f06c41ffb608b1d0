package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"guest-messaging/internal/messaging"
	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

func newTestManager(st *store.Memory) (*Manager, *recordingEnqueuer) {
	jobs := &recordingEnqueuer{}
	m := NewManager(st, jobs)
	m.clock = func() time.Time { return testNow }
	return m, jobs
}

func inbound(body string) messaging.Inbound {
	return messaging.Inbound{
		ProviderMessageID: "SMin1",
		From:              anaPhone,
		To:                testOrgPhone,
		Body:              body,
		ReceivedAt:        testNow,
	}
}

func TestHandleIncomingMessageIgnoresEmptyPayload(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)

	for _, in := range []messaging.Inbound{
		{To: testOrgPhone, Body: "hola"},
		{From: anaPhone, To: testOrgPhone},
	} {
		res, err := m.HandleIncomingMessage(context.Background(), in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Skipped == "" {
			t.Fatalf("expected skip for %+v", in)
		}
	}
	if jobs.count() != 0 {
		t.Fatalf("no job may be enqueued")
	}
	if _, err := st.FindSession(context.Background(), testOrg, anaPhone); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no session may be created, got %v", err)
	}
}

func TestHandleIncomingMessageCreatesLinkedSession(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)

	res, err := m.HandleIncomingMessage(context.Background(), inbound("Sí confirmo, llevo 2 personas"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Session.GuestID != "g-ana" || res.Session.EventID != "ev-1" || !res.Session.IsActive {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if jobs.count() != 1 || jobs.jobs[0] != (ReplyJob{SessionID: res.Session.ID, OrganizationID: testOrg}) {
		t.Fatalf("unexpected jobs: %+v", jobs.jobs)
	}
	pending, _ := st.ListUnprocessedMessages(context.Background(), res.Session.ID)
	if len(pending) != 1 || pending[0].Kind != models.MessageKindText {
		t.Fatalf("unexpected pending: %+v", pending)
	}
}

func TestHandleIncomingMessageUnknownNumber(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)

	in := inbound("hola")
	in.To = "+10000000000"
	if _, err := m.HandleIncomingMessage(context.Background(), in); !errors.Is(err, ErrUnknownNumber) {
		t.Fatalf("expected ErrUnknownNumber, got %v", err)
	}
	if jobs.count() != 0 {
		t.Fatalf("no job may be enqueued")
	}
}

func TestHandleIncomingMessageReplayIsAbsorbed(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)
	ctx := context.Background()

	if _, err := m.HandleIncomingMessage(ctx, inbound("hola")); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := m.HandleIncomingMessage(ctx, inbound("hola"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Duplicate || jobs.count() != 1 {
		t.Fatalf("replay must not enqueue again: dup=%v jobs=%d", res.Duplicate, jobs.count())
	}
}

func TestHandleIncomingMessageReactivatesAndRelinks(t *testing.T) {
	st := store.NewMemory()
	st.PutOrganization(models.Organization{ID: testOrg, WhatsAppNumber: testOrgPhone})
	err := st.CreateSession(context.Background(), models.ChatSession{
		ID: "s1", OrganizationID: testOrg, Phone: anaPhone, IsActive: false,
		LastMessageAt: testNow.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.PutGuest(models.Guest{ID: "g-ana", OrganizationID: testOrg, EventID: "ev-1", Name: "Ana", Phone: anaPhone})

	m, _ := newTestManager(st)
	res, err := m.HandleIncomingMessage(context.Background(), inbound("hola de nuevo"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Session.ID != "s1" || !res.Session.IsActive || res.Session.GuestID != "g-ana" {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if !res.Session.LastMessageAt.Equal(testNow) {
		t.Fatalf("lastMessageAt not updated: %s", res.Session.LastMessageAt)
	}
}

func TestHandleIncomingAudio(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)
	ctx := context.Background()

	in := inbound("")
	in.Media = []models.MediaAttachment{{URL: "https://media/1", ContentType: "image/jpeg"}}
	res, err := m.HandleIncomingAudio(ctx, in)
	if err != nil || res.Skipped == "" {
		t.Fatalf("image-only payload must be skipped: %+v %v", res, err)
	}

	in.Media = []models.MediaAttachment{{URL: "https://media/2", ContentType: "audio/ogg"}}
	res, err = m.HandleInbound(ctx, in)
	if err != nil {
		t.Fatalf("handle audio: %v", err)
	}
	pending, _ := st.ListUnprocessedMessages(ctx, res.Session.ID)
	if len(pending) != 1 || pending[0].Kind != models.MessageKindAudio {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	if jobs.count() != 1 {
		t.Fatalf("expected one job, got %d", jobs.count())
	}
}

func TestHandleIncomingMessageEnqueueFailureKeepsMessage(t *testing.T) {
	st := seedWorld()
	m, jobs := newTestManager(st)
	jobs.err = errors.New("redis down")

	res, err := m.HandleIncomingMessage(context.Background(), inbound("hola"))
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
	pending, _ := st.ListUnprocessedMessages(context.Background(), res.Session.ID)
	if len(pending) != 1 {
		t.Fatalf("message must stay pending for the next reply, got %d", len(pending))
	}
}
