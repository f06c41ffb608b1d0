package chat

import (
	"context"
	"sync"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

var testNow = time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)

const (
	testOrg      = "org-1"
	testOrgPhone = "+14155550100"
	anaPhone     = "+5215511112222"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []ReplyJob
	err  error
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.jobs = append(r.jobs, payload.(ReplyJob))
	return "job-" + jobType, nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// seedWorld stores one organization with two events; Ana belongs to ev-1 and
// Otto to ev-2.
func seedWorld() *store.Memory {
	st := store.NewMemory()
	st.PutOrganization(models.Organization{ID: testOrg, Name: "Bodas MX", WhatsAppNumber: testOrgPhone})
	st.PutEvent(models.Event{ID: "ev-1", OrganizationID: testOrg, Name: "Boda Ana y Luis"})
	st.PutEvent(models.Event{ID: "ev-2", OrganizationID: testOrg, Name: "Boda Otto"})
	st.PutGuest(models.Guest{
		ID: "g-ana", OrganizationID: testOrg, EventID: "ev-1", Name: "Ana", Phone: anaPhone,
		Status: models.GuestStatusPending, Priority: models.PriorityMedium, Language: models.LanguageES,
		NumberOfGuests: 1, IsPrimaryGuest: true, DedupeKey: anaPhone + "|ana",
	})
	st.PutGuest(models.Guest{
		ID: "g-otto", OrganizationID: testOrg, EventID: "ev-2", Name: "Otto",
		Status: models.GuestStatusPending, Priority: models.PriorityMedium, Language: models.LanguageEN,
		NumberOfGuests: 1, IsPrimaryGuest: true, DedupeKey: "|otto",
	})
	return st
}
