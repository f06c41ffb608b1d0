package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"guest-messaging/internal/models"
	"guest-messaging/internal/store"
)

func ptr(t time.Time) *time.Time { return &t }

func seedDeliveries(t *testing.T, st *store.Memory, now time.Time) {
	t.Helper()
	rows := []models.MessageDelivery{
		{MessageSid: "SM1", OrganizationID: "o1", Status: models.DeliveryStatusDelivered, CreatedAt: now, DeliveredAt: ptr(now.Add(4 * time.Second))},
		{MessageSid: "SM2", OrganizationID: "o1", Status: models.DeliveryStatusRead, CreatedAt: now, DeliveredAt: ptr(now.Add(2 * time.Second)), ReadAt: ptr(now.Add(time.Minute))},
		{MessageSid: "SM3", OrganizationID: "o1", Status: models.DeliveryStatusFailed, CreatedAt: now, ErrorMessage: "undelivered: 30008 Unknown error"},
		{MessageSid: "SM4", OrganizationID: "o1", Status: models.DeliveryStatusFailed, CreatedAt: now, ErrorMessage: "undelivered: 30008 Unknown error"},
		{MessageSid: "SM5", OrganizationID: "o2", Status: models.DeliveryStatusDelivered, CreatedAt: now},
	}
	for _, d := range rows {
		d.ID = "d-" + d.MessageSid
		if err := st.CreateDelivery(context.Background(), d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestReporting_DeliverySummaryIsOrganizationScoped(t *testing.T) {
	st := store.NewMemory()
	now := time.Unix(1700000000, 0).UTC()
	seedDeliveries(t, st, now)
	svc := NewService(st)

	out, err := svc.DeliverySummary(context.Background(), DeliverySummaryRequest{
		OrganizationID: "o1",
		Range:          TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalMessages != 4 || out.Delivered != 1 || out.Read != 1 || out.Failed != 2 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.DeliveryRate != 0.5 || out.ReadRate != 0.25 {
		t.Fatalf("unexpected rates: %v %v", out.DeliveryRate, out.ReadRate)
	}
	if out.AverageDeliverySeconds != 3 {
		t.Fatalf("expected 3s average delivery, got %d", out.AverageDeliverySeconds)
	}
	if len(out.TopFailures) != 1 || out.TopFailures[0].Count != 2 {
		t.Fatalf("unexpected failures: %+v", out.TopFailures)
	}
}

func TestReporting_DeliverySummaryValidatesRange(t *testing.T) {
	svc := NewService(store.NewMemory())
	now := time.Now()
	_, err := svc.DeliverySummary(context.Background(), DeliverySummaryRequest{OrganizationID: "o1", Range: TimeRange{From: now, To: now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestReporting_UsageSummaryFillsEmptyMonths(t *testing.T) {
	st := store.NewMemory()
	at := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	if _, err := st.IncrementUsage(context.Background(), "o1", "2025-05", 7, at); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewService(st)

	out, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{OrganizationID: "o1", FromPeriod: "2025-04", ToPeriod: "2025-06"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out.Months) != 3 || out.TotalMessages != 7 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.Months[0].Period != "2025-04" || out.Months[1].MessagesCount != 7 || out.Months[2].MessagesCount != 0 {
		t.Fatalf("unexpected months: %+v", out.Months)
	}

	if _, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{OrganizationID: "o1", FromPeriod: "2020-01", ToPeriod: "2025-01"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected range limit, got %v", err)
	}
}
