package models

import "testing"

func TestDeliveryStatus_CanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliveryStatusQueued, DeliveryStatusSent, true},
		{DeliveryStatusQueued, DeliveryStatusDelivered, true},
		{DeliveryStatusSent, DeliveryStatusDelivered, true},
		{DeliveryStatusDelivered, DeliveryStatusRead, true},
		{DeliveryStatusQueued, DeliveryStatusFailed, true},
		{DeliveryStatusSent, DeliveryStatusFailed, true},
		{DeliveryStatusDelivered, DeliveryStatusSent, false},
		{DeliveryStatusDelivered, DeliveryStatusFailed, false},
		{DeliveryStatusRead, DeliveryStatusDelivered, false},
		{DeliveryStatusFailed, DeliveryStatusDelivered, false},
		{DeliveryStatusSent, DeliveryStatusSent, false},
		{DeliveryStatusSent, DeliveryStatus("bogus"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestUsagePeriod(t *testing.T) {
	if got := UsagePeriod(mustTime(t, "2026-03-31T23:30:00-05:00")); got != "2026-04" {
		t.Fatalf("expected UTC month 2026-04, got %s", got)
	}
}
