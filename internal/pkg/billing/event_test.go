package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
)

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1"}}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.ID != "evt_1" || string(evt.Type) != EventInvoicePaid {
		t.Fatalf("unexpected event %q/%q", evt.ID, evt.Type)
	}

	for _, raw := range []string{`not json`, `{"type":"x"}`, `{"id":"evt_1"}`, `[]`} {
		if _, err := ParseEvent([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("ParseEvent(%s): expected ErrInvalidPayload, got %v", raw, err)
		}
	}
}

func TestInvoicePeriod_FallsBackToLineItems(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	lineEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix()

	inv := &stripe.Invoice{
		PeriodStart: created,
		PeriodEnd:   created,
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{
				{Period: &stripe.Period{Start: created, End: lineEnd}},
				nil,
			},
		},
	}

	start, end := invoicePeriod(inv)
	if start == nil || end == nil {
		t.Fatalf("expected period from line items")
	}
	if start.Unix() != created || end.Unix() != lineEnd {
		t.Fatalf("unexpected period %v - %v", start, end)
	}
}

func TestInvoicePeriod_UsesInvoicePeriod(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	gotStart, gotEnd := invoicePeriod(&stripe.Invoice{PeriodStart: start.Unix(), PeriodEnd: end.Unix()})
	if !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Fatalf("unexpected period %v - %v", gotStart, gotEnd)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: ErrMissingMetadata, want: "missing_metadata"},
		{err: ErrAccountNotFound, want: "account_not_found"},
		{err: downstream("load account", errors.New("boom")), want: "downstream"},
		{err: ErrPaymentOwnerMismatch, want: "owner_mismatch"},
		{err: ErrLockNotAcquired, want: "lock_timeout"},
		{err: ErrInvalidPayload, want: "invalid_payload"},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Fatalf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
