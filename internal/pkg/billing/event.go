package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
)

// ParseEvent decodes a verified webhook body. The data object stays raw until
// a handler decodes it into the type it expects.
func ParseEvent(payload []byte) (*stripe.Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(string(evt.Type)) == "" {
		return nil, fmt.Errorf("%w: event id and type are required", ErrInvalidPayload)
	}
	return &evt, nil
}

func decodeObject(evt *stripe.Event, out interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s has no data object", ErrInvalidPayload, evt.Type)
	}
	if err := json.Unmarshal(evt.Data.Raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, evt.Type, err)
	}
	return nil
}

func metadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func currencyCode(c stripe.Currency) string {
	return strings.ToLower(strings.TrimSpace(string(c)))
}

// invoicePeriod returns the invoice's billing period. The first invoice of a
// subscription has a zero-length invoice period; the service period is then
// taken from its line items.
func invoicePeriod(inv *stripe.Invoice) (*time.Time, *time.Time) {
	start, end := inv.PeriodStart, inv.PeriodEnd
	if end <= start && inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			if line.Period.End > end {
				start, end = line.Period.Start, line.Period.End
			}
		}
	}
	return unixTime(start), unixTime(end)
}
