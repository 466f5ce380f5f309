package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does not
	// match the payload. Nothing has been persisted when it is returned.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	// ErrInvalidPayload is returned for a verified body that is not a Stripe event,
	// or whose data object does not decode into the expected type.
	ErrInvalidPayload = errors.New("billing: invalid webhook payload")
	// ErrMissingMetadata means the event carries no account-identifying metadata.
	ErrMissingMetadata = errors.New("billing: missing account metadata")
	// ErrDownstreamFailure wraps storage and Stripe API failures.
	ErrDownstreamFailure = errors.New("billing: downstream failure")
	// ErrAccountNotFound means the metadata names an account that does not exist.
	ErrAccountNotFound = errors.New("billing: account not found")
	// ErrPaymentOwnerMismatch means a provider payment id is already recorded
	// against another account.
	ErrPaymentOwnerMismatch = errors.New("billing: payment belongs to another account")
	// ErrLockNotAcquired means the per-account lock could not be taken in time.
	ErrLockNotAcquired = errors.New("billing: account lock not acquired")
)

func downstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDownstreamFailure, op, err)
}

// failureReason maps a handler error to a low-cardinality metrics label.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrMissingMetadata):
		return "missing_metadata"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrPaymentOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, ErrLockNotAcquired):
		return "lock_timeout"
	default:
		return "downstream"
	}
}
