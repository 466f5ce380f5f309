package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// SubscriptionResolver fetches a subscription from the payment provider. Invoice
// events only reference their subscription by id, so the account metadata has
// to be looked up.
type SubscriptionResolver interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// StripeSubscriptionResolver resolves subscriptions through an explicitly
// constructed Stripe API client.
type StripeSubscriptionResolver struct {
	api *client.API
}

// NewStripeSubscriptionResolver builds a resolver with its own API client. It
// is meant to be constructed once at startup and shared.
func NewStripeSubscriptionResolver(secretKey string) (*StripeSubscriptionResolver, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	return &StripeSubscriptionResolver{api: client.New(key, nil)}, nil
}

func (r *StripeSubscriptionResolver) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return r.api.Subscriptions.Get(id, params)
}
