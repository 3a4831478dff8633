/*
Package payments reconciles locally-issued payment and subscription
intents with the external payment provider's asynchronous confirmation
lifecycle.

PURPOSE:
  The provider owns the money movement; this package owns the mapping
  between provider objects and local state. Nothing is ledgered before
  the provider confirms it, and every provider-originated event is
  processed at most once.

PROVIDER CONTRACT:
  All calls are fallible, at-most-once side-effecting operations. The
  gateway never assumes a retry is safe without an idempotency check:
  subscription creation is keyed by account identity, event consumption
  by provider event id.

SEE ALSO:
  - gateway.go: the reconciliation gateway
  - stripe.go: the Stripe implementation of Provider
  - webhook.go: signature verification and event normalization
*/
package payments

import (
	"context"
	"time"
)

// PaymentIntent is the provider's handle for one client-confirmed charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// Customer is the provider-side customer record.
type Customer struct {
	ID string
}

// Subscription is the provider-side subscription state.
type Subscription struct {
	ID                 string
	Status             string
	ClientSecret       string // from the latest invoice's payment intent
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// Provider is the external payment collaborator. Implementations must
// treat every call as at-most-once side-effecting and must surface
// failures as *domain.ProviderError with sanitized messages.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (PaymentIntent, error)
	CreateCustomer(ctx context.Context, email, name string) (Customer, error)
	CreateSubscription(ctx context.Context, customerID, priceID string) (Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (Subscription, error)
}
