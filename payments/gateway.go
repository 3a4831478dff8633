/*
gateway.go - Payment reconciliation gateway

PURPOSE:
  The three operations that bridge local state and the provider:

    CreatePaymentIntent      delegate a one-off charge, no local write
    GetOrCreateSubscription  idempotent by account identity
    Reconcile                consume confirmation events, idempotent by
                             provider event id

STATE MACHINE (SubscriptionRecord.Status):
  pending -> active            provider payment succeeded
  active  -> past_due          provider reported a failed renewal
  past_due -> active           renewal recovered
  active | past_due -> canceled  subscription deleted (terminal)

ORDERING DISCIPLINE:
  Provider calls never run inside a store transaction; the store write
  lands only after the provider side exists. A provider call that times
  out therefore leaves no local record and no ledger entry.
*/
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/localspot/localspot/domain"
)

// Gateway maps provider objects to local subscription state.
type Gateway struct {
	store    domain.TxStore
	provider Provider

	// priceIDs maps plan type -> provider price reference.
	priceIDs map[string]string
}

func NewGateway(store domain.TxStore, provider Provider, priceIDs map[string]string) *Gateway {
	return &Gateway{store: store, provider: provider, priceIDs: priceIDs}
}

// CreatePaymentIntent delegates to the provider and returns the client
// secret the frontend confirms against. No ledger entry is written here:
// the entry is created only once the confirmed payment is observed and
// the purchase is finalized by its engine.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	cents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	intent, err := g.provider.CreatePaymentIntent(ctx, cents, "usd")
	if err != nil {
		return "", err
	}
	return intent.ClientSecret, nil
}

// SubscriptionResult is what the frontend needs to finish checkout.
type SubscriptionResult struct {
	SubscriptionID string
	ClientSecret   string
}

// GetOrCreateSubscription returns the account's existing provider
// subscription, or creates customer + subscription at the provider and
// persists the pending local record. Idempotent by design: an account
// with a provider subscription id always gets that same subscription
// back, never a duplicate.
func (g *Gateway) GetOrCreateSubscription(ctx context.Context, accountID domain.UserID, planType string) (SubscriptionResult, error) {
	account, err := g.store.GetAccount(ctx, accountID)
	if err != nil {
		return SubscriptionResult{}, err
	}
	if account == nil {
		return SubscriptionResult{}, &domain.NotFoundError{Kind: "account", Key: string(accountID)}
	}

	if account.ProviderSubscriptionID != "" {
		return g.retrieveExisting(ctx, account.ProviderSubscriptionID)
	}

	priceID, ok := g.priceIDs[planType]
	if !ok || priceID == "" {
		return SubscriptionResult{}, &domain.ValidationError{Field: "planType",
			Message: fmt.Sprintf("unknown plan type %q", planType)}
	}
	if account.Email == "" {
		return SubscriptionResult{}, &domain.ValidationError{Field: "email", Message: "no email on file"}
	}

	customer, err := g.provider.CreateCustomer(ctx, account.Email, account.DisplayName())
	if err != nil {
		return SubscriptionResult{}, err
	}
	sub, err := g.provider.CreateSubscription(ctx, customer.ID, priceID)
	if err != nil {
		return SubscriptionResult{}, err
	}

	record := domain.SubscriptionRecord{
		ID:                     uuid.NewString(),
		AccountID:              accountID,
		PlanType:               planType,
		ProviderCustomerID:     customer.ID,
		ProviderSubscriptionID: sub.ID,
		Status:                 domain.SubscriptionPending,
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
	}

	// Check-then-create inside the transaction: if a concurrent request
	// won the race, keep its record and let ours become the orphan at
	// the provider rather than a duplicate locally.
	var lostRace string
	err = g.store.WithTx(ctx, func(tx domain.Store) error {
		fresh, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if fresh != nil && fresh.ProviderSubscriptionID != "" {
			lostRace = fresh.ProviderSubscriptionID
			return nil
		}
		if err := tx.SetAccountProviderIDs(ctx, accountID, customer.ID, sub.ID); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, &record)
	})
	if err != nil {
		return SubscriptionResult{}, err
	}
	if lostRace != "" {
		return g.retrieveExisting(ctx, lostRace)
	}

	return SubscriptionResult{SubscriptionID: sub.ID, ClientSecret: sub.ClientSecret}, nil
}

func (g *Gateway) retrieveExisting(ctx context.Context, providerSubID string) (SubscriptionResult, error) {
	sub, err := g.provider.RetrieveSubscription(ctx, providerSubID)
	if err != nil {
		return SubscriptionResult{}, err
	}
	return SubscriptionResult{SubscriptionID: sub.ID, ClientSecret: sub.ClientSecret}, nil
}

// Event is a normalized provider confirmation event.
type Event struct {
	ID             string // provider event id, the dedupe key
	Type           string
	SubscriptionID string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// Provider event types the gateway reacts to. Everything else is a no-op.
const (
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Reconcile applies one provider event to the matching subscription
// record. Duplicate events, unknown subscriptions and transitions the
// state machine forbids are all no-ops; the event-dedupe insert and the
// status update commit in the same transaction.
func (g *Gateway) Reconcile(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return &domain.ValidationError{Field: "id", Message: "event id required"}
	}

	var target domain.SubscriptionStatus
	switch ev.Type {
	case EventPaymentSucceeded:
		target = domain.SubscriptionActive
	case EventPaymentFailed:
		target = domain.SubscriptionPastDue
	case EventSubscriptionDeleted:
		target = domain.SubscriptionCanceled
	default:
		return nil
	}

	return g.store.WithTx(ctx, func(tx domain.Store) error {
		fresh, err := tx.InsertProviderEvent(ctx, domain.ProviderEvent{ID: ev.ID, Type: ev.Type})
		if err != nil {
			return err
		}
		if !fresh {
			return nil // already seen
		}

		record, err := tx.SubscriptionByProviderID(ctx, ev.SubscriptionID)
		if err != nil {
			return err
		}
		if record == nil {
			return nil // not ours
		}
		if !record.Status.CanTransition(target) {
			return nil
		}
		return tx.UpdateSubscriptionStatus(ctx, record.ID, target, ev.PeriodStart, ev.PeriodEnd)
	})
}
