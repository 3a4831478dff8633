package payments_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/payments"
	"github.com/localspot/localspot/store/sqlite"
)

// =============================================================================
// FAKE PROVIDER
// =============================================================================

// fakeProvider records calls and hands back deterministic objects.
type fakeProvider struct {
	customers     int
	subscriptions int
	retrievals    int
	intents       int

	failIntent error
}

func (p *fakeProvider) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (payments.PaymentIntent, error) {
	p.intents++
	if p.failIntent != nil {
		return payments.PaymentIntent{}, p.failIntent
	}
	return payments.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", p.intents),
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.intents),
	}, nil
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, email, name string) (payments.Customer, error) {
	p.customers++
	return payments.Customer{ID: fmt.Sprintf("cus_%d", p.customers)}, nil
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (payments.Subscription, error) {
	p.subscriptions++
	return payments.Subscription{
		ID:           fmt.Sprintf("sub_%d", p.subscriptions),
		Status:       "incomplete",
		ClientSecret: fmt.Sprintf("sub_%d_secret", p.subscriptions),
	}, nil
}

func (p *fakeProvider) RetrieveSubscription(ctx context.Context, id string) (payments.Subscription, error) {
	p.retrievals++
	return payments.Subscription{ID: id, Status: "active", ClientSecret: id + "_secret"}, nil
}

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestGateway(t *testing.T) (*payments.Gateway, *fakeProvider, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{}
	gateway := payments.NewGateway(store, provider, map[string]string{
		"premium":   "price_premium",
		"giftcards": "price_giftcards",
		"loyalty":   "price_loyalty",
	})
	return gateway, provider, store
}

func seedAccount(t *testing.T, store *sqlite.Store, id, email string) {
	require.NoError(t, store.UpsertAccount(context.Background(), domain.Account{
		ID:        domain.UserID(id),
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
	}))
}

// =============================================================================
// PAYMENT INTENTS
// =============================================================================

func TestCreatePaymentIntent_ReturnsClientSecret(t *testing.T) {
	gateway, provider, _ := newTestGateway(t)

	secret, err := gateway.CreatePaymentIntent(context.Background(), domain.NewAmount(25))
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret", secret)
	assert.Equal(t, 1, provider.intents)
}

func TestCreatePaymentIntent_NonPositiveAmount_Validation(t *testing.T) {
	gateway, provider, _ := newTestGateway(t)

	_, err := gateway.CreatePaymentIntent(context.Background(), domain.NewAmount(0))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, provider.intents, "provider must not be called on invalid input")
}

func TestCreatePaymentIntent_ProviderFailure_Propagates(t *testing.T) {
	gateway, provider, _ := newTestGateway(t)
	provider.failIntent = &domain.ProviderError{Op: "create payment intent", Message: "card declined"}

	_, err := gateway.CreatePaymentIntent(context.Background(), domain.NewAmount(25))
	assert.ErrorIs(t, err, domain.ErrProvider)
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func TestGetOrCreateSubscription_FirstCall_CreatesPendingRecord(t *testing.T) {
	// GIVEN: An account with no subscription
	// WHEN: Subscribing to the premium plan
	// THEN: Customer + subscription created at the provider, a pending
	//       local record exists, and the provider ids are on the account

	gateway, provider, store := newTestGateway(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", "ada@example.com")

	result, err := gateway.GetOrCreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", result.SubscriptionID)
	assert.Equal(t, "sub_1_secret", result.ClientSecret)
	assert.Equal(t, 1, provider.customers)
	assert.Equal(t, 1, provider.subscriptions)

	record, err := store.SubscriptionByProviderID(ctx, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.SubscriptionPending, record.Status)
	assert.Equal(t, domain.UserID("user-1"), record.AccountID)

	account, err := store.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", account.ProviderCustomerID)
	assert.Equal(t, "sub_1", account.ProviderSubscriptionID)
}

func TestGetOrCreateSubscription_SecondCall_ReturnsExisting(t *testing.T) {
	// GIVEN: An account that already subscribed
	// WHEN: Calling again
	// THEN: The stored subscription is retrieved; nothing new is created

	gateway, provider, store := newTestGateway(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", "ada@example.com")

	first, err := gateway.GetOrCreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)

	second, err := gateway.GetOrCreateSubscription(ctx, "user-1", "premium")
	require.NoError(t, err)
	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
	assert.Equal(t, 1, provider.customers, "no second customer")
	assert.Equal(t, 1, provider.subscriptions, "no second subscription")
	assert.Equal(t, 1, provider.retrievals)
}

func TestGetOrCreateSubscription_UnknownPlan_Validation(t *testing.T) {
	gateway, _, store := newTestGateway(t)
	seedAccount(t, store, "user-1", "ada@example.com")

	_, err := gateway.GetOrCreateSubscription(context.Background(), "user-1", "platinum")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetOrCreateSubscription_NoEmail_Validation(t *testing.T) {
	gateway, provider, store := newTestGateway(t)
	seedAccount(t, store, "user-1", "")

	_, err := gateway.GetOrCreateSubscription(context.Background(), "user-1", "premium")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, provider.customers)
}

func TestGetOrCreateSubscription_UnknownAccount_NotFound(t *testing.T) {
	gateway, _, _ := newTestGateway(t)

	_, err := gateway.GetOrCreateSubscription(context.Background(), "ghost", "premium")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func subscribed(t *testing.T, gateway *payments.Gateway, store *sqlite.Store) string {
	seedAccount(t, store, "user-1", "ada@example.com")
	result, err := gateway.GetOrCreateSubscription(context.Background(), "user-1", "premium")
	require.NoError(t, err)
	return result.SubscriptionID
}

func status(t *testing.T, store *sqlite.Store, providerSubID string) domain.SubscriptionStatus {
	record, err := store.SubscriptionByProviderID(context.Background(), providerSubID)
	require.NoError(t, err)
	require.NotNil(t, record)
	return record.Status
}

func TestReconcile_PaymentSucceeded_ActivatesPending(t *testing.T) {
	gateway, _, store := newTestGateway(t)
	ctx := context.Background()
	subID := subscribed(t, gateway, store)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.Add(30 * 24 * time.Hour)
	err := gateway.Reconcile(ctx, payments.Event{
		ID:             "evt_1",
		Type:           payments.EventPaymentSucceeded,
		SubscriptionID: subID,
		PeriodStart:    &start,
		PeriodEnd:      &end,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, status(t, store, subID))

	record, err := store.SubscriptionByProviderID(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, record.CurrentPeriodEnd)
	assert.Equal(t, end, record.CurrentPeriodEnd.UTC())
}

func TestReconcile_DuplicateEvent_NoOp(t *testing.T) {
	// GIVEN: An activation event already processed
	// WHEN: The same event id arrives again carrying a failure
	// THEN: The duplicate is dropped; status stays active

	gateway, _, store := newTestGateway(t)
	ctx := context.Background()
	subID := subscribed(t, gateway, store)

	require.NoError(t, gateway.Reconcile(ctx, payments.Event{
		ID: "evt_1", Type: payments.EventPaymentSucceeded, SubscriptionID: subID,
	}))
	require.NoError(t, gateway.Reconcile(ctx, payments.Event{
		ID: "evt_1", Type: payments.EventPaymentFailed, SubscriptionID: subID,
	}))

	assert.Equal(t, domain.SubscriptionActive, status(t, store, subID))
}

func TestReconcile_FullLifecycle(t *testing.T) {
	// pending -> active -> past_due -> active -> canceled, then frozen

	gateway, _, store := newTestGateway(t)
	ctx := context.Background()
	subID := subscribed(t, gateway, store)

	steps := []struct {
		eventType string
		want      domain.SubscriptionStatus
	}{
		{payments.EventPaymentSucceeded, domain.SubscriptionActive},
		{payments.EventPaymentFailed, domain.SubscriptionPastDue},
		{payments.EventPaymentSucceeded, domain.SubscriptionActive},
		{payments.EventSubscriptionDeleted, domain.SubscriptionCanceled},
		// Canceled is terminal: a late success event must not revive it.
		{payments.EventPaymentSucceeded, domain.SubscriptionCanceled},
	}
	for i, step := range steps {
		err := gateway.Reconcile(ctx, payments.Event{
			ID:             fmt.Sprintf("evt_%d", i+10),
			Type:           step.eventType,
			SubscriptionID: subID,
		})
		require.NoError(t, err)
		assert.Equal(t, step.want, status(t, store, subID), "after %s", step.eventType)
	}
}

func TestReconcile_UnknownSubscription_NoOp(t *testing.T) {
	gateway, _, _ := newTestGateway(t)

	err := gateway.Reconcile(context.Background(), payments.Event{
		ID: "evt_1", Type: payments.EventPaymentSucceeded, SubscriptionID: "sub_ghost",
	})
	assert.NoError(t, err)
}

func TestReconcile_UnknownEventType_NoOp(t *testing.T) {
	gateway, _, store := newTestGateway(t)
	subID := subscribed(t, gateway, store)

	err := gateway.Reconcile(context.Background(), payments.Event{
		ID: "evt_1", Type: "invoice.finalized", SubscriptionID: subID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPending, status(t, store, subID))
}
