package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localspot/localspot/api"
	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/identity"
	"github.com/localspot/localspot/payments"
	"github.com/localspot/localspot/store/sqlite"
)

const webhookSecret = "whsec_test"

// =============================================================================
// TEST SETUP
// =============================================================================

// stubProvider satisfies payments.Provider with canned objects.
type stubProvider struct{}

func (stubProvider) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (payments.PaymentIntent, error) {
	return payments.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil
}
func (stubProvider) CreateCustomer(ctx context.Context, email, name string) (payments.Customer, error) {
	return payments.Customer{ID: "cus_1"}, nil
}
func (stubProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (payments.Subscription, error) {
	return payments.Subscription{ID: "sub_1", Status: "incomplete", ClientSecret: "sub_1_secret"}, nil
}
func (stubProvider) RetrieveSubscription(ctx context.Context, id string) (payments.Subscription, error) {
	return payments.Subscription{ID: id, Status: "active", ClientSecret: id + "_secret"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gateway := payments.NewGateway(store, stubProvider{}, map[string]string{"premium": "price_premium"})
	verifier := identity.StaticVerifier{
		"tok-user":  "user-1",
		"tok-owner": "owner-1",
	}

	handler := api.NewHandler(store, gateway, verifier, webhookSecret, zap.NewNop())
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server, store
}

func doJSON(t *testing.T, server *httptest.Server, method, path, token string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createBusiness(t *testing.T, server *httptest.Server) int64 {
	resp := doJSON(t, server, http.MethodPost, "/api/businesses", "tok-owner",
		map[string]string{"name": "Corner Cafe"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.BusinessDTO](t, resp).ID
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_MissingOrBadToken_401(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodGet, "/api/user/follows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, server, http.MethodGet, "/api/user/follows", "tok-bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthUser_EchoesAccount(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.UpsertAccount(context.Background(), domain.Account{
		ID: "user-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace",
	}))

	resp := doJSON(t, server, http.MethodGet, "/api/auth/user", "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decode[api.UserDTO](t, resp)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
}

// =============================================================================
// FOLLOW FLOW
// =============================================================================

func TestFollowFlow_OverHTTP(t *testing.T) {
	// GIVEN: A business
	// WHEN: Follow, follow again, check, unfollow, unfollow again
	// THEN: 201, 409, true, 200, 200 — and the counter reads 0 at the end

	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)
	base := fmt.Sprintf("/api/businesses/%d", bizID)

	resp := doJSON(t, server, http.MethodPost, base+"/follow", "tok-user", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, server, http.MethodPost, base+"/follow", "tok-user", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decode[api.ErrorResponse](t, resp).Kind)

	resp = doJSON(t, server, http.MethodGet, base+"/is-following", "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[api.IsFollowingDTO](t, resp).IsFollowing)

	resp = doJSON(t, server, http.MethodDelete, base+"/follow", "tok-user", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, server, http.MethodDelete, base+"/follow", "tok-user", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "unfollow is idempotent")

	resp = doJSON(t, server, http.MethodGet, base, "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), decode[api.BusinessDTO](t, resp).FollowerCount)
}

func TestFollow_UnknownBusiness_404(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodPost, "/api/businesses/999/follow", "tok-user", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// GIFT CARD FLOW
// =============================================================================

func TestGiftCardFlow_OverHTTP(t *testing.T) {
	// GIVEN: A business
	// WHEN: Buying a $25 card and redeeming $10, $10, $10 by code
	// THEN: The third redemption fails 400 insufficient_balance

	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)

	resp := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/businesses/%d/gift-cards", bizID), "tok-user",
		map[string]any{"amount": 25, "paymentIntentId": "pi_1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	card := decode[api.GiftCardDTO](t, resp)
	assert.Equal(t, "25.00", card.Balance)
	assert.Len(t, card.Code, 12)

	for i, want := range []string{"15.00", "5.00"} {
		resp = doJSON(t, server, http.MethodPost, "/api/gift-cards/redeem", "tok-user",
			map[string]any{"code": card.Code, "amount": 10})
		require.Equal(t, http.StatusOK, resp.StatusCode, "redeem %d", i+1)
		assert.Equal(t, want, decode[api.GiftCardDTO](t, resp).Balance)
	}

	resp = doJSON(t, server, http.MethodPost, "/api/gift-cards/redeem", "tok-user",
		map[string]any{"code": card.Code, "amount": 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "insufficient_balance", decode[api.ErrorResponse](t, resp).Kind)

	// The purchase and both redemptions are on the user's ledger.
	resp = doJSON(t, server, http.MethodGet, "/api/user/transactions", "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.EntryDTO](t, resp), 3)
}

func TestGiftCard_UnknownCode_404(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodPost, "/api/gift-cards/redeem", "tok-user",
		map[string]any{"code": "NOSUCHCODE12", "amount": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// LOYALTY FLOW
// =============================================================================

func TestLoyaltyJoin_OverHTTP_Idempotent(t *testing.T) {
	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)
	path := fmt.Sprintf("/api/businesses/%d/join-loyalty", bizID)

	resp := doJSON(t, server, http.MethodPost, path, "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[api.LoyaltyAccountDTO](t, resp)

	resp = doJSON(t, server, http.MethodPost, path, "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, decode[api.LoyaltyAccountDTO](t, resp).ID)
}

func TestLoyaltyProgram_NonOwnerCreate_401(t *testing.T) {
	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)

	resp := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/businesses/%d/loyalty-program", bizID), "tok-user",
		map[string]any{"name": "Points", "pointsPerDollar": "1", "rewardThreshold": 100})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoyaltyProgram_OwnerCreateAndRead(t *testing.T) {
	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)
	path := fmt.Sprintf("/api/businesses/%d/loyalty-program", bizID)

	resp := doJSON(t, server, http.MethodPost, path, "tok-owner",
		map[string]any{"name": "Points", "pointsPerDollar": "2", "rewardThreshold": 100})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, server, http.MethodGet, path, "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	program := decode[api.LoyaltyProgramDTO](t, resp)
	assert.Equal(t, "2", program.PointsPerDollar)
	assert.Equal(t, int64(100), program.RewardThreshold)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePaymentIntent_OverHTTP(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, server, http.MethodPost, "/api/create-payment-intent", "tok-user",
		map[string]any{"amount": 25})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pi_1_secret", decode[api.PaymentIntentDTO](t, resp).ClientSecret)
}

func TestWebhook_SignedEvent_TransitionsSubscription(t *testing.T) {
	// GIVEN: A pending subscription and a properly signed success event
	// WHEN: The webhook delivers it
	// THEN: 200 and the record goes active; a replay changes nothing

	server, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAccount(ctx, domain.Account{ID: "user-1", Email: "ada@example.com"}))

	resp := doJSON(t, server, http.MethodPost, "/api/get-or-create-subscription", "tok-user",
		map[string]any{"planType": "premium"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subID := decode[api.SubscriptionDTO](t, resp).SubscriptionID

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"subscription": %q, "period_start": 1700000000, "period_end": 1702592000}}
	}`, subID))

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/payments/webhook", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Stripe-Signature", signWebhook(payload, webhookSecret))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	record, err := store.SubscriptionByProviderID(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.SubscriptionActive, record.Status)
}

func TestWebhook_BadSignature_400(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/payments/webhook",
		bytes.NewReader([]byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signWebhook(payload []byte, secret string) string {
	ts := time.Now().UTC().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// =============================================================================
// ADMIN
// =============================================================================

func TestRecountFollowers_RepairsDrift(t *testing.T) {
	server, store := newTestServer(t)
	bizID := createBusiness(t, server)

	resp := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/businesses/%d/follow", bizID), "tok-user", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, store.SetFollowerCount(context.Background(), domain.BusinessID(bizID), 99))

	resp = doJSON(t, server, http.MethodPost, "/api/admin/recount-followers", "tok-owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/businesses/%d", bizID), "tok-user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[api.BusinessDTO](t, resp).FollowerCount)
}

// =============================================================================
// OWNER SCOPING
// =============================================================================

func TestBusinessTransactions_OwnerOnly(t *testing.T) {
	server, _ := newTestServer(t)
	bizID := createBusiness(t, server)

	resp := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/businesses/%d/gift-cards", bizID), "tok-user",
		map[string]any{"amount": 10, "paymentIntentId": "pi_1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	path := fmt.Sprintf("/api/businesses/%d/transactions", bizID)

	resp = doJSON(t, server, http.MethodGet, path, "tok-user", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, server, http.MethodGet, path, "tok-owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.EntryDTO](t, resp), 1)
}
