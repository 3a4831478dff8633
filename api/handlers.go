/*
handlers.go - HTTP handlers for the value-ledger platform

PURPOSE:
  Exposes the follow graph, loyalty engine, gift-card engine, ledger and
  payment gateway via REST. Handles HTTP request/response and JSON
  serialization, and delegates everything else to the engines.

ENDPOINTS:
  Auth:
    GET    /api/auth/user                        Authenticated user echo

  Businesses:
    POST   /api/businesses                        Create business
    GET    /api/businesses/{id}                   Get business
    GET    /api/businesses/{id}/transactions      Ledger entries (owner only)

  Follow graph:
    POST   /api/businesses/{id}/follow            Follow
    DELETE /api/businesses/{id}/follow            Unfollow (idempotent)
    GET    /api/businesses/{id}/is-following      Check
    GET    /api/user/follows                      User's follows

  Loyalty:
    POST   /api/businesses/{id}/join-loyalty      Join (idempotent)
    POST   /api/businesses/{id}/loyalty-program   Configure (owner only)
    GET    /api/businesses/{id}/loyalty-program   Read program
    GET    /api/user/loyalty-accounts             User's accounts

  Gift cards:
    POST   /api/businesses/{id}/gift-cards        Purchase
    POST   /api/gift-cards/redeem                 Redeem by code
    GET    /api/user/gift-cards                   User's cards

  Payments:
    POST   /api/create-payment-intent             Provider payment intent
    POST   /api/get-or-create-subscription        Idempotent subscription
    POST   /api/payments/webhook                  Provider events (no auth)

  Ledger:
    GET    /api/user/transactions                 User's entries

  Admin:
    POST   /api/admin/recount-followers           Offline counter repair

ERROR HANDLING:
  Domain errors map to HTTP statuses here and nowhere else:
  validation 400, not found 404, conflict 409, insufficient balance 400,
  invalid state 400, unauthorized 401, provider failure 502. Every error
  body carries a stable "kind" for machine dispatch.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/follow"
	"github.com/localspot/localspot/giftcard"
	"github.com/localspot/localspot/identity"
	"github.com/localspot/localspot/ledger"
	"github.com/localspot/localspot/loyalty"
	"github.com/localspot/localspot/payments"
)

// maxWebhookBody bounds the provider payload read.
const maxWebhookBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     domain.TxStore
	Follow    *follow.Graph
	Loyalty   *loyalty.Engine
	GiftCards *giftcard.Engine
	Ledger    *ledger.Ledger
	Gateway   *payments.Gateway

	Verifier      identity.Verifier
	WebhookSecret string
	Logger        *zap.Logger
}

// NewHandler wires the engines over one shared store.
func NewHandler(store domain.TxStore, gateway *payments.Gateway, verifier identity.Verifier, webhookSecret string, logger *zap.Logger) *Handler {
	return &Handler{
		Store:         store,
		Follow:        follow.New(store),
		Loyalty:       loyalty.New(store),
		GiftCards:     giftcard.New(store),
		Ledger:        ledger.New(store),
		Gateway:       gateway,
		Verifier:      verifier,
		WebhookSecret: webhookSecret,
		Logger:        logger,
	}
}

// =============================================================================
// AUTH
// =============================================================================

// GetUser echoes the authenticated user's account.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	account, err := h.Store.GetAccount(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if account == nil {
		h.fail(w, r, &domain.NotFoundError{Kind: "account", Key: string(userID)})
		return
	}

	writeJSON(w, http.StatusOK, UserDTO{
		ID:        string(account.ID),
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	})
}

// =============================================================================
// BUSINESSES
// =============================================================================

// CreateBusiness registers a business owned by the caller.
func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	var req CreateBusinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		h.fail(w, r, &domain.ValidationError{Field: "name", Message: "required"})
		return
	}

	planType := domain.PlanType(req.PlanType)
	if planType == "" {
		planType = domain.PlanBasic
	}

	b := &domain.Business{
		OwnerID:  userID,
		Name:     req.Name,
		Category: req.Category,
		PlanType: planType,
		IsActive: true,
	}
	if err := h.Store.InsertBusiness(r.Context(), b); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBusinessDTO(b))
}

// GetBusiness returns a single business.
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Store.GetBusiness(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if b == nil {
		h.fail(w, r, &domain.NotFoundError{Kind: "business", Key: strconv.FormatInt(int64(id), 10)})
		return
	}

	writeJSON(w, http.StatusOK, toBusinessDTO(b))
}

// GetBusinessTransactions returns a business's ledger entries to its owner.
func (h *Handler) GetBusinessTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Store.GetBusiness(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if b == nil {
		h.fail(w, r, &domain.NotFoundError{Kind: "business", Key: strconv.FormatInt(int64(id), 10)})
		return
	}
	if b.OwnerID != userID {
		h.fail(w, r, domain.ErrUnauthorized)
		return
	}

	entries, err := h.Ledger.ListByBusiness(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

// =============================================================================
// FOLLOW GRAPH
// =============================================================================

// FollowBusiness creates the follow edge and bumps the counter.
func (h *Handler) FollowBusiness(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	edge, err := h.Follow.Follow(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFollowEdgeDTO(edge))
}

// UnfollowBusiness removes the edge. Unfollowing a business never
// followed is a 200 no-op.
func (h *Handler) UnfollowBusiness(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.Follow.Unfollow(r.Context(), userID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// IsFollowing reports whether the caller follows the business.
func (h *Handler) IsFollowing(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	following, err := h.Follow.IsFollowing(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IsFollowingDTO{IsFollowing: following})
}

// ListFollows returns the caller's follow edges.
func (h *Handler) ListFollows(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	edges, err := h.Follow.ListForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]FollowEdgeDTO, len(edges))
	for i, e := range edges {
		dtos[i] = toFollowEdgeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOYALTY
// =============================================================================

// JoinLoyalty enrolls the caller. Joining twice returns the existing
// account unchanged.
func (h *Handler) JoinLoyalty(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	account, err := h.Loyalty.Join(r.Context(), userID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoyaltyAccountDTO(account))
}

// ListLoyaltyAccounts returns the caller's loyalty accounts.
func (h *Handler) ListLoyaltyAccounts(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	accounts, err := h.Loyalty.ListForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]LoyaltyAccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toLoyaltyAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertLoyaltyProgram configures a business's program. Owner only.
func (h *Handler) UpsertLoyaltyProgram(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Store.GetBusiness(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if b == nil {
		h.fail(w, r, &domain.NotFoundError{Kind: "business", Key: strconv.FormatInt(int64(id), 10)})
		return
	}
	if b.OwnerID != userID {
		h.fail(w, r, domain.ErrUnauthorized)
		return
	}

	var req CreateLoyaltyProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	perDollar := domain.MustParseAmount(req.PointsPerDollar)
	if !perDollar.IsPositive() {
		h.fail(w, r, &domain.ValidationError{Field: "pointsPerDollar", Message: "must be a positive decimal"})
		return
	}
	if req.RewardThreshold <= 0 {
		h.fail(w, r, &domain.ValidationError{Field: "rewardThreshold", Message: "must be positive"})
		return
	}

	program := &domain.LoyaltyProgram{
		BusinessID:        id,
		Name:              req.Name,
		PointsPerDollar:   perDollar,
		RewardThreshold:   req.RewardThreshold,
		RewardDescription: req.RewardDescription,
		IsActive:          true,
	}
	if err := h.Store.UpsertLoyaltyProgram(r.Context(), program); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoyaltyProgramDTO(program))
}

// GetLoyaltyProgram returns a business's program.
func (h *Handler) GetLoyaltyProgram(w http.ResponseWriter, r *http.Request) {
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	program, err := h.Store.GetLoyaltyProgram(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if program == nil {
		h.fail(w, r, &domain.NotFoundError{Kind: "loyalty program", Key: strconv.FormatInt(int64(id), 10)})
		return
	}
	writeJSON(w, http.StatusOK, toLoyaltyProgramDTO(program))
}

// =============================================================================
// GIFT CARDS
// =============================================================================

// PurchaseGiftCard issues a card after the payment is confirmed.
func (h *Handler) PurchaseGiftCard(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())
	id, err := businessID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req PurchaseGiftCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params := giftcard.IssueParams{
		BusinessID:     id,
		PurchaserID:    userID,
		Amount:         domain.NewAmount(req.Amount),
		RecipientEmail: req.RecipientEmail,
		Message:        req.Message,
		ProviderRef:    req.PaymentIntentID,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			h.fail(w, r, &domain.ValidationError{Field: "expiresAt", Message: "must be RFC3339"})
			return
		}
		params.ExpiresAt = &expires
	}

	card, err := h.GiftCards.Issue(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGiftCardDTO(card, time.Now().UTC()))
}

// RedeemGiftCard debits a card by code.
func (h *Handler) RedeemGiftCard(w http.ResponseWriter, r *http.Request) {
	var req RedeemGiftCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" {
		h.fail(w, r, &domain.ValidationError{Field: "code", Message: "required"})
		return
	}

	card, err := h.GiftCards.Redeem(r.Context(), req.Code, domain.NewAmount(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGiftCardDTO(card, time.Now().UTC()))
}

// ListGiftCards returns the caller's purchased cards, newest first.
func (h *Handler) ListGiftCards(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	cards, err := h.GiftCards.GetForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := time.Now().UTC()
	dtos := make([]GiftCardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toGiftCardDTO(c, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// CreatePaymentIntent asks the provider for a payment intent.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	clientSecret, err := h.Gateway.CreatePaymentIntent(r.Context(), domain.NewAmount(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIntentDTO{ClientSecret: clientSecret})
}

// GetOrCreateSubscription returns the caller's subscription, creating it
// at the provider on first call.
func (h *Handler) GetOrCreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Gateway.GetOrCreateSubscription(r.Context(), userID, req.PlanType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SubscriptionDTO{
		SubscriptionID: result.SubscriptionID,
		ClientSecret:   result.ClientSecret,
	})
}

// HandleWebhook ingests provider events. Unauthenticated: the signature
// is the auth. Always 200 once the signature checks out, so the provider
// does not retry events we deliberately ignore.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read payload", nil)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := payments.VerifySignature(payload, sig, h.WebhookSecret, time.Now().UTC()); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signature", nil)
		return
	}

	event, err := payments.ParseEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Malformed event", nil)
		return
	}

	if err := h.Gateway.Reconcile(r.Context(), event); err != nil {
		h.Logger.Error("webhook reconcile failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Reconcile failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// =============================================================================
// LEDGER
// =============================================================================

// ListTransactions returns the caller's ledger entries, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.UserFromContext(r.Context())

	entries, err := h.Ledger.ListByUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryDTOs(entries))
}

// =============================================================================
// ADMIN
// =============================================================================

// RecountFollowers runs the offline counter repair pass and reports what
// drifted.
func (h *Handler) RecountFollowers(w http.ResponseWriter, r *http.Request) {
	results, err := h.Follow.Recount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(results) > 0 {
		h.Logger.Warn("follower counters drifted", zap.Int("repaired", len(results)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": results})
}

// =============================================================================
// HELPERS
// =============================================================================

func businessID(r *http.Request) (domain.BusinessID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return domain.BusinessID(id), nil
}

func entryDTOs(entries []domain.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// fail maps a domain error onto the wire.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= 500 {
		h.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway, "provider"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
