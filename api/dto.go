/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes at the request boundary. Domain types never serialize
  directly: amounts render as fixed two-decimal strings, timestamps as
  RFC3339, and gift-card status is the effective status (an active card
  past expiry reads as expired).

SEE ALSO:
  - handlers.go: where these are populated
*/
package api

import (
	"time"

	"github.com/localspot/localspot/domain"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateBusinessRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	PlanType string `json:"planType"`
}

type CreateLoyaltyProgramRequest struct {
	Name              string `json:"name"`
	PointsPerDollar   string `json:"pointsPerDollar"`
	RewardThreshold   int64  `json:"rewardThreshold"`
	RewardDescription string `json:"rewardDescription"`
}

type PurchaseGiftCardRequest struct {
	Amount          float64 `json:"amount"`
	RecipientEmail  string  `json:"recipientEmail"`
	Message         string  `json:"message"`
	ExpiresAt       string  `json:"expiresAt"` // RFC3339, optional
	PaymentIntentID string  `json:"paymentIntentId"`
}

type RedeemGiftCardRequest struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

type CreatePaymentIntentRequest struct {
	Amount float64 `json:"amount"`
}

type SubscriptionRequest struct {
	PlanType string `json:"planType"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is the stable machine-distinguishable error category.
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

type UserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type BusinessDTO struct {
	ID            int64  `json:"id"`
	OwnerID       string `json:"ownerId"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	PlanType      string `json:"planType"`
	FollowerCount int64  `json:"followerCount"`
	IsActive      bool   `json:"isActive"`
	CreatedAt     string `json:"createdAt"`
}

type FollowEdgeDTO struct {
	ID         int64  `json:"id"`
	UserID     string `json:"userId"`
	BusinessID int64  `json:"businessId"`
	CreatedAt  string `json:"createdAt"`
}

type IsFollowingDTO struct {
	IsFollowing bool `json:"isFollowing"`
}

type LoyaltyProgramDTO struct {
	ID                int64  `json:"id"`
	BusinessID        int64  `json:"businessId"`
	Name              string `json:"name"`
	PointsPerDollar   string `json:"pointsPerDollar"`
	RewardThreshold   int64  `json:"rewardThreshold"`
	RewardDescription string `json:"rewardDescription"`
	IsActive          bool   `json:"isActive"`
}

type LoyaltyAccountDTO struct {
	ID                int64  `json:"id"`
	UserID            string `json:"userId"`
	BusinessID        int64  `json:"businessId"`
	Points            int64  `json:"points"`
	TotalPointsEarned int64  `json:"totalPointsEarned"`
	CreatedAt         string `json:"createdAt"`
}

type GiftCardDTO struct {
	ID             string `json:"id"`
	BusinessID     int64  `json:"businessId"`
	PurchasedBy    string `json:"purchasedBy"`
	RecipientEmail string `json:"recipientEmail,omitempty"`
	Message        string `json:"message,omitempty"`
	Amount         string `json:"amount"`
	Balance        string `json:"balance"`
	Code           string `json:"code"`
	Status         string `json:"status"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BusinessID  int64  `json:"businessId,omitempty"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	GiftCardID  string `json:"giftCardId,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type PaymentIntentDTO struct {
	ClientSecret string `json:"clientSecret"`
}

type SubscriptionDTO struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBusinessDTO(b *domain.Business) BusinessDTO {
	return BusinessDTO{
		ID:            int64(b.ID),
		OwnerID:       string(b.OwnerID),
		Name:          b.Name,
		Category:      b.Category,
		PlanType:      string(b.PlanType),
		FollowerCount: b.FollowerCount,
		IsActive:      b.IsActive,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
}

func toFollowEdgeDTO(e domain.FollowEdge) FollowEdgeDTO {
	return FollowEdgeDTO{
		ID:         e.ID,
		UserID:     string(e.UserID),
		BusinessID: int64(e.BusinessID),
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func toLoyaltyProgramDTO(p *domain.LoyaltyProgram) LoyaltyProgramDTO {
	return LoyaltyProgramDTO{
		ID:                p.ID,
		BusinessID:        int64(p.BusinessID),
		Name:              p.Name,
		PointsPerDollar:   p.PointsPerDollar.String(),
		RewardThreshold:   p.RewardThreshold,
		RewardDescription: p.RewardDescription,
		IsActive:          p.IsActive,
	}
}

func toLoyaltyAccountDTO(a domain.LoyaltyAccount) LoyaltyAccountDTO {
	return LoyaltyAccountDTO{
		ID:                a.ID,
		UserID:            string(a.UserID),
		BusinessID:        int64(a.BusinessID),
		Points:            a.Points,
		TotalPointsEarned: a.TotalPointsEarned,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
}

func toGiftCardDTO(c domain.GiftCard, now time.Time) GiftCardDTO {
	dto := GiftCardDTO{
		ID:             c.ID,
		BusinessID:     int64(c.BusinessID),
		PurchasedBy:    string(c.PurchasedBy),
		RecipientEmail: c.RecipientEmail,
		Message:        c.Message,
		Amount:         c.Amount.StringFixed(2),
		Balance:        c.Balance.StringFixed(2),
		Code:           c.Code,
		Status:         string(c.EffectiveStatus(now)),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		dto.ExpiresAt = c.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

func toEntryDTO(e domain.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		UserID:      string(e.UserID),
		BusinessID:  int64(e.BusinessID),
		Type:        string(e.Type),
		Amount:      e.Amount.StringFixed(2),
		Description: e.Description,
		GiftCardID:  e.GiftCardID,
		ProviderRef: e.ProviderRef,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}
