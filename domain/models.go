/*
Package domain holds the shared model types of the value platform: the
identities, amounts and records that the ledger and the engines operate
on, plus the error taxonomy and the store contract they all share.

KEY CONCEPTS IN THIS FILE (models.go):
  - Account, Business: referenced identities (owned elsewhere)
  - FollowEdge: user-follows-business relation
  - LoyaltyProgram, LoyaltyAccount: points configuration and balances
  - GiftCard: stored-value instrument with a decrementing balance
  - Entry: one immutable ledger record
  - SubscriptionRecord: local mirror of a provider subscription

DESIGN PRINCIPLES:
  1. Amounts are decimal.Decimal, never float
  2. Derived state (followerCount, balances, points) is only ever
     mutated in the same store transaction as its source mutation
  3. Ledger entries are immutable once appended
  4. (userID, businessID) pairs are unique for follows and loyalty

SEE ALSO:
  - errors.go: the platform-wide error taxonomy
  - store.go: the persistence contract the engines share
*/
package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies an account. Accounts are owned by the identity
// collaborator; this core only ever references them.
type UserID string

// BusinessID identifies a business. Zero means "no business".
type BusinessID int64

// EntryID identifies a ledger entry. ULIDs sort by creation time, which
// gives the append-only log a natural ordering key.
type EntryID string

// NewEntryID returns a fresh ULID-based entry ID.
func NewEntryID() EntryID {
	return EntryID(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// =============================================================================
// AMOUNTS
// =============================================================================

// Amounts are decimal.Decimal in a single currency (USD). These helpers
// keep float construction away from call sites.

func NewAmount(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// MustParseAmount parses a stored amount string, returning zero on
// failure. Stored amounts are written by us, so a failure means
// corruption; zero keeps reads total.
func MustParseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToCents converts a dollar amount to integer cents. Gift-card balances
// are stored in cents so the guarded debit can compare in SQL. Sub-cent
// amounts are rejected rather than rounded: money never rounds silently.
func ToCents(d decimal.Decimal) (int64, error) {
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, &ValidationError{Field: "amount", Message: "sub-cent precision not allowed"}
	}
	return cents.IntPart(), nil
}

// FromCents converts stored integer cents back to a dollar amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// =============================================================================
// ACCOUNTS AND BUSINESSES
// =============================================================================

// Account is a user identity. The identity collaborator owns it; the only
// fields this core writes are the provider customer/subscription ids.
type Account struct {
	ID        UserID
	Email     string
	FirstName string
	LastName  string

	ProviderCustomerID     string
	ProviderSubscriptionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName is what the payment provider sees as the customer name.
func (a Account) DisplayName() string {
	if a.FirstName != "" && a.LastName != "" {
		return a.FirstName + " " + a.LastName
	}
	return a.Email
}

type PlanType string

const (
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
)

// Business is the entity users follow and buy from. FollowerCount is
// derived state: it must always equal the number of FollowEdge rows for
// the business, and is only adjusted in the same transaction as the edge
// mutation.
type Business struct {
	ID            BusinessID
	OwnerID       UserID
	Name          string
	Category      string
	PlanType      PlanType
	FollowerCount int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// FOLLOW GRAPH
// =============================================================================

// FollowEdge is one user-follows-business relation. (UserID, BusinessID)
// is unique; existence means "following".
type FollowEdge struct {
	ID         int64
	UserID     UserID
	BusinessID BusinessID
	CreatedAt  time.Time
}

// =============================================================================
// LOYALTY
// =============================================================================

// LoyaltyProgram is a business's points configuration. Reward progress is
// derived at read time from RewardThreshold; it is never stored.
type LoyaltyProgram struct {
	ID                int64
	BusinessID        BusinessID
	Name              string
	PointsPerDollar   decimal.Decimal
	RewardThreshold   int64
	RewardDescription string
	IsActive          bool
	CreatedAt         time.Time
}

// LoyaltyAccount is a user's points balance with one business.
// Points may be spent; TotalPointsEarned never decreases, so
// Points <= TotalPointsEarned always.
type LoyaltyAccount struct {
	ID                int64
	UserID            UserID
	BusinessID        BusinessID
	Points            int64
	TotalPointsEarned int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// =============================================================================
// GIFT CARDS
// =============================================================================

type CardStatus string

const (
	CardActive   CardStatus = "active"
	CardRedeemed CardStatus = "redeemed"
	CardExpired  CardStatus = "expired"
)

// GiftCard is a stored-value instrument. Amount is the immutable face
// value; Balance decrements toward zero and never exceeds Amount or goes
// negative. Status becomes redeemed exactly when Balance reaches zero.
type GiftCard struct {
	ID             string // uuid
	BusinessID     BusinessID
	PurchasedBy    UserID
	RecipientEmail string
	Message        string
	Amount         decimal.Decimal
	Balance        decimal.Decimal
	Code           string // unique redemption code
	Status         CardStatus
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the card is past its expiry at the given time.
func (c GiftCard) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// EffectiveStatus is the status clients see: an active card past expiry
// reads as expired without waiting for a write.
func (c GiftCard) EffectiveStatus(now time.Time) CardStatus {
	if c.Status == CardActive && c.Expired(now) {
		return CardExpired
	}
	return c.Status
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

type EntryType string

const (
	EntryGiftCardPurchase   EntryType = "giftcard_purchase"
	EntryGiftCardRedemption EntryType = "giftcard_redemption"
	EntryLoyaltyPurchase    EntryType = "loyalty_purchase"
)

// ValidEntryType reports whether t is a known entry type.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryGiftCardPurchase, EntryGiftCardRedemption, EntryLoyaltyPurchase:
		return true
	}
	return false
}

// PurchaseEntryType reports whether t records money moving onto the
// platform.
func PurchaseEntryType(t EntryType) bool {
	return t == EntryGiftCardPurchase || t == EntryLoyaltyPurchase
}

// Entry is one immutable ledger record. Amount is a positive magnitude;
// the direction of the movement is implied by Type.
type Entry struct {
	ID          EntryID
	UserID      UserID
	BusinessID  BusinessID
	Type        EntryType
	Amount      decimal.Decimal
	Description string

	// GiftCardID links purchase/redemption entries to their card.
	GiftCardID string

	// ProviderRef is the external payment reference (payment-intent id)
	// for entries backed by off-platform money movement.
	ProviderRef string

	CreatedAt time.Time
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// CanTransition encodes the subscription state machine:
// pending -> active, active -> past_due, active|past_due -> canceled.
// Canceled is terminal.
func (s SubscriptionStatus) CanTransition(to SubscriptionStatus) bool {
	switch s {
	case SubscriptionPending:
		return to == SubscriptionActive || to == SubscriptionCanceled
	case SubscriptionActive:
		return to == SubscriptionPastDue || to == SubscriptionCanceled
	case SubscriptionPastDue:
		return to == SubscriptionCanceled || to == SubscriptionActive
	}
	return false
}

// SubscriptionRecord mirrors the provider's subscription object locally.
type SubscriptionRecord struct {
	ID                     string // uuid
	AccountID              UserID
	PlanType               string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	Status                 SubscriptionStatus
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ProviderEvent is the dedupe record for provider-originated confirmation
// events: one row per provider event id ever processed.
type ProviderEvent struct {
	ID          string // provider event id
	Type        string
	ProcessedAt time.Time
}
