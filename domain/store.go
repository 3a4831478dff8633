/*
store.go - Persistence contract shared by the engines

PURPOSE:
  One Store interface covering every record the engines persist, plus the
  TxStore extension that runs a function inside a single database
  transaction. The engines express their atomic units as WithTx closures:
  edge insert + counter bump, card debit + ledger append, and so on.

ATOMICITY:
  A WithTx closure either commits every write it made or none of them.
  The Store passed to the closure performs all operations inside that
  transaction; the invariants in the model docs rely on this.

ERROR MAPPING:
  Implementations translate uniqueness violations to the domain taxonomy:
  duplicate follow edge / loyalty account -> ConflictError, duplicate
  gift-card code -> ErrDuplicateCode, duplicate provider event -> the
  (false, nil) return of InsertProviderEvent.

SEE ALSO:
  - store/sqlite/sqlite.go: the SQLite implementation
*/
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence surface of the platform core.
type Store interface {
	// --- Accounts ---

	// GetAccount returns nil when the account does not exist.
	GetAccount(ctx context.Context, id UserID) (*Account, error)
	UpsertAccount(ctx context.Context, a Account) error
	// SetAccountProviderIDs attaches the payment-provider customer and
	// subscription ids to the account.
	SetAccountProviderIDs(ctx context.Context, id UserID, customerID, subscriptionID string) error

	// --- Businesses ---

	InsertBusiness(ctx context.Context, b *Business) error
	GetBusiness(ctx context.Context, id BusinessID) (*Business, error)
	ListBusinessIDs(ctx context.Context) ([]BusinessID, error)
	// AdjustFollowerCount moves the denormalized counter by delta. Only
	// the follow graph calls this, always in the same transaction as the
	// edge mutation.
	AdjustFollowerCount(ctx context.Context, id BusinessID, delta int64) error
	SetFollowerCount(ctx context.Context, id BusinessID, n int64) error

	// --- Follow graph ---

	// InsertFollowEdge fails with ConflictError when the edge exists.
	InsertFollowEdge(ctx context.Context, e *FollowEdge) error
	// DeleteFollowEdge reports whether an edge was actually removed.
	DeleteFollowEdge(ctx context.Context, userID UserID, businessID BusinessID) (bool, error)
	FollowEdgeExists(ctx context.Context, userID UserID, businessID BusinessID) (bool, error)
	FollowEdgesByUser(ctx context.Context, userID UserID) ([]FollowEdge, error)
	CountFollowEdges(ctx context.Context, businessID BusinessID) (int64, error)

	// --- Loyalty ---

	UpsertLoyaltyProgram(ctx context.Context, p *LoyaltyProgram) error
	// GetLoyaltyProgram returns nil when the business has no program.
	GetLoyaltyProgram(ctx context.Context, businessID BusinessID) (*LoyaltyProgram, error)
	// GetLoyaltyAccount returns nil when the pair has no account.
	GetLoyaltyAccount(ctx context.Context, userID UserID, businessID BusinessID) (*LoyaltyAccount, error)
	// InsertLoyaltyAccount fails with ConflictError when the pair exists.
	InsertLoyaltyAccount(ctx context.Context, a *LoyaltyAccount) error
	// AddLoyaltyPoints increments points and totalPointsEarned by the
	// same delta and returns the updated account.
	AddLoyaltyPoints(ctx context.Context, userID UserID, businessID BusinessID, points int64) (*LoyaltyAccount, error)
	LoyaltyAccountsByUser(ctx context.Context, userID UserID) ([]LoyaltyAccount, error)

	// --- Gift cards ---

	// InsertGiftCard fails with ErrDuplicateCode on a code collision.
	InsertGiftCard(ctx context.Context, c *GiftCard) error
	// GiftCardByCode returns nil when no card holds the code.
	GiftCardByCode(ctx context.Context, code string) (*GiftCard, error)
	// DebitGiftCard decrements balance by amount if and only if the card
	// is active and balance >= amount, flipping status to redeemed when
	// the balance lands on zero. Reports whether the debit applied.
	DebitGiftCard(ctx context.Context, id string, amount decimal.Decimal) (bool, error)
	GiftCardsByUser(ctx context.Context, userID UserID) ([]GiftCard, error)

	// --- Ledger ---

	// AppendEntry persists an immutable entry. The store never exposes
	// update or delete for entries.
	AppendEntry(ctx context.Context, e Entry) error
	EntriesByUser(ctx context.Context, userID UserID) ([]Entry, error)
	EntriesByBusiness(ctx context.Context, businessID BusinessID) ([]Entry, error)

	// --- Subscriptions ---

	// SubscriptionByAccount returns nil when the account has none.
	SubscriptionByAccount(ctx context.Context, accountID UserID) (*SubscriptionRecord, error)
	// SubscriptionByProviderID returns nil when no record matches.
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*SubscriptionRecord, error)
	InsertSubscription(ctx context.Context, s *SubscriptionRecord) error
	UpdateSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus, periodStart, periodEnd *time.Time) error

	// --- Provider events ---

	// InsertProviderEvent records a provider event id. Returns false,
	// without error, when the id was already recorded: the caller treats
	// that event as a duplicate and does nothing.
	InsertProviderEvent(ctx context.Context, e ProviderEvent) (bool, error)
}

// TxStore is a Store that can run a closure inside one transaction.
type TxStore interface {
	Store

	// WithTx runs fn against a Store bound to a single transaction.
	// If fn returns an error the transaction rolls back and the error is
	// returned unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error
}
