package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/ledger"
	"github.com/localspot/localspot/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *ledger.Ledger {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.New(store)
}

func purchaseEntry(userID string, amount float64) domain.Entry {
	return domain.Entry{
		UserID:     domain.UserID(userID),
		BusinessID: 1,
		Type:       domain.EntryGiftCardPurchase,
		Amount:     domain.NewAmount(amount),
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestPrepare_UnknownType_Rejected(t *testing.T) {
	_, err := ledger.Prepare(domain.Entry{
		UserID: "user-1",
		Type:   "refund",
		Amount: domain.NewAmount(10),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPrepare_PurchaseTypes_RequirePositiveAmount(t *testing.T) {
	// GIVEN: Entry types that record money moving onto the platform
	// WHEN: Prepared with a zero or negative amount
	// THEN: ValidationError

	for _, entryType := range []domain.EntryType{
		domain.EntryGiftCardPurchase,
		domain.EntryLoyaltyPurchase,
	} {
		for _, amount := range []float64{0, -5} {
			_, err := ledger.Prepare(domain.Entry{
				UserID: "user-1",
				Type:   entryType,
				Amount: domain.NewAmount(amount),
			})
			assert.ErrorIs(t, err, domain.ErrValidation,
				"type %s amount %v must be rejected", entryType, amount)
		}
	}
}

func TestPrepare_MissingUser_Rejected(t *testing.T) {
	_, err := ledger.Prepare(domain.Entry{
		Type:   domain.EntryGiftCardPurchase,
		Amount: domain.NewAmount(10),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPrepare_StampsULID(t *testing.T) {
	// GIVEN: A valid entry with no id
	// WHEN: Prepared twice
	// THEN: Each gets a distinct 26-character ULID

	first, err := ledger.Prepare(purchaseEntry("user-1", 10))
	require.NoError(t, err)
	second, err := ledger.Prepare(purchaseEntry("user-1", 10))
	require.NoError(t, err)

	assert.Len(t, string(first.ID), 26)
	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// APPEND AND ORDERING
// =============================================================================

func TestAppend_PersistsEntry(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	entry, err := l.Append(ctx, purchaseEntry("user-1", 25))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	entries, err := l.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.True(t, entries[0].Amount.Equal(domain.NewAmount(25)))
}

func TestListByUser_NewestFirst(t *testing.T) {
	// GIVEN: Three appends in order
	// WHEN: Listing
	// THEN: Reverse append order (ULIDs sort by creation time)

	l := newTestLedger(t)
	ctx := context.Background()

	var ids []domain.EntryID
	for i := 0; i < 3; i++ {
		entry, err := l.Append(ctx, purchaseEntry("user-1", float64(10+i)))
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	entries, err := l.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[1], entries[1].ID)
	assert.Equal(t, ids[0], entries[2].ID)
}

func TestListByBusiness_FiltersAndOrders(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, purchaseEntry("user-1", 10))
	require.NoError(t, err)

	other := purchaseEntry("user-2", 20)
	other.BusinessID = 2
	_, err = l.Append(ctx, other)
	require.NoError(t, err)

	entries, err := l.ListByBusiness(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.UserID("user-1"), entries[0].UserID)
}
