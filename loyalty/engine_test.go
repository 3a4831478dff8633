package loyalty_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/loyalty"
	"github.com/localspot/localspot/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*loyalty.Engine, *sqlite.Store, domain.BusinessID) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := &domain.Business{
		OwnerID:  "owner-1",
		Name:     "Corner Cafe",
		PlanType: domain.PlanBasic,
		IsActive: true,
	}
	require.NoError(t, store.InsertBusiness(context.Background(), b))

	return loyalty.New(store), store, b.ID
}

func seedProgram(t *testing.T, store *sqlite.Store, bizID domain.BusinessID, perDollar string, threshold int64) {
	program := &domain.LoyaltyProgram{
		BusinessID:      bizID,
		Name:            "Cafe Points",
		PointsPerDollar: domain.MustParseAmount(perDollar),
		RewardThreshold: threshold,
		IsActive:        true,
	}
	require.NoError(t, store.UpsertLoyaltyProgram(context.Background(), program))
}

// =============================================================================
// JOIN
// =============================================================================

func TestJoin_CreatesAccountWithZeroPoints(t *testing.T) {
	// GIVEN: A business and a user not yet enrolled
	// WHEN: The user joins
	// THEN: A fresh account with zero points exists for the pair

	engine, _, bizID := newTestEngine(t)

	account, err := engine.Join(context.Background(), "user-1", bizID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), account.UserID)
	assert.Equal(t, bizID, account.BusinessID)
	assert.Zero(t, account.Points)
	assert.Zero(t, account.TotalPointsEarned)
}

func TestJoin_Twice_ReturnsSameAccount(t *testing.T) {
	// GIVEN: An enrolled user
	// WHEN: They join again
	// THEN: The existing account comes back unchanged; no duplicate row

	engine, store, bizID := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	second, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	accounts, err := store.LoyaltyAccountsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestJoin_UnknownBusiness_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Join(context.Background(), "user-1", 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrue_MovesBothCountersAndLedgersPurchase(t *testing.T) {
	// GIVEN: An enrolled user
	// WHEN: 30 points accrue from a $30 purchase
	// THEN: Points and TotalPointsEarned both read 30 and a
	//       loyalty_purchase entry records the dollar amount

	engine, store, bizID := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	account, err := engine.Accrue(ctx, "user-1", bizID, 30, domain.NewAmount(30), "pi_abc")
	require.NoError(t, err)
	assert.Equal(t, int64(30), account.Points)
	assert.Equal(t, int64(30), account.TotalPointsEarned)

	entries, err := store.EntriesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryLoyaltyPurchase, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(domain.NewAmount(30)))
	assert.Equal(t, "pi_abc", entries[0].ProviderRef)
}

func TestAccrue_NonPurchase_NoLedgerEntry(t *testing.T) {
	// GIVEN: An enrolled user
	// WHEN: Points accrue with no purchase amount (e.g. a promo grant)
	// THEN: Counters move, ledger stays empty

	engine, store, bizID := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	account, err := engine.Accrue(ctx, "user-1", bizID, 10, domain.MustParseAmount("0"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Points)

	entries, err := store.EntriesByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAccrue_NonPositivePoints_Validation(t *testing.T) {
	engine, _, bizID := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	for _, points := range []int64{0, -5} {
		_, err := engine.Accrue(ctx, "user-1", bizID, points, domain.NewAmount(10), "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestAccrue_NotJoined_NotFound(t *testing.T) {
	engine, _, bizID := newTestEngine(t)

	_, err := engine.Accrue(context.Background(), "user-1", bizID, 10, domain.NewAmount(10), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccrueFromPurchase_FloorsPoints(t *testing.T) {
	// GIVEN: A program at 1 point per dollar
	// WHEN: A $7.50 purchase accrues
	// THEN: 7 points, not 7.5, not 8

	engine, store, bizID := newTestEngine(t)
	ctx := context.Background()
	seedProgram(t, store, bizID, "1", 100)

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	account, err := engine.AccrueFromPurchase(ctx, "user-1", bizID, domain.MustParseAmount("7.50"), "pi_x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.Points)
}

func TestAccrueFromPurchase_NoProgram_NotFound(t *testing.T) {
	engine, _, bizID := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)

	_, err = engine.AccrueFromPurchase(ctx, "user-1", bizID, domain.NewAmount(10), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// REWARD PROGRESS
// =============================================================================

func TestProgressFor_DerivesFromThreshold(t *testing.T) {
	// GIVEN: A program with a 100-point threshold and an account at 250
	// WHEN: Progress is derived
	// THEN: 2 rewards available, halfway to the next

	engine, store, bizID := newTestEngine(t)
	ctx := context.Background()
	seedProgram(t, store, bizID, "1", 100)

	_, err := engine.Join(ctx, "user-1", bizID)
	require.NoError(t, err)
	account, err := engine.Accrue(ctx, "user-1", bizID, 250, domain.MustParseAmount("0"), "")
	require.NoError(t, err)

	progress, err := engine.ProgressFor(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(250), progress.Points)
	assert.Equal(t, int64(2), progress.RewardsAvailable)
	assert.InDelta(t, 0.5, progress.TowardNext, 1e-9)
}
