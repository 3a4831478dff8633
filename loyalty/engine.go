/*
Package loyalty accrues per-business points for users.

PURPOSE:
  One LoyaltyAccount per (user, business), created on first join. Points
  are the spendable balance; TotalPointsEarned is the monotonic lifetime
  counter, so Points <= TotalPointsEarned always. Both move by the same
  delta in one store transaction, together with the loyalty_purchase
  ledger entry when the accrual is purchase-driven.

REWARD PROGRESS:
  Progress toward the program's reward threshold is derived at read time
  from the stored points. It is never persisted.
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/ledger"
)

// Engine is the loyalty engine.
type Engine struct {
	store domain.TxStore
}

func New(store domain.TxStore) *Engine {
	return &Engine{store: store}
}

// Join creates the (user, business) loyalty account, or returns the
// existing one unchanged. Idempotent by design: joining twice is one
// account, one creation.
func (e *Engine) Join(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount

	err := e.store.WithTx(ctx, func(tx domain.Store) error {
		b, err := tx.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if b == nil {
			return &domain.NotFoundError{Kind: "business", Key: fmt.Sprint(businessID)}
		}

		existing, err := tx.GetLoyaltyAccount(ctx, userID, businessID)
		if err != nil {
			return err
		}
		if existing != nil {
			account = *existing
			return nil
		}

		account = domain.LoyaltyAccount{UserID: userID, BusinessID: businessID}
		return tx.InsertLoyaltyAccount(ctx, &account)
	})
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return account, nil
}

// Accrue adds points to the account, incrementing Points and
// TotalPointsEarned by the same delta. When the accrual is driven by a
// purchase, pass the dollar amount and provider reference so the
// loyalty_purchase ledger entry lands in the same transaction; a zero
// purchaseAmount means a non-purchase accrual and writes no entry.
func (e *Engine) Accrue(ctx context.Context, userID domain.UserID, businessID domain.BusinessID, points int64, purchaseAmount decimal.Decimal, providerRef string) (domain.LoyaltyAccount, error) {
	if points <= 0 {
		return domain.LoyaltyAccount{}, &domain.ValidationError{Field: "points", Message: "must be positive"}
	}

	var entry domain.Entry
	if purchaseAmount.IsPositive() {
		var err error
		entry, err = ledger.Prepare(domain.Entry{
			UserID:      userID,
			BusinessID:  businessID,
			Type:        domain.EntryLoyaltyPurchase,
			Amount:      purchaseAmount,
			Description: fmt.Sprintf("loyalty purchase, %d points earned", points),
			ProviderRef: providerRef,
		})
		if err != nil {
			return domain.LoyaltyAccount{}, err
		}
	}

	var account domain.LoyaltyAccount
	err := e.store.WithTx(ctx, func(tx domain.Store) error {
		existing, err := tx.GetLoyaltyAccount(ctx, userID, businessID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &domain.NotFoundError{Kind: "loyalty account",
				Key: fmt.Sprintf("%s/%d", userID, businessID)}
		}

		updated, err := tx.AddLoyaltyPoints(ctx, userID, businessID, points)
		if err != nil {
			return err
		}
		account = *updated

		if entry.ID != "" {
			return tx.AppendEntry(ctx, entry)
		}
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return account, nil
}

// AccrueFromPurchase converts a dollar amount to points using the
// business's loyalty program and accrues them. Points are floored:
// $7.50 at 1 point per dollar is 7 points.
func (e *Engine) AccrueFromPurchase(ctx context.Context, userID domain.UserID, businessID domain.BusinessID, amount decimal.Decimal, providerRef string) (domain.LoyaltyAccount, error) {
	if !amount.IsPositive() {
		return domain.LoyaltyAccount{}, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	program, err := e.store.GetLoyaltyProgram(ctx, businessID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if program == nil || !program.IsActive {
		return domain.LoyaltyAccount{}, &domain.NotFoundError{Kind: "loyalty program", Key: fmt.Sprint(businessID)}
	}

	points := amount.Mul(program.PointsPerDollar).IntPart()
	if points <= 0 {
		return domain.LoyaltyAccount{}, &domain.ValidationError{Field: "amount", Message: "too small to earn points"}
	}
	return e.Accrue(ctx, userID, businessID, points, amount, providerRef)
}

// ListForUser returns the user's loyalty accounts.
func (e *Engine) ListForUser(ctx context.Context, userID domain.UserID) ([]domain.LoyaltyAccount, error) {
	return e.store.LoyaltyAccountsByUser(ctx, userID)
}

// Progress is the read-time derivation of reward status.
type Progress struct {
	Points           int64   `json:"points"`
	RewardThreshold  int64   `json:"rewardThreshold"`
	RewardsAvailable int64   `json:"rewardsAvailable"`
	TowardNext       float64 `json:"towardNext"` // 0..1
}

// ProgressFor derives reward progress for an account against its
// business's program.
func (e *Engine) ProgressFor(ctx context.Context, account domain.LoyaltyAccount) (Progress, error) {
	program, err := e.store.GetLoyaltyProgram(ctx, account.BusinessID)
	if err != nil {
		return Progress{}, err
	}
	if program == nil || program.RewardThreshold <= 0 {
		return Progress{Points: account.Points}, nil
	}
	return Progress{
		Points:           account.Points,
		RewardThreshold:  program.RewardThreshold,
		RewardsAvailable: account.Points / program.RewardThreshold,
		TowardNext:       float64(account.Points%program.RewardThreshold) / float64(program.RewardThreshold),
	}, nil
}
