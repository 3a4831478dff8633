/*
Package giftcard issues and redeems stored-value gift cards.

PURPOSE:
  A card is created at purchase time with balance == face value and a
  unique redemption code. Redemptions decrement the balance toward zero;
  the balance never goes negative and never exceeds the face value.
  Every issue and every redemption lands a ledger entry in the same store
  transaction as the balance mutation.

REDEMPTION ORDERING:
  Two concurrent redemptions against the same card serialize at the
  store: the second transaction observes the first's committed balance.
  The store's guarded debit (balance >= amount enforced in the UPDATE) is
  the backstop - if the guard does not apply, the loser re-reads and gets
  the precise domain error, never a generic failure.

FAILURE KINDS (distinct, per the error taxonomy):
  NotFoundError            unknown code
  InvalidStateError        card expired or already fully redeemed
  InsufficientBalanceError live card, not enough balance left
*/
package giftcard

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/localspot/localspot/domain"
	"github.com/localspot/localspot/ledger"
)

// codeAttempts bounds the issue retry loop. Collisions on a 12-char code
// are vanishingly rare; exhausting the bound means something is wrong
// with the randomness source, so we surface a conflict instead of
// spinning.
const codeAttempts = 5

// IssueParams are the inputs to Issue.
type IssueParams struct {
	BusinessID     domain.BusinessID
	PurchaserID    domain.UserID
	Amount         decimal.Decimal
	RecipientEmail string
	Message        string
	ExpiresAt      *time.Time

	// ProviderRef is the confirmed payment-intent id. Issue is only
	// called after the client-confirmed payment is observed; money is
	// never ledgered before the provider has confirmed it.
	ProviderRef string
}

// Engine is the gift-card engine.
type Engine struct {
	store domain.TxStore
	now   func() time.Time
}

func New(store domain.TxStore) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the engine's clock. Expiry tests pin time with it.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Issue creates a card and its giftcard_purchase ledger entry in one
// transaction. The code is regenerated on collision, at most
// codeAttempts times, then the call fails with ConflictError.
func (e *Engine) Issue(ctx context.Context, p IssueParams) (domain.GiftCard, error) {
	if !p.Amount.IsPositive() {
		return domain.GiftCard{}, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(e.now()) {
		return domain.GiftCard{}, &domain.ValidationError{Field: "expiresAt", Message: "must be in the future"}
	}

	business, err := e.store.GetBusiness(ctx, p.BusinessID)
	if err != nil {
		return domain.GiftCard{}, err
	}
	if business == nil {
		return domain.GiftCard{}, &domain.NotFoundError{Kind: "business", Key: fmt.Sprint(p.BusinessID)}
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		card := domain.GiftCard{
			ID:             uuid.NewString(),
			BusinessID:     p.BusinessID,
			PurchasedBy:    p.PurchaserID,
			RecipientEmail: p.RecipientEmail,
			Message:        p.Message,
			Amount:         p.Amount,
			Balance:        p.Amount,
			Code:           NewCode(),
			Status:         domain.CardActive,
			ExpiresAt:      p.ExpiresAt,
		}

		entry, err := ledger.Prepare(domain.Entry{
			UserID:      p.PurchaserID,
			BusinessID:  p.BusinessID,
			Type:        domain.EntryGiftCardPurchase,
			Amount:      p.Amount,
			Description: fmt.Sprintf("gift card purchase from %s", business.Name),
			GiftCardID:  card.ID,
			ProviderRef: p.ProviderRef,
		})
		if err != nil {
			return domain.GiftCard{}, err
		}

		err = e.store.WithTx(ctx, func(tx domain.Store) error {
			if err := tx.InsertGiftCard(ctx, &card); err != nil {
				return err
			}
			return tx.AppendEntry(ctx, entry)
		})
		if errors.Is(err, domain.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return domain.GiftCard{}, err
		}
		return card, nil
	}

	return domain.GiftCard{}, &domain.ConflictError{Kind: "gift card",
		Message: fmt.Sprintf("could not generate a unique code in %d attempts", codeAttempts)}
}

// Redeem spends amount from the card identified by code. The debit,
// status flip and giftcard_redemption entry are one atomic unit.
func (e *Engine) Redeem(ctx context.Context, code string, amount decimal.Decimal) (domain.GiftCard, error) {
	if !amount.IsPositive() {
		return domain.GiftCard{}, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	var card domain.GiftCard
	err := e.store.WithTx(ctx, func(tx domain.Store) error {
		c, err := tx.GiftCardByCode(ctx, code)
		if err != nil {
			return err
		}
		if c == nil {
			return &domain.NotFoundError{Kind: "gift card", Key: code}
		}

		now := e.now()
		if c.Status != domain.CardActive {
			return &domain.InvalidStateError{Kind: "gift card", Status: string(c.Status),
				Reason: "only active cards can be redeemed"}
		}
		if c.Expired(now) {
			return &domain.InvalidStateError{Kind: "gift card", Status: string(domain.CardExpired),
				Reason: "card expired " + c.ExpiresAt.Format("2006-01-02")}
		}
		if amount.GreaterThan(c.Balance) {
			return &domain.InsufficientBalanceError{Code: code, Available: c.Balance, Requested: amount}
		}

		applied, err := tx.DebitGiftCard(ctx, c.ID, amount)
		if err != nil {
			return err
		}
		if !applied {
			// The guard refused: the balance moved between the read and
			// the debit. Report against the current committed state.
			fresh, err := tx.GiftCardByCode(ctx, code)
			if err != nil {
				return err
			}
			if fresh == nil || fresh.Status != domain.CardActive {
				return &domain.InvalidStateError{Kind: "gift card", Status: string(domain.CardRedeemed),
					Reason: "card already fully redeemed"}
			}
			return &domain.InsufficientBalanceError{Code: code, Available: fresh.Balance, Requested: amount}
		}

		entry, err := ledger.Prepare(domain.Entry{
			UserID:      c.PurchasedBy,
			BusinessID:  c.BusinessID,
			Type:        domain.EntryGiftCardRedemption,
			Amount:      amount,
			Description: "gift card redemption",
			GiftCardID:  c.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		fresh, err := tx.GiftCardByCode(ctx, code)
		if err != nil {
			return err
		}
		card = *fresh
		return nil
	})
	if err != nil {
		return domain.GiftCard{}, err
	}
	return card, nil
}

// GetForUser returns the user's purchased cards, newest first.
func (e *Engine) GetForUser(ctx context.Context, userID domain.UserID) ([]domain.GiftCard, error) {
	return e.store.GiftCardsByUser(ctx, userID)
}

// codeAlphabet avoids lookalike characters (0/O, 1/I/L) so codes survive
// being read over a counter.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewCode returns a 12-character redemption code.
func NewCode() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic("giftcard: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
