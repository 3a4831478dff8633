/*
Package ledger is the append-only log of value-moving events.

PURPOSE:
  The write and read surface of the ledger. Append validates and persists
  one immutable entry; the list operations return entries newest first.
  The ledger is the single point from which every balance and counter
  could be rebuilt if the denormalized state ever drifted.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete, ever
  2. Exactly one entry per completed value-moving action
  3. The ledger itself never touches counters or balances; engines pair
     their counter mutation with the append inside one store transaction

CORRECTIONS:
  A mistaken entry is never edited. There is no reversal flow today; if
  one is ever needed it is a new entry type, not an update.
*/
package ledger

import (
	"context"

	"github.com/localspot/localspot/domain"
)

// Ledger validates and records value-moving events.
type Ledger struct {
	store domain.Store
}

func New(store domain.Store) *Ledger {
	return &Ledger{store: store}
}

// Prepare validates an entry and stamps its identity. It is split from
// Append so engines can validate before opening their store transaction
// and then append the prepared entry inside it.
func Prepare(e domain.Entry) (domain.Entry, error) {
	if !domain.ValidEntryType(e.Type) {
		return domain.Entry{}, &domain.ValidationError{Field: "type", Message: "unknown entry type"}
	}
	if domain.PurchaseEntryType(e.Type) && !e.Amount.IsPositive() {
		return domain.Entry{}, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if e.Amount.IsNegative() {
		return domain.Entry{}, &domain.ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if e.UserID == "" {
		return domain.Entry{}, &domain.ValidationError{Field: "userId", Message: "required"}
	}
	if e.ID == "" {
		e.ID = domain.NewEntryID()
	}
	return e, nil
}

// Append validates and persists one entry.
func (l *Ledger) Append(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	e, err := Prepare(e)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return domain.Entry{}, err
	}
	return e, nil
}

// ListByUser returns a user's entries, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.Entry, error) {
	return l.store.EntriesByUser(ctx, userID)
}

// ListByBusiness returns a business's entries, newest first.
func (l *Ledger) ListByBusiness(ctx context.Context, businessID domain.BusinessID) ([]domain.Entry, error) {
	return l.store.EntriesByBusiness(ctx, businessID)
}
