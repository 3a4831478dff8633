/*
Package sqlite provides the SQLite-backed implementation of the
platform's storage contract.

PURPOSE:
  Implements domain.Store and domain.TxStore: accounts, businesses, the
  follow graph, loyalty, gift cards, the append-only ledger, and the
  subscription/provider-event records.

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE and no DELETE against ledger_entries anywhere in
  this package. Derived state (follower_count, gift-card balance,
  loyalty points) is mutated only through the typed operations below,
  which the engines call inside WithTx together with the ledger append.

CONCURRENCY:
  A sync.RWMutex serializes writers over a WAL-mode database, and the
  DSN requests immediate transactions so a writer takes the write lock
  at BEGIN. Two concurrent redemptions of one card therefore serialize:
  the second transaction reads the first's committed balance.

UNITS:
  Gift-card amounts are stored as integer cents so the guarded debit can
  compare balances in SQL. Ledger amounts are stored as decimal strings;
  the ledger is never the subject of SQL arithmetic.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/localspot/localspot/domain"
)

// Store implements domain.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and makes the
	// mutex the only serialization point that matters.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (owned by the identity collaborator; this core only
	-- attaches payment-provider ids)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		provider_customer_id TEXT NOT NULL DEFAULT '',
		provider_subscription_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS businesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		plan_type TEXT NOT NULL DEFAULT 'basic',
		follower_count INTEGER NOT NULL DEFAULT 0 CHECK (follower_count >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Follow graph: edge existence is the source of truth for
	-- businesses.follower_count
	CREATE TABLE IF NOT EXISTS follow_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		business_id INTEGER NOT NULL REFERENCES businesses(id),
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_follow_edges_pair
		ON follow_edges(user_id, business_id);
	CREATE INDEX IF NOT EXISTS idx_follow_edges_business
		ON follow_edges(business_id);

	CREATE TABLE IF NOT EXISTS loyalty_programs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL UNIQUE REFERENCES businesses(id),
		name TEXT NOT NULL,
		points_per_dollar TEXT NOT NULL DEFAULT '1',
		reward_threshold INTEGER NOT NULL DEFAULT 100,
		reward_description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- points may be spent, total_points_earned never decreases
	CREATE TABLE IF NOT EXISTS loyalty_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		business_id INTEGER NOT NULL REFERENCES businesses(id),
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		total_points_earned INTEGER NOT NULL DEFAULT 0
			CHECK (total_points_earned >= points),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_loyalty_accounts_pair
		ON loyalty_accounts(user_id, business_id);

	-- amount/balance in integer cents: the guarded debit compares in SQL
	CREATE TABLE IF NOT EXISTS gift_cards (
		id TEXT PRIMARY KEY,
		business_id INTEGER NOT NULL REFERENCES businesses(id),
		purchased_by TEXT NOT NULL,
		recipient_email TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		balance_cents INTEGER NOT NULL
			CHECK (balance_cents >= 0 AND balance_cents <= amount_cents),
		code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		expires_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_gift_cards_code
		ON gift_cards(code);
	CREATE INDEX IF NOT EXISTS idx_gift_cards_purchaser
		ON gift_cards(purchased_by);

	-- Ledger entries (append-only: no UPDATE, no DELETE, ever)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		business_id INTEGER,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		gift_card_id TEXT,
		provider_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_business
		ON ledger_entries(business_id, id DESC);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		provider_customer_id TEXT NOT NULL DEFAULT '',
		provider_subscription_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_period_start TEXT,
		current_period_end TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_provider
		ON subscriptions(provider_subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_account
		ON subscriptions(account_id);

	-- Provider event dedupe: one row per provider event id ever seen
	CREATE TABLE IF NOT EXISTS provider_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is what the operation helpers need from *sql.DB or *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (domain.TxStore)
// =============================================================================

// WithTx runs fn against a Store bound to one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open transaction. It only
// implements domain.Store: re-entering WithTx would deadlock on the
// parent mutex.
type txStore struct {
	q      dbtx
	parent *Store
}

func (ts *txStore) GetAccount(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	return ts.parent.getAccount(ctx, ts.q, id)
}
func (ts *txStore) UpsertAccount(ctx context.Context, a domain.Account) error {
	return ts.parent.upsertAccount(ctx, ts.q, a)
}
func (ts *txStore) SetAccountProviderIDs(ctx context.Context, id domain.UserID, customerID, subscriptionID string) error {
	return ts.parent.setAccountProviderIDs(ctx, ts.q, id, customerID, subscriptionID)
}
func (ts *txStore) InsertBusiness(ctx context.Context, b *domain.Business) error {
	return ts.parent.insertBusiness(ctx, ts.q, b)
}
func (ts *txStore) GetBusiness(ctx context.Context, id domain.BusinessID) (*domain.Business, error) {
	return ts.parent.getBusiness(ctx, ts.q, id)
}
func (ts *txStore) ListBusinessIDs(ctx context.Context) ([]domain.BusinessID, error) {
	return ts.parent.listBusinessIDs(ctx, ts.q)
}
func (ts *txStore) AdjustFollowerCount(ctx context.Context, id domain.BusinessID, delta int64) error {
	return ts.parent.adjustFollowerCount(ctx, ts.q, id, delta)
}
func (ts *txStore) SetFollowerCount(ctx context.Context, id domain.BusinessID, n int64) error {
	return ts.parent.setFollowerCount(ctx, ts.q, id, n)
}
func (ts *txStore) InsertFollowEdge(ctx context.Context, e *domain.FollowEdge) error {
	return ts.parent.insertFollowEdge(ctx, ts.q, e)
}
func (ts *txStore) DeleteFollowEdge(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	return ts.parent.deleteFollowEdge(ctx, ts.q, userID, businessID)
}
func (ts *txStore) FollowEdgeExists(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	return ts.parent.followEdgeExists(ctx, ts.q, userID, businessID)
}
func (ts *txStore) FollowEdgesByUser(ctx context.Context, userID domain.UserID) ([]domain.FollowEdge, error) {
	return ts.parent.followEdgesByUser(ctx, ts.q, userID)
}
func (ts *txStore) CountFollowEdges(ctx context.Context, businessID domain.BusinessID) (int64, error) {
	return ts.parent.countFollowEdges(ctx, ts.q, businessID)
}
func (ts *txStore) UpsertLoyaltyProgram(ctx context.Context, p *domain.LoyaltyProgram) error {
	return ts.parent.upsertLoyaltyProgram(ctx, ts.q, p)
}
func (ts *txStore) GetLoyaltyProgram(ctx context.Context, businessID domain.BusinessID) (*domain.LoyaltyProgram, error) {
	return ts.parent.getLoyaltyProgram(ctx, ts.q, businessID)
}
func (ts *txStore) GetLoyaltyAccount(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (*domain.LoyaltyAccount, error) {
	return ts.parent.getLoyaltyAccount(ctx, ts.q, userID, businessID)
}
func (ts *txStore) InsertLoyaltyAccount(ctx context.Context, a *domain.LoyaltyAccount) error {
	return ts.parent.insertLoyaltyAccount(ctx, ts.q, a)
}
func (ts *txStore) AddLoyaltyPoints(ctx context.Context, userID domain.UserID, businessID domain.BusinessID, points int64) (*domain.LoyaltyAccount, error) {
	return ts.parent.addLoyaltyPoints(ctx, ts.q, userID, businessID, points)
}
func (ts *txStore) LoyaltyAccountsByUser(ctx context.Context, userID domain.UserID) ([]domain.LoyaltyAccount, error) {
	return ts.parent.loyaltyAccountsByUser(ctx, ts.q, userID)
}
func (ts *txStore) InsertGiftCard(ctx context.Context, c *domain.GiftCard) error {
	return ts.parent.insertGiftCard(ctx, ts.q, c)
}
func (ts *txStore) GiftCardByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	return ts.parent.giftCardByCode(ctx, ts.q, code)
}
func (ts *txStore) DebitGiftCard(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	return ts.parent.debitGiftCard(ctx, ts.q, id, amount)
}
func (ts *txStore) GiftCardsByUser(ctx context.Context, userID domain.UserID) ([]domain.GiftCard, error) {
	return ts.parent.giftCardsByUser(ctx, ts.q, userID)
}
func (ts *txStore) AppendEntry(ctx context.Context, e domain.Entry) error {
	return ts.parent.appendEntry(ctx, ts.q, e)
}
func (ts *txStore) EntriesByUser(ctx context.Context, userID domain.UserID) ([]domain.Entry, error) {
	return ts.parent.entriesByUser(ctx, ts.q, userID)
}
func (ts *txStore) EntriesByBusiness(ctx context.Context, businessID domain.BusinessID) ([]domain.Entry, error) {
	return ts.parent.entriesByBusiness(ctx, ts.q, businessID)
}
func (ts *txStore) SubscriptionByAccount(ctx context.Context, accountID domain.UserID) (*domain.SubscriptionRecord, error) {
	return ts.parent.subscriptionByAccount(ctx, ts.q, accountID)
}
func (ts *txStore) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.SubscriptionRecord, error) {
	return ts.parent.subscriptionByProviderID(ctx, ts.q, providerSubscriptionID)
}
func (ts *txStore) InsertSubscription(ctx context.Context, sub *domain.SubscriptionRecord) error {
	return ts.parent.insertSubscription(ctx, ts.q, sub)
}
func (ts *txStore) UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus, periodStart, periodEnd *time.Time) error {
	return ts.parent.updateSubscriptionStatus(ctx, ts.q, id, status, periodStart, periodEnd)
}
func (ts *txStore) InsertProviderEvent(ctx context.Context, e domain.ProviderEvent) (bool, error) {
	return ts.parent.insertProviderEvent(ctx, ts.q, e)
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
