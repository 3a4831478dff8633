/*
ops.go - SQL operations behind the domain.Store surface

PURPOSE:
  Every query and mutation in one place. Each operation exists twice:
  a lowercase helper taking (ctx, q dbtx, ...) that runs against either
  the root connection or an open transaction, and the exported wrapper
  on *Store that takes the mutex and passes the root connection. The
  txStore in sqlite.go routes the same helpers through its transaction.

ERROR MAPPING:
  Uniqueness violations are translated here: follow-edge and
  loyalty-account pairs -> ConflictError, gift-card code ->
  ErrDuplicateCode, provider event id -> the (false, nil) return.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/localspot/localspot/domain"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccount(ctx, s.db, id)
}

func (s *Store) getAccount(ctx context.Context, q dbtx, id domain.UserID) (*domain.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name,
		       provider_customer_id, provider_subscription_id,
		       created_at, updated_at
		FROM users WHERE id = ?`, string(id))

	var a domain.Account
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName,
		&a.ProviderCustomerID, &a.ProviderSubscriptionID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertAccount(ctx, s.db, a)
}

func (s *Store) upsertAccount(ctx context.Context, q dbtx, a domain.Account) error {
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name,
		                   provider_customer_id, provider_subscription_id,
		                   created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		string(a.ID), a.Email, a.FirstName, a.LastName,
		a.ProviderCustomerID, a.ProviderSubscriptionID, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *Store) SetAccountProviderIDs(ctx context.Context, id domain.UserID, customerID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAccountProviderIDs(ctx, s.db, id, customerID, subscriptionID)
}

func (s *Store) setAccountProviderIDs(ctx context.Context, q dbtx, id domain.UserID, customerID, subscriptionID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users
		SET provider_customer_id = ?, provider_subscription_id = ?, updated_at = ?
		WHERE id = ?`,
		customerID, subscriptionID, now(), string(id))
	if err != nil {
		return fmt.Errorf("failed to set provider ids: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: "account", Key: string(id)}
	}
	return nil
}

// =============================================================================
// BUSINESSES
// =============================================================================

func (s *Store) InsertBusiness(ctx context.Context, b *domain.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBusiness(ctx, s.db, b)
}

func (s *Store) insertBusiness(ctx context.Context, q dbtx, b *domain.Business) error {
	ts := now()
	if b.PlanType == "" {
		b.PlanType = domain.PlanBasic
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO businesses (owner_id, name, category, plan_type,
		                        follower_count, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.OwnerID), b.Name, b.Category, string(b.PlanType),
		b.FollowerCount, b.IsActive, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert business: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = domain.BusinessID(id)
	b.CreatedAt = parseTime(ts)
	b.UpdatedAt = b.CreatedAt
	return nil
}

func (s *Store) GetBusiness(ctx context.Context, id domain.BusinessID) (*domain.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBusiness(ctx, s.db, id)
}

func (s *Store) getBusiness(ctx context.Context, q dbtx, id domain.BusinessID) (*domain.Business, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, category, plan_type,
		       follower_count, is_active, created_at, updated_at
		FROM businesses WHERE id = ?`, int64(id))
	return scanBusiness(row)
}

func scanBusiness(row *sql.Row) (*domain.Business, error) {
	var b domain.Business
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Category, &b.PlanType,
		&b.FollowerCount, &b.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *Store) ListBusinessIDs(ctx context.Context) ([]domain.BusinessID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBusinessIDs(ctx, s.db)
}

func (s *Store) listBusinessIDs(ctx context.Context, q dbtx) ([]domain.BusinessID, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var ids []domain.BusinessID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.BusinessID(id))
	}
	return ids, rows.Err()
}

func (s *Store) AdjustFollowerCount(ctx context.Context, id domain.BusinessID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustFollowerCount(ctx, s.db, id, delta)
}

func (s *Store) adjustFollowerCount(ctx context.Context, q dbtx, id domain.BusinessID, delta int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE businesses
		SET follower_count = follower_count + ?, updated_at = ?
		WHERE id = ?`,
		delta, now(), int64(id))
	if err != nil {
		return fmt.Errorf("failed to adjust follower count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: "business", Key: fmt.Sprint(id)}
	}
	return nil
}

func (s *Store) SetFollowerCount(ctx context.Context, id domain.BusinessID, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFollowerCount(ctx, s.db, id, n)
}

func (s *Store) setFollowerCount(ctx context.Context, q dbtx, id domain.BusinessID, count int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE businesses SET follower_count = ?, updated_at = ? WHERE id = ?`,
		count, now(), int64(id))
	if err != nil {
		return fmt.Errorf("failed to set follower count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: "business", Key: fmt.Sprint(id)}
	}
	return nil
}

// =============================================================================
// FOLLOW GRAPH
// =============================================================================

func (s *Store) InsertFollowEdge(ctx context.Context, e *domain.FollowEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertFollowEdge(ctx, s.db, e)
}

func (s *Store) insertFollowEdge(ctx context.Context, q dbtx, e *domain.FollowEdge) error {
	ts := now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO follow_edges (user_id, business_id, created_at)
		VALUES (?, ?, ?)`,
		string(e.UserID), int64(e.BusinessID), ts)
	if isUniqueConstraintError(err) {
		return &domain.ConflictError{Kind: "follow", Message: "already following this business"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert follow edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	e.CreatedAt = parseTime(ts)
	return nil
}

func (s *Store) DeleteFollowEdge(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFollowEdge(ctx, s.db, userID, businessID)
}

func (s *Store) deleteFollowEdge(ctx context.Context, q dbtx, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM follow_edges WHERE user_id = ? AND business_id = ?`,
		string(userID), int64(businessID))
	if err != nil {
		return false, fmt.Errorf("failed to delete follow edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) FollowEdgeExists(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.followEdgeExists(ctx, s.db, userID, businessID)
}

func (s *Store) followEdgeExists(ctx context.Context, q dbtx, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM follow_edges WHERE user_id = ? AND business_id = ?`,
		string(userID), int64(businessID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check follow edge: %w", err)
	}
	return true, nil
}

func (s *Store) FollowEdgesByUser(ctx context.Context, userID domain.UserID) ([]domain.FollowEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.followEdgesByUser(ctx, s.db, userID)
}

func (s *Store) followEdgesByUser(ctx context.Context, q dbtx, userID domain.UserID) ([]domain.FollowEdge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, business_id, created_at
		FROM follow_edges WHERE user_id = ? ORDER BY id DESC`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list follow edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.FollowEdge
	for rows.Next() {
		var e domain.FollowEdge
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.BusinessID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) CountFollowEdges(ctx context.Context, businessID domain.BusinessID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countFollowEdges(ctx, s.db, businessID)
}

func (s *Store) countFollowEdges(ctx context.Context, q dbtx, businessID domain.BusinessID) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM follow_edges WHERE business_id = ?`,
		int64(businessID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count follow edges: %w", err)
	}
	return n, nil
}

// =============================================================================
// LOYALTY
// =============================================================================

func (s *Store) UpsertLoyaltyProgram(ctx context.Context, p *domain.LoyaltyProgram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLoyaltyProgram(ctx, s.db, p)
}

func (s *Store) upsertLoyaltyProgram(ctx context.Context, q dbtx, p *domain.LoyaltyProgram) error {
	ts := now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO loyalty_programs (business_id, name, points_per_dollar,
		                              reward_threshold, reward_description,
		                              is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(business_id) DO UPDATE SET
			name = excluded.name,
			points_per_dollar = excluded.points_per_dollar,
			reward_threshold = excluded.reward_threshold,
			reward_description = excluded.reward_description,
			is_active = excluded.is_active`,
		int64(p.BusinessID), p.Name, p.PointsPerDollar.String(),
		p.RewardThreshold, p.RewardDescription, p.IsActive, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert loyalty program: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = parseTime(ts)
	}
	return nil
}

func (s *Store) GetLoyaltyProgram(ctx context.Context, businessID domain.BusinessID) (*domain.LoyaltyProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLoyaltyProgram(ctx, s.db, businessID)
}

func (s *Store) getLoyaltyProgram(ctx context.Context, q dbtx, businessID domain.BusinessID) (*domain.LoyaltyProgram, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, business_id, name, points_per_dollar, reward_threshold,
		       reward_description, is_active, created_at
		FROM loyalty_programs WHERE business_id = ?`, int64(businessID))

	var p domain.LoyaltyProgram
	var perDollar, createdAt string
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &perDollar,
		&p.RewardThreshold, &p.RewardDescription, &p.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loyalty program: %w", err)
	}
	p.PointsPerDollar = domain.MustParseAmount(perDollar)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) GetLoyaltyAccount(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (*domain.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLoyaltyAccount(ctx, s.db, userID, businessID)
}

func (s *Store) getLoyaltyAccount(ctx context.Context, q dbtx, userID domain.UserID, businessID domain.BusinessID) (*domain.LoyaltyAccount, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, business_id, points, total_points_earned,
		       created_at, updated_at
		FROM loyalty_accounts WHERE user_id = ? AND business_id = ?`,
		string(userID), int64(businessID))
	return scanLoyaltyAccount(row)
}

func scanLoyaltyAccount(row *sql.Row) (*domain.LoyaltyAccount, error) {
	var a domain.LoyaltyAccount
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.UserID, &a.BusinessID, &a.Points,
		&a.TotalPointsEarned, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loyalty account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) InsertLoyaltyAccount(ctx context.Context, a *domain.LoyaltyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLoyaltyAccount(ctx, s.db, a)
}

func (s *Store) insertLoyaltyAccount(ctx context.Context, q dbtx, a *domain.LoyaltyAccount) error {
	ts := now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (user_id, business_id, points,
		                              total_points_earned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.UserID), int64(a.BusinessID), a.Points, a.TotalPointsEarned, ts, ts)
	if isUniqueConstraintError(err) {
		return &domain.ConflictError{Kind: "loyalty account", Message: "already joined this program"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert loyalty account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.CreatedAt = parseTime(ts)
	a.UpdatedAt = a.CreatedAt
	return nil
}

func (s *Store) AddLoyaltyPoints(ctx context.Context, userID domain.UserID, businessID domain.BusinessID, points int64) (*domain.LoyaltyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLoyaltyPoints(ctx, s.db, userID, businessID, points)
}

func (s *Store) addLoyaltyPoints(ctx context.Context, q dbtx, userID domain.UserID, businessID domain.BusinessID, points int64) (*domain.LoyaltyAccount, error) {
	// Both counters move by the same delta in one statement so the
	// points <= total_points_earned invariant cannot be observed broken.
	res, err := q.ExecContext(ctx, `
		UPDATE loyalty_accounts
		SET points = points + ?, total_points_earned = total_points_earned + ?,
		    updated_at = ?
		WHERE user_id = ? AND business_id = ?`,
		points, points, now(), string(userID), int64(businessID))
	if err != nil {
		return nil, fmt.Errorf("failed to add loyalty points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &domain.NotFoundError{Kind: "loyalty account",
			Key: fmt.Sprintf("%s/%d", userID, businessID)}
	}
	return s.getLoyaltyAccount(ctx, q, userID, businessID)
}

func (s *Store) LoyaltyAccountsByUser(ctx context.Context, userID domain.UserID) ([]domain.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loyaltyAccountsByUser(ctx, s.db, userID)
}

func (s *Store) loyaltyAccountsByUser(ctx context.Context, q dbtx, userID domain.UserID) ([]domain.LoyaltyAccount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, business_id, points, total_points_earned,
		       created_at, updated_at
		FROM loyalty_accounts WHERE user_id = ? ORDER BY id DESC`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list loyalty accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.LoyaltyAccount
	for rows.Next() {
		var a domain.LoyaltyAccount
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.BusinessID, &a.Points,
			&a.TotalPointsEarned, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// GIFT CARDS
// =============================================================================

func (s *Store) InsertGiftCard(ctx context.Context, c *domain.GiftCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertGiftCard(ctx, s.db, c)
}

func (s *Store) insertGiftCard(ctx context.Context, q dbtx, c *domain.GiftCard) error {
	amountCents, err := domain.ToCents(c.Amount)
	if err != nil {
		return err
	}
	balanceCents, err := domain.ToCents(c.Balance)
	if err != nil {
		return err
	}
	ts := now()
	_, err = q.ExecContext(ctx, `
		INSERT INTO gift_cards (id, business_id, purchased_by, recipient_email,
		                        message, amount_cents, balance_cents, code,
		                        status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, int64(c.BusinessID), string(c.PurchasedBy), c.RecipientEmail,
		c.Message, amountCents, balanceCents, c.Code,
		string(c.Status), nullTime(c.ExpiresAt), ts, ts)
	if isUniqueConstraintError(err) {
		return domain.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert gift card: %w", err)
	}
	c.CreatedAt = parseTime(ts)
	c.UpdatedAt = c.CreatedAt
	return nil
}

func (s *Store) GiftCardByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.giftCardByCode(ctx, s.db, code)
}

func (s *Store) giftCardByCode(ctx context.Context, q dbtx, code string) (*domain.GiftCard, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, business_id, purchased_by, recipient_email, message,
		       amount_cents, balance_cents, code, status, expires_at,
		       created_at, updated_at
		FROM gift_cards WHERE code = ?`, code)
	return scanGiftCard(row)
}

func scanGiftCard(row *sql.Row) (*domain.GiftCard, error) {
	var c domain.GiftCard
	var amountCents, balanceCents int64
	var expiresAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.BusinessID, &c.PurchasedBy, &c.RecipientEmail,
		&c.Message, &amountCents, &balanceCents, &c.Code, &c.Status,
		&expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gift card: %w", err)
	}
	c.Amount = domain.FromCents(amountCents)
	c.Balance = domain.FromCents(balanceCents)
	c.ExpiresAt = timePtr(expiresAt)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func (s *Store) DebitGiftCard(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitGiftCard(ctx, s.db, id, amount)
}

func (s *Store) debitGiftCard(ctx context.Context, q dbtx, id string, amount decimal.Decimal) (bool, error) {
	cents, err := domain.ToCents(amount)
	if err != nil {
		return false, err
	}
	// Guarded debit: the WHERE clause re-checks status and balance so two
	// redemptions racing on one card cannot both apply. The status flips
	// to redeemed in the same statement the balance lands on zero.
	res, err := q.ExecContext(ctx, `
		UPDATE gift_cards
		SET balance_cents = balance_cents - ?,
		    status = CASE WHEN balance_cents - ? = 0 THEN 'redeemed' ELSE status END,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND balance_cents >= ?`,
		cents, cents, now(), id, cents)
	if err != nil {
		return false, fmt.Errorf("failed to debit gift card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GiftCardsByUser(ctx context.Context, userID domain.UserID) ([]domain.GiftCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.giftCardsByUser(ctx, s.db, userID)
}

func (s *Store) giftCardsByUser(ctx context.Context, q dbtx, userID domain.UserID) ([]domain.GiftCard, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, business_id, purchased_by, recipient_email, message,
		       amount_cents, balance_cents, code, status, expires_at,
		       created_at, updated_at
		FROM gift_cards WHERE purchased_by = ? ORDER BY created_at DESC, id`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list gift cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.GiftCard
	for rows.Next() {
		var c domain.GiftCard
		var amountCents, balanceCents int64
		var expiresAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.PurchasedBy,
			&c.RecipientEmail, &c.Message, &amountCents, &balanceCents,
			&c.Code, &c.Status, &expiresAt, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.Amount = domain.FromCents(amountCents)
		c.Balance = domain.FromCents(balanceCents)
		c.ExpiresAt = timePtr(expiresAt)
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, q dbtx, e domain.Entry) error {
	var businessID any
	if e.BusinessID != 0 {
		businessID = int64(e.BusinessID)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, business_id, entry_type,
		                            amount, description, gift_card_id,
		                            provider_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.UserID), businessID, string(e.Type),
		e.Amount.String(), e.Description, nullString(e.GiftCardID),
		nullString(e.ProviderRef), now())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, user_id, business_id, entry_type, amount,
	description, gift_card_id, provider_ref, created_at`

func (s *Store) EntriesByUser(ctx context.Context, userID domain.UserID) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesByUser(ctx, s.db, userID)
}

func (s *Store) entriesByUser(ctx context.Context, q dbtx, userID domain.UserID) ([]domain.Entry, error) {
	// ULID ids sort by creation time, so id DESC is newest-first.
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE user_id = ? ORDER BY id DESC`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) EntriesByBusiness(ctx context.Context, businessID domain.BusinessID) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesByBusiness(ctx, s.db, businessID)
}

func (s *Store) entriesByBusiness(ctx context.Context, q dbtx, businessID domain.BusinessID) ([]domain.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE business_id = ? ORDER BY id DESC`,
		int64(businessID))
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var businessID sql.NullInt64
		var amount, createdAt string
		var giftCardID, providerRef sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &businessID, &e.Type,
			&amount, &e.Description, &giftCardID, &providerRef,
			&createdAt); err != nil {
			return nil, err
		}
		e.BusinessID = domain.BusinessID(businessID.Int64)
		e.Amount = domain.MustParseAmount(amount)
		e.GiftCardID = giftCardID.String
		e.ProviderRef = providerRef.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (s *Store) SubscriptionByAccount(ctx context.Context, accountID domain.UserID) (*domain.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionByAccount(ctx, s.db, accountID)
}

func (s *Store) subscriptionByAccount(ctx context.Context, q dbtx, accountID domain.UserID) (*domain.SubscriptionRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, plan_type, provider_customer_id,
		       provider_subscription_id, status, current_period_start,
		       current_period_end, created_at, updated_at
		FROM subscriptions WHERE account_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		string(accountID))
	return scanSubscription(row)
}

func (s *Store) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionByProviderID(ctx, s.db, providerSubscriptionID)
}

func (s *Store) subscriptionByProviderID(ctx context.Context, q dbtx, providerSubscriptionID string) (*domain.SubscriptionRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, plan_type, provider_customer_id,
		       provider_subscription_id, status, current_period_start,
		       current_period_end, created_at, updated_at
		FROM subscriptions WHERE provider_subscription_id = ?`,
		providerSubscriptionID)
	return scanSubscription(row)
}

func scanSubscription(row *sql.Row) (*domain.SubscriptionRecord, error) {
	var sub domain.SubscriptionRecord
	var periodStart, periodEnd sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.PlanType,
		&sub.ProviderCustomerID, &sub.ProviderSubscriptionID, &sub.Status,
		&periodStart, &periodEnd, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.CurrentPeriodStart = timePtr(periodStart)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.CreatedAt = parseTime(createdAt)
	sub.UpdatedAt = parseTime(updatedAt)
	return &sub, nil
}

func (s *Store) InsertSubscription(ctx context.Context, sub *domain.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSubscription(ctx, s.db, sub)
}

func (s *Store) insertSubscription(ctx context.Context, q dbtx, sub *domain.SubscriptionRecord) error {
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO subscriptions (id, account_id, plan_type,
		                           provider_customer_id, provider_subscription_id,
		                           status, current_period_start,
		                           current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, string(sub.AccountID), sub.PlanType,
		sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		string(sub.Status), nullTime(sub.CurrentPeriodStart),
		nullTime(sub.CurrentPeriodEnd), ts, ts)
	if isUniqueConstraintError(err) {
		return &domain.ConflictError{Kind: "subscription",
			Message: "provider subscription already recorded"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	sub.CreatedAt = parseTime(ts)
	sub.UpdatedAt = sub.CreatedAt
	return nil
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus, periodStart, periodEnd *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSubscriptionStatus(ctx, s.db, id, status, periodStart, periodEnd)
}

func (s *Store) updateSubscriptionStatus(ctx context.Context, q dbtx, id string, status domain.SubscriptionStatus, periodStart, periodEnd *time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?,
		    current_period_start = COALESCE(?, current_period_start),
		    current_period_end = COALESCE(?, current_period_end),
		    updated_at = ?
		WHERE id = ?`,
		string(status), nullTime(periodStart), nullTime(periodEnd), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: "subscription", Key: id}
	}
	return nil
}

// =============================================================================
// PROVIDER EVENTS
// =============================================================================

func (s *Store) InsertProviderEvent(ctx context.Context, e domain.ProviderEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertProviderEvent(ctx, s.db, e)
}

func (s *Store) insertProviderEvent(ctx context.Context, q dbtx, e domain.ProviderEvent) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO provider_events (id, event_type, processed_at)
		VALUES (?, ?, ?)`,
		e.ID, e.Type, now())
	if err != nil {
		return false, fmt.Errorf("failed to insert provider event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
