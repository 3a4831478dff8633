/*
Package follow maintains the user-follows-business graph and the
denormalized follower counter on each business.

PURPOSE:
  Edges are the source of truth; Business.FollowerCount is a materialized
  count kept fast for reads. The counter moves only inside the same store
  transaction as the edge mutation - nothing else recomputes it, so a
  partial update would corrupt it permanently.

INVARIANT:
  followerCount == number of FollowEdge rows for the business, at every
  observation point.

EDGE SEMANTICS:
  Follow twice  -> ConflictError on the second call, counter bumped once.
  Unfollow when not following -> no-op, counter untouched.
*/
package follow

import (
	"context"
	"fmt"

	"github.com/localspot/localspot/domain"
)

// Graph is the follow-graph engine.
type Graph struct {
	store domain.TxStore
}

func New(store domain.TxStore) *Graph {
	return &Graph{store: store}
}

// Follow creates the edge and increments the business's follower counter
// in one transaction. Fails with ConflictError when already following and
// NotFoundError when the business does not exist.
func (g *Graph) Follow(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (domain.FollowEdge, error) {
	edge := domain.FollowEdge{UserID: userID, BusinessID: businessID}

	err := g.store.WithTx(ctx, func(tx domain.Store) error {
		b, err := tx.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if b == nil {
			return &domain.NotFoundError{Kind: "business", Key: fmt.Sprint(businessID)}
		}
		if err := tx.InsertFollowEdge(ctx, &edge); err != nil {
			return err
		}
		return tx.AdjustFollowerCount(ctx, businessID, +1)
	})
	if err != nil {
		return domain.FollowEdge{}, err
	}
	return edge, nil
}

// Unfollow removes the edge and decrements the counter, both or neither.
// Unfollowing a business never followed is a no-op, not an error.
func (g *Graph) Unfollow(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) error {
	return g.store.WithTx(ctx, func(tx domain.Store) error {
		deleted, err := tx.DeleteFollowEdge(ctx, userID, businessID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		return tx.AdjustFollowerCount(ctx, businessID, -1)
	})
}

// IsFollowing reports whether the edge exists.
func (g *Graph) IsFollowing(ctx context.Context, userID domain.UserID, businessID domain.BusinessID) (bool, error) {
	return g.store.FollowEdgeExists(ctx, userID, businessID)
}

// ListForUser returns the user's follow edges.
func (g *Graph) ListForUser(ctx context.Context, userID domain.UserID) ([]domain.FollowEdge, error) {
	return g.store.FollowEdgesByUser(ctx, userID)
}

// RecountResult reports one repaired business counter.
type RecountResult struct {
	BusinessID domain.BusinessID `json:"businessId"`
	Before     int64             `json:"before"`
	After      int64             `json:"after"`
}

// Recount is the offline repair pass: it recomputes every follower
// counter from the edges and rewrites the ones that drifted. It is never
// run automatically; if it ever reports a repair, the atomic-unit
// guarantee has been broken somewhere and that is the bug to chase.
func (g *Graph) Recount(ctx context.Context) ([]RecountResult, error) {
	ids, err := g.store.ListBusinessIDs(ctx)
	if err != nil {
		return nil, err
	}

	var repaired []RecountResult
	for _, id := range ids {
		id := id
		err := g.store.WithTx(ctx, func(tx domain.Store) error {
			b, err := tx.GetBusiness(ctx, id)
			if err != nil || b == nil {
				return err
			}
			actual, err := tx.CountFollowEdges(ctx, id)
			if err != nil {
				return err
			}
			if actual == b.FollowerCount {
				return nil
			}
			if err := tx.SetFollowerCount(ctx, id, actual); err != nil {
				return err
			}
			repaired = append(repaired, RecountResult{BusinessID: id, Before: b.FollowerCount, After: actual})
			return nil
		})
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}
