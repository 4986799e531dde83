package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/store"
)

// allocateAttempts bounds the internal re-pick loop when the chosen
// requisite loses eligibility between selection and commit.
const allocateAttempts = 3

// AllocationService matches a deposit request to one eligible requisite.
// Selection is uniform random over the eligible set, deliberately not
// priority-ordered, so load spreads across channel owners instead of
// starving any one channel.
type AllocationService struct {
	db    *pgxpool.Pool
	store *store.Store
}

func NewAllocationService(db *pgxpool.Pool, st *store.Store) *AllocationService {
	return &AllocationService{db: db, store: st}
}

// AllocationResult carries the created deposit and the descriptor of the
// requisite it was bound to.
type AllocationResult struct {
	Deposit   domain.Deposit   `json:"deposit"`
	Requisite domain.Requisite `json:"requisite"`
}

// Allocate selects an eligible requisite for the amount and, in one
// transaction, creates an active deposit bound to it and counts the
// allocation against the requisite's request cap. A nil ownerID means the
// global pool; a non-nil one scopes the lookup to that owner's channels.
// customRoute, when given, is the external routing key for the deposit;
// only one active or pending deposit may hold a key at a time.
func (s *AllocationService) Allocate(ctx context.Context, amount float64, ownerID *int64, customRoute string) (AllocationResult, error) {
	if math.IsNaN(amount) || amount <= 0 {
		return AllocationResult{}, store.ErrInvalidAmount
	}

	for attempt := 0; attempt < allocateAttempts; attempt++ {
		eligible, err := s.store.EligibleRequisites(ctx, amount, ownerID)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("eligible lookup: %w", err)
		}
		if len(eligible) == 0 {
			return AllocationResult{}, store.ErrNoEligibleChannel
		}

		pick := eligible[rand.IntN(len(eligible))]

		res, err := s.tryAllocate(ctx, pick.ID, amount, customRoute)
		if errors.Is(err, errRetryPick) {
			continue
		}
		return res, err
	}

	return AllocationResult{}, store.ErrConflict
}

// errRetryPick signals that the chosen requisite lost eligibility and the
// caller should re-pick from a fresh eligible set.
var errRetryPick = errors.New("requisite lost eligibility")

func (s *AllocationService) tryAllocate(ctx context.Context, requisiteID int64, amount float64, customRoute string) (AllocationResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := lockRequisite(ctx, tx, requisiteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AllocationResult{}, errRetryPick
		}
		return AllocationResult{}, err
	}

	// State may have moved between the snapshot query and this lock.
	if !r.Eligible(amount) {
		return AllocationResult{}, errRetryPick
	}

	if customRoute != "" {
		var held bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM deposits
				WHERE custom_route = $1 AND status IN ('active', 'pending'))`,
			customRoute).Scan(&held)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("route check failed: %w", err)
		}
		if held {
			// Re-picking cannot free the routing key.
			return AllocationResult{}, store.ErrConflict
		}
	}

	var d domain.Deposit
	err = tx.QueryRow(ctx, `
		INSERT INTO deposits (requisite_id, amount, bank, requisites, custom_route, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		RETURNING id, requisite_id, amount, bank, requisites, custom_route, status, created_at`,
		r.ID, amount, r.Bank, r.Requisites, customRoute).Scan(
		&d.ID, &d.RequisiteID, &d.Amount, &d.Bank, &d.Requisites,
		&d.CustomRoute, &d.Status, &d.CreatedAt)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("deposit insert failed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE requisites
		SET current_requests = current_requests + 1, last_used_at = now()
		WHERE id = $1`,
		r.ID)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("request count update failed: %w", err)
	}
	r.CurrentRequests++

	if err := tx.Commit(ctx); err != nil {
		return AllocationResult{}, fmt.Errorf("tx commit failed: %w", err)
	}

	return AllocationResult{Deposit: d, Requisite: r}, nil
}
