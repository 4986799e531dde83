package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ivlasenkov/requiroute/internal/store"
)

// LimitService answers owner-level capacity questions: how much of the
// owner's convertible balance is not yet pledged as requisite limits.
// Reads here are snapshots; mutating paths re-run the same arithmetic
// inside their own transaction with the owner row locked.
type LimitService struct {
	store *store.Store
	rate  float64
}

func NewLimitService(st *store.Store, usdtRate float64) *LimitService {
	return &LimitService{store: st, rate: usdtRate}
}

// AvailableOwnerLimit returns ownerConvertedBalance minus the sum of the
// owner's other active requisite limits. excludeRequisiteID can be 0, or
// the requisite being edited so its own limit does not count against it.
func (l *LimitService) AvailableOwnerLimit(ctx context.Context, ownerID, excludeRequisiteID int64) (float64, error) {
	owner, err := l.store.GetOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	var pledged float64
	err = l.store.Db.QueryRow(ctx, `
		SELECT COALESCE(SUM(limit_amount), 0)
		FROM requisites
		WHERE owner_id = $1 AND is_active AND id <> $2`,
		ownerID, excludeRequisiteID).Scan(&pledged)
	if err != nil {
		return 0, fmt.Errorf("sum active limits: %w", err)
	}

	return owner.UsdtBalance*l.rate - pledged, nil
}

// sumActiveLimits is the transaction-scoped leg of the owner-limit check.
// Callers must already hold the owner row lock so concurrent requisite
// creation cannot oversubscribe the balance.
func sumActiveLimits(ctx context.Context, tx pgx.Tx, ownerID, excludeRequisiteID int64) (float64, error) {
	var pledged float64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(limit_amount), 0)
		FROM requisites
		WHERE owner_id = $1 AND is_active AND id <> $2`,
		ownerID, excludeRequisiteID).Scan(&pledged)
	return pledged, err
}

// lockOwner reads the owner row under FOR UPDATE.
func lockOwner(ctx context.Context, tx pgx.Tx, ownerID int64) (walletEnabled bool, usdtBalance float64, err error) {
	err = tx.QueryRow(ctx,
		"SELECT wallet_enabled, usdt_balance FROM owners WHERE id = $1 FOR UPDATE",
		ownerID).Scan(&walletEnabled, &usdtBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, store.ErrNotFound
	}
	return walletEnabled, usdtBalance, err
}
