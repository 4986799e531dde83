package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/store"
)

// DepositService drives a deposit through its status lifecycle and keeps
// the bound requisite's usage counters consistent with it. Every
// transition runs as one transaction: deposit row first, then requisite,
// then owner, always in that order.
type DepositService struct {
	db   *pgxpool.Pool
	rate float64
}

func NewDepositService(db *pgxpool.Pool, usdtRate float64) *DepositService {
	return &DepositService{db: db, rate: usdtRate}
}

func lockDeposit(ctx context.Context, tx pgx.Tx, id int64) (domain.Deposit, error) {
	var d domain.Deposit
	err := tx.QueryRow(ctx, `
		SELECT id, requisite_id, amount, bank, requisites, custom_route, status, created_at
		FROM deposits WHERE id = $1 FOR UPDATE`,
		id).Scan(
		&d.ID, &d.RequisiteID, &d.Amount, &d.Bank, &d.Requisites,
		&d.CustomRoute, &d.Status, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deposit{}, store.ErrNotFound
		}
		return domain.Deposit{}, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return d, nil
}

// Confirm settles a deposit. The settled amount is applied as given; it
// may differ from the amount requested at allocation time and overwrites
// it. In one transaction the deposit completes, the requisite's used
// amount grows, the owner's balance is debited at the conversion rate,
// and the requisite retires if its capacity or request cap is spent.
func (s *DepositService) Confirm(ctx context.Context, depositID int64, settledAmount float64) (domain.Deposit, error) {
	if math.IsNaN(settledAmount) || settledAmount <= 0 {
		return domain.Deposit{}, store.ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := lockDeposit(ctx, tx, depositID)
	if err != nil {
		return domain.Deposit{}, err
	}

	switch d.Status {
	case domain.DepositCompleted:
		return domain.Deposit{}, store.ErrAlreadySettled
	case domain.DepositCanceled:
		return d, nil
	}

	var (
		ownerID                 int64
		limit, used             float64
		maxRequests, currentReq int32
	)
	err = tx.QueryRow(ctx, `
		SELECT owner_id, limit_amount, used_amount, max_requests, current_requests
		FROM requisites WHERE id = $1 FOR UPDATE`,
		d.RequisiteID).Scan(&ownerID, &limit, &used, &maxRequests, &currentReq)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("lock acquisition failed: %w", err)
	}

	if used+settledAmount > limit {
		return domain.Deposit{}, store.ErrLimitExceeded
	}

	_, err = tx.Exec(ctx,
		"UPDATE deposits SET status = 'completed', amount = $1 WHERE id = $2",
		settledAmount, d.ID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit update failed: %w", err)
	}

	newUsed := used + settledAmount
	retired := limit-newUsed <= domain.LimitEpsilon || currentReq >= maxRequests
	if retired {
		_, err = tx.Exec(ctx, `
			UPDATE requisites
			SET used_amount = $1, last_used_at = now(), is_active = FALSE, status = 'completed'
			WHERE id = $2`,
			newUsed, d.RequisiteID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE requisites
			SET used_amount = $1, last_used_at = now()
			WHERE id = $2`,
			newUsed, d.RequisiteID)
	}
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("usage update failed: %w", err)
	}

	// Symmetric debit: the channel owner received the fiat payment, so
	// their ledger balance shrinks by it and the settlement-currency
	// balance shrinks proportionally.
	_, err = tx.Exec(ctx, `
		UPDATE owners
		SET rub_balance = rub_balance - $1, usdt_balance = usdt_balance - $2
		WHERE id = $3`,
		settledAmount, settledAmount/s.rate, ownerID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("owner debit failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Deposit{}, fmt.Errorf("tx commit failed: %w", err)
	}

	d.Status = domain.DepositCompleted
	d.Amount = settledAmount
	return d, nil
}

// MarkPending moves an active deposit under review. Calls against a
// deposit in any other status return it unchanged.
func (s *DepositService) MarkPending(ctx context.Context, depositID int64) (domain.Deposit, error) {
	return s.transition(ctx, depositID, domain.DepositPending, domain.DepositActive)
}

// Cancel closes an active or pending deposit without touching the bound
// requisite's usage: the allocation attempt already consumed its request
// slot, and capacity is never released back. Terminal deposits are
// returned as they are.
func (s *DepositService) Cancel(ctx context.Context, depositID int64) (domain.Deposit, error) {
	return s.transition(ctx, depositID, domain.DepositCanceled, domain.DepositActive, domain.DepositPending)
}

func (s *DepositService) transition(ctx context.Context, depositID int64, to string, from ...string) (domain.Deposit, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := lockDeposit(ctx, tx, depositID)
	if err != nil {
		return domain.Deposit{}, err
	}

	eligible := false
	for _, f := range from {
		if d.Status == f {
			eligible = true
			break
		}
	}
	if !eligible {
		return d, nil
	}

	_, err = tx.Exec(ctx, "UPDATE deposits SET status = $1 WHERE id = $2", to, d.ID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Deposit{}, fmt.Errorf("tx commit failed: %w", err)
	}

	d.Status = to
	return d, nil
}
