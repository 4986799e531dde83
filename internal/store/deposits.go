package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ivlasenkov/requiroute/internal/domain"
)

const depositColumns = `id, requisite_id, amount, bank, requisites, custom_route, status, created_at`

func scanDeposit(row pgx.Row) (domain.Deposit, error) {
	var d domain.Deposit
	err := row.Scan(
		&d.ID,
		&d.RequisiteID,
		&d.Amount,
		&d.Bank,
		&d.Requisites,
		&d.CustomRoute,
		&d.Status,
		&d.CreatedAt,
	)
	return d, err
}

// GetDeposit retrieves a single deposit by ID.
func (s *Store) GetDeposit(ctx context.Context, id int64) (domain.Deposit, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE id = $1", id)
	d, err := scanDeposit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deposit{}, ErrNotFound
		}
		return domain.Deposit{}, err
	}
	return d, nil
}

// ListDepositsForOwner returns deposits bound to any of the owner's
// requisites, optionally filtered by status, newest first.
func (s *Store) ListDepositsForOwner(ctx context.Context, ownerID int64, status string, limit int) ([]domain.Deposit, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT d.id, d.requisite_id, d.amount, d.bank, d.requisites, d.custom_route, d.status, d.created_at
		FROM deposits d
		JOIN requisites r ON r.id = d.requisite_id
		WHERE r.owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += " AND d.status = $2"
		args = append(args, status)
	}
	query += " ORDER BY d.created_at DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountOpenDeposits returns how many active or pending deposits reference
// the requisite. Used to reject deletion while allocations are in flight.
func (s *Store) CountOpenDeposits(ctx context.Context, requisiteID int64) (int, error) {
	var count int
	err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM deposits WHERE requisite_id = $1 AND status IN ('active', 'pending')",
		requisiteID).Scan(&count)
	return count, err
}
