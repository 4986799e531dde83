package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ivlasenkov/requiroute/internal/domain"
)

const ownerColumns = `id, login, wallet_enabled, usdt_balance, rub_balance, created_at`

func scanOwner(row pgx.Row) (domain.Owner, error) {
	var o domain.Owner
	err := row.Scan(
		&o.ID,
		&o.Login,
		&o.WalletEnabled,
		&o.UsdtBalance,
		&o.RubBalance,
		&o.CreatedAt,
	)
	return o, err
}

// GetOwner retrieves a single owner by ID.
func (s *Store) GetOwner(ctx context.Context, id int64) (domain.Owner, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+ownerColumns+" FROM owners WHERE id = $1", id)
	o, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Owner{}, ErrNotFound
		}
		return domain.Owner{}, err
	}
	return o, nil
}

// CreateOwner registers a channel owner with a starting settlement-currency
// balance. The wallet switch starts off.
func (s *Store) CreateOwner(ctx context.Context, login string, usdtBalance float64) (domain.Owner, error) {
	row := s.Db.QueryRow(ctx, `
		INSERT INTO owners (login, usdt_balance)
		VALUES ($1, $2)
		RETURNING `+ownerColumns,
		login, usdtBalance)
	o, err := scanOwner(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Owner{}, ErrOwnerExists
		}
		return domain.Owner{}, err
	}
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
