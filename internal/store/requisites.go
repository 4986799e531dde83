package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ivlasenkov/requiroute/internal/domain"
)

const requisiteColumns = `id, owner_id, name, bank, requisites, comment, custom_route,
	limit_amount, used_amount, max_requests, current_requests, is_active, status,
	created_at, last_used_at`

func scanRequisite(row pgx.Row) (domain.Requisite, error) {
	var r domain.Requisite
	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.Name,
		&r.Bank,
		&r.Requisites,
		&r.Comment,
		&r.CustomRoute,
		&r.Limit,
		&r.UsedAmount,
		&r.MaxRequests,
		&r.CurrentRequests,
		&r.IsActive,
		&r.Status,
		&r.CreatedAt,
		&r.LastUsedAt,
	)
	return r, err
}

// GetRequisite retrieves a single requisite by ID.
func (s *Store) GetRequisite(ctx context.Context, id int64) (domain.Requisite, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+requisiteColumns+" FROM requisites WHERE id = $1", id)
	r, err := scanRequisite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Requisite{}, ErrNotFound
		}
		return domain.Requisite{}, err
	}
	return r, nil
}

// GetRequisiteByRoute retrieves a requisite by its unique routing key.
func (s *Store) GetRequisiteByRoute(ctx context.Context, route string) (domain.Requisite, error) {
	row := s.Db.QueryRow(ctx,
		"SELECT "+requisiteColumns+" FROM requisites WHERE custom_route = $1", route)
	r, err := scanRequisite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Requisite{}, ErrNotFound
		}
		return domain.Requisite{}, err
	}
	return r, nil
}

// ListRequisitesByOwner returns all of an owner's requisites, newest first.
func (s *Store) ListRequisitesByOwner(ctx context.Context, ownerID int64) ([]domain.Requisite, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+requisiteColumns+" FROM requisites WHERE owner_id = $1 ORDER BY created_at DESC",
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Requisite
	for rows.Next() {
		r, err := scanRequisite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EligibleRequisites returns every requisite that could currently receive
// a deposit of the given amount. With a non-nil ownerID the lookup is
// scoped to that owner's pool, otherwise it spans all owners. The result
// is a snapshot; the allocator re-validates under its own transaction.
func (s *Store) EligibleRequisites(ctx context.Context, amount float64, ownerID *int64) ([]domain.Requisite, error) {
	query := "SELECT " + requisiteColumns + ` FROM requisites
		WHERE is_active
		  AND status = 'available'
		  AND limit_amount - used_amount >= $1
		  AND current_requests < max_requests`
	args := []any{amount}
	if ownerID != nil {
		query += " AND owner_id = $2"
		args = append(args, *ownerID)
	}

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Requisite
	for rows.Next() {
		r, err := scanRequisite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
