package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/store"
)

// RequisiteService manages the channel owner's side of the pool:
// registering requisites, editing them, toggling them, and the aggregate
// wallet switch. The allocator only ever touches usage fields; everything
// identity- or ownership-shaped goes through here.
type RequisiteService struct {
	db   *pgxpool.Pool
	rate float64
}

func NewRequisiteService(db *pgxpool.Pool, usdtRate float64) *RequisiteService {
	return &RequisiteService{db: db, rate: usdtRate}
}

// RequisiteInput carries the owner-supplied fields for create and update.
type RequisiteInput struct {
	Name        string  `json:"name"`
	Bank        string  `json:"bank"`
	Requisites  string  `json:"requisites"`
	Comment     string  `json:"comment"`
	CustomRoute string  `json:"custom_route"`
	Limit       float64 `json:"limit"`
	MaxRequests int32   `json:"max_requests"`
}

func (in *RequisiteInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Bank = strings.TrimSpace(in.Bank)
	in.Requisites = strings.TrimSpace(in.Requisites)
	in.Comment = strings.TrimSpace(in.Comment)
	in.CustomRoute = strings.TrimSpace(in.CustomRoute)
}

func (in *RequisiteInput) validate() error {
	if in.Name == "" || in.Bank == "" || in.Requisites == "" {
		return store.ErrInvalidInput
	}
	if in.Limit <= 0 {
		return store.ErrInvalidInput
	}
	if in.MaxRequests <= 0 {
		return store.ErrInvalidInput
	}
	return nil
}

// Create registers a new requisite. The declared limit is checked against
// the owner's convertible balance minus limits already pledged to other
// active requisites, with the owner row locked so two concurrent creates
// cannot both pass. The requisite starts active only when the owner's
// wallet switch is on.
func (s *RequisiteService) Create(ctx context.Context, ownerID int64, in RequisiteInput) (domain.Requisite, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Requisite{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	walletEnabled, usdtBalance, err := lockOwner(ctx, tx, ownerID)
	if err != nil {
		return domain.Requisite{}, err
	}

	pledged, err := sumActiveLimits(ctx, tx, ownerID, 0)
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("sum active limits: %w", err)
	}
	if in.Limit > usdtBalance*s.rate-pledged {
		return domain.Requisite{}, store.ErrOwnerLimitExceeded
	}

	route := in.CustomRoute
	if route == "" {
		route = "pay/" + uuid.NewString()
	}
	var taken bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM requisites WHERE custom_route = $1)", route).Scan(&taken)
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("route check failed: %w", err)
	}
	if taken {
		return domain.Requisite{}, store.ErrRouteTaken
	}

	r, err := scanFullRequisite(tx.QueryRow(ctx, `
		INSERT INTO requisites
			(owner_id, name, bank, requisites, comment, custom_route,
			 limit_amount, max_requests, is_active, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'available')
		RETURNING id, owner_id, name, bank, requisites, comment, custom_route,
			limit_amount, used_amount, max_requests, current_requests,
			is_active, status, created_at, last_used_at`,
		ownerID, in.Name, in.Bank, in.Requisites, in.Comment, route,
		in.Limit, in.MaxRequests, walletEnabled))
	if err != nil {
		// A concurrent create can win the route between the check and the
		// insert; the unique index is the arbiter.
		if isUniqueViolation(err) {
			return domain.Requisite{}, store.ErrRouteTaken
		}
		return domain.Requisite{}, fmt.Errorf("requisite insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Requisite{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return r, nil
}

// Update edits a requisite's metadata and limit. The routing key is
// immutable. A raised limit re-runs the owner-limit check excluding this
// requisite's own pledge.
func (s *RequisiteService) Update(ctx context.Context, ownerID, requisiteID int64, in RequisiteInput) (domain.Requisite, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return domain.Requisite{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockRequisite(ctx, tx, requisiteID)
	if err != nil {
		return domain.Requisite{}, err
	}
	if current.OwnerID != ownerID {
		return domain.Requisite{}, store.ErrForbidden
	}

	if in.Limit != current.Limit && current.IsActive {
		_, usdtBalance, err := lockOwner(ctx, tx, ownerID)
		if err != nil {
			return domain.Requisite{}, err
		}
		pledged, err := sumActiveLimits(ctx, tx, ownerID, requisiteID)
		if err != nil {
			return domain.Requisite{}, fmt.Errorf("sum active limits: %w", err)
		}
		if in.Limit > usdtBalance*s.rate-pledged {
			return domain.Requisite{}, store.ErrOwnerLimitExceeded
		}
	}

	r, err := scanFullRequisite(tx.QueryRow(ctx, `
		UPDATE requisites
		SET name = $1, bank = $2, requisites = $3, comment = $4,
		    limit_amount = $5, max_requests = $6
		WHERE id = $7
		RETURNING id, owner_id, name, bank, requisites, comment, custom_route,
			limit_amount, used_amount, max_requests, current_requests,
			is_active, status, created_at, last_used_at`,
		in.Name, in.Bank, in.Requisites, in.Comment, in.Limit, in.MaxRequests,
		requisiteID))
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("requisite update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Requisite{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return r, nil
}

// Toggle flips a requisite's activity. Activation is rejected while the
// owner's wallet switch is off, when the capacity is already spent, or
// when re-pledging the limit would oversubscribe the owner's balance.
// Deactivation also moves the status to disabled.
func (s *RequisiteService) Toggle(ctx context.Context, ownerID, requisiteID int64) (domain.Requisite, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := lockRequisite(ctx, tx, requisiteID)
	if err != nil {
		return domain.Requisite{}, err
	}
	if r.OwnerID != ownerID {
		return domain.Requisite{}, store.ErrForbidden
	}

	activating := !r.IsActive
	if activating {
		walletEnabled, usdtBalance, err := lockOwner(ctx, tx, ownerID)
		if err != nil {
			return domain.Requisite{}, err
		}
		if !walletEnabled {
			return domain.Requisite{}, store.ErrWalletDisabled
		}
		if r.Exhausted() {
			return domain.Requisite{}, store.ErrLimitExceeded
		}
		pledged, err := sumActiveLimits(ctx, tx, ownerID, requisiteID)
		if err != nil {
			return domain.Requisite{}, fmt.Errorf("sum active limits: %w", err)
		}
		if r.Limit > usdtBalance*s.rate-pledged {
			return domain.Requisite{}, store.ErrOwnerLimitExceeded
		}
	}

	status := domain.StatusDisabled
	if activating {
		status = domain.StatusAvailable
	}

	r, err = scanFullRequisite(tx.QueryRow(ctx, `
		UPDATE requisites
		SET is_active = $1, status = $2
		WHERE id = $3
		RETURNING id, owner_id, name, bank, requisites, comment, custom_route,
			limit_amount, used_amount, max_requests, current_requests,
			is_active, status, created_at, last_used_at`,
		activating, status, requisiteID))
	if err != nil {
		return domain.Requisite{}, fmt.Errorf("requisite update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Requisite{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return r, nil
}

// SetWalletSwitch flips the owner-level gate. Turning it off disables
// every currently-active requisite of the owner in the same transaction.
// Turning it back on reactivates nothing; each requisite must be toggled
// on explicitly.
func (s *RequisiteService) SetWalletSwitch(ctx context.Context, ownerID int64, enabled bool) (domain.Owner, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, _, err := lockOwner(ctx, tx, ownerID); err != nil {
		return domain.Owner{}, err
	}

	var o domain.Owner
	err = tx.QueryRow(ctx, `
		UPDATE owners SET wallet_enabled = $1 WHERE id = $2
		RETURNING id, login, wallet_enabled, usdt_balance, rub_balance, created_at`,
		enabled, ownerID).Scan(
		&o.ID, &o.Login, &o.WalletEnabled, &o.UsdtBalance, &o.RubBalance, &o.CreatedAt)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("owner update failed: %w", err)
	}

	if !enabled {
		_, err = tx.Exec(ctx, `
			UPDATE requisites
			SET is_active = FALSE, status = 'disabled'
			WHERE owner_id = $1 AND is_active`,
			ownerID)
		if err != nil {
			return domain.Owner{}, fmt.Errorf("requisite cascade failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Owner{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return o, nil
}

// Delete removes a requisite and its settled history. Removal is rejected
// while any active or pending deposit still references the requisite.
func (s *RequisiteService) Delete(ctx context.Context, ownerID, requisiteID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := lockRequisite(ctx, tx, requisiteID)
	if err != nil {
		return err
	}
	if r.OwnerID != ownerID {
		return store.ErrForbidden
	}

	var open int
	err = tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM deposits WHERE requisite_id = $1 AND status IN ('active', 'pending')",
		requisiteID).Scan(&open)
	if err != nil {
		return fmt.Errorf("open deposit check failed: %w", err)
	}
	if open > 0 {
		return store.ErrConflict
	}

	if _, err := tx.Exec(ctx, "DELETE FROM deposits WHERE requisite_id = $1", requisiteID); err != nil {
		return fmt.Errorf("deposit cascade failed: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM requisites WHERE id = $1", requisiteID); err != nil {
		return fmt.Errorf("requisite delete failed: %w", err)
	}

	return tx.Commit(ctx)
}

func lockRequisite(ctx context.Context, tx pgx.Tx, id int64) (domain.Requisite, error) {
	r, err := scanFullRequisite(tx.QueryRow(ctx, `
		SELECT id, owner_id, name, bank, requisites, comment, custom_route,
			limit_amount, used_amount, max_requests, current_requests,
			is_active, status, created_at, last_used_at
		FROM requisites WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Requisite{}, store.ErrNotFound
		}
		return domain.Requisite{}, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanFullRequisite(row pgx.Row) (domain.Requisite, error) {
	var r domain.Requisite
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Name, &r.Bank, &r.Requisites, &r.Comment,
		&r.CustomRoute, &r.Limit, &r.UsedAmount, &r.MaxRequests,
		&r.CurrentRequests, &r.IsActive, &r.Status, &r.CreatedAt, &r.LastUsedAt)
	return r, err
}
