package reconciler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ivlasenkov/requiroute/internal/domain"
)

var (
	retiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requiroute_reconciler_retired_total",
		Help: "Requisites retired by the reconciler sweep",
	})

	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requiroute_reconciler_errors_total",
		Help: "Per-requisite reconciliation failures",
	})
)

type Logger interface {
	Printf(format string, v ...any)
}

// Reconciler periodically retires active requisites whose remaining
// capacity has drifted to (or below) the rounding tolerance. Confirm
// already retires inline, so a sweep finding work means some settlement
// path updated usage without re-checking exhaustion.
type Reconciler struct {
	db       *pgxpool.Pool
	interval time.Duration
	logger   Logger
}

func New(db *pgxpool.Pool, interval time.Duration, logger Logger) *Reconciler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Reconciler{db: db, interval: interval, logger: logger}
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			retired, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Printf("reconciler sweep error: %v", err)
				continue
			}
			if retired > 0 {
				r.logger.Printf("reconciler retired %d exhausted requisites", retired)
			}
		}
	}
}

// Sweep checks every active requisite and retires the exhausted ones.
// Each requisite is reconciled in its own atomic statement, so a failure
// or interruption mid-sweep leaves no partial state; the sweep logs and
// continues past individual failures.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	rows, err := r.db.Query(ctx, "SELECT id FROM requisites WHERE is_active")
	if err != nil {
		return 0, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	retired := 0
	for _, id := range ids {
		tag, err := r.db.Exec(ctx, `
			UPDATE requisites
			SET is_active = FALSE, status = 'completed'
			WHERE id = $1 AND is_active AND limit_amount - used_amount <= $2`,
			id, domain.LimitEpsilon)
		if err != nil {
			sweepErrors.Inc()
			r.logger.Printf("reconcile requisite %d: %v", id, err)
			continue
		}
		if tag.RowsAffected() > 0 {
			retired++
			retiredTotal.Inc()
			r.logger.Printf("requisite %d retired: limit exhausted", id)
		}
	}

	return retired, nil
}
