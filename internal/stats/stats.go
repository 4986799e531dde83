// Package stats records allocation outcomes for operational dashboards.
// Recorders are best-effort: a failed write never fails the allocation.
package stats

import (
	"context"
	"time"
)

// Outcome classifies how an allocation request ended.
type Outcome string

const (
	OutcomeAllocated Outcome = "allocated"
	OutcomeNoChannel Outcome = "no_channel"
	OutcomeConflict  Outcome = "conflict"
	OutcomeRejected  Outcome = "rejected"
)

// Event is one allocation decision.
type Event struct {
	Outcome Outcome
	Amount  float64
	At      time.Time
}

// Recorder persists allocation events somewhere queryable.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}
