package domain

import "time"

// Requisite statuses.
const (
	StatusAvailable = "available"
	StatusInUse     = "in_use"
	StatusCompleted = "completed"
	StatusDisabled  = "disabled"
)

// Deposit statuses.
const (
	DepositActive    = "active"
	DepositPending   = "pending"
	DepositCompleted = "completed"
	DepositCanceled  = "canceled"
)

// LimitEpsilon absorbs floating rounding when deciding whether a
// requisite's capacity is exhausted.
const LimitEpsilon = 0.01

// Requisite is one payment channel with a capacity limit, owned by an
// account. Usage fields only ever grow while the requisite is active.
type Requisite struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	Name            string     `json:"name"`
	Bank            string     `json:"bank"`
	Requisites      string     `json:"requisites"`
	Comment         string     `json:"comment"`
	CustomRoute     string     `json:"custom_route"`
	Limit           float64    `json:"limit"`
	UsedAmount      float64    `json:"used_amount"`
	MaxRequests     int32      `json:"max_requests"`
	CurrentRequests int32      `json:"current_requests"`
	IsActive        bool       `json:"is_active"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// AvailableLimit is the remaining capacity, never negative.
func (r *Requisite) AvailableLimit() float64 {
	remaining := r.Limit - r.UsedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Eligible reports whether the requisite can receive a deposit of the
// given amount right now. Callers must re-validate under the transaction
// that performs the allocation; this is a read over possibly stale state.
func (r *Requisite) Eligible(amount float64) bool {
	return r.IsActive &&
		r.Status == StatusAvailable &&
		r.AvailableLimit() >= amount &&
		r.CurrentRequests < r.MaxRequests
}

// Exhausted reports whether the remaining capacity is within the rounding
// tolerance of zero.
func (r *Requisite) Exhausted() bool {
	return r.AvailableLimit() <= LimitEpsilon
}

// Deposit is one allocation of an incoming payment request to a
// requisite. Bank and requisite strings are denormalized at allocation
// time so the display stays stable even if the requisite is later edited.
type Deposit struct {
	ID          int64     `json:"id"`
	RequisiteID int64     `json:"requisite_id"`
	Amount      float64   `json:"amount"`
	Bank        string    `json:"bank"`
	Requisites  string    `json:"requisites"`
	CustomRoute string    `json:"custom_route"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Terminal reports whether the deposit has reached a final status.
func (d *Deposit) Terminal() bool {
	return d.Status == DepositCompleted || d.Status == DepositCanceled
}

// Open reports whether the deposit still holds its routing key.
func (d *Deposit) Open() bool {
	return d.Status == DepositActive || d.Status == DepositPending
}

// Owner is the account a requisite belongs to. WalletEnabled gates all of
// the owner's requisites at once.
type Owner struct {
	ID            int64     `json:"id"`
	Login         string    `json:"login"`
	WalletEnabled bool      `json:"wallet_enabled"`
	UsdtBalance   float64   `json:"usdt_balance"`
	RubBalance    float64   `json:"rub_balance"`
	CreatedAt     time.Time `json:"created_at"`
}
