package store

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidInput       = errors.New("invalid requisite data")
	ErrNoEligibleChannel  = errors.New("no eligible channel")
	ErrLimitExceeded      = errors.New("requisite limit exceeded")
	ErrAlreadySettled     = errors.New("deposit already settled")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("concurrent modification")
	ErrForbidden          = errors.New("forbidden")
	ErrRouteTaken         = errors.New("custom route already in use")
	ErrOwnerLimitExceeded = errors.New("owner limit exceeded")
	ErrWalletDisabled     = errors.New("wallet disabled")
	ErrOwnerExists        = errors.New("owner exists")
)
