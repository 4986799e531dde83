package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ivlasenkov/requiroute/internal/store"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// statusForError maps the service error taxonomy to HTTP statuses. Every
// typed error surfaces unchanged as a response message; only unexpected
// errors collapse to 500.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_requisite_data"
	case errors.Is(err, store.ErrNoEligibleChannel):
		return http.StatusNotFound, "no_eligible_channel"
	case errors.Is(err, store.ErrLimitExceeded):
		return http.StatusUnprocessableEntity, "limit_exceeded"
	case errors.Is(err, store.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrRouteTaken):
		return http.StatusConflict, "route_taken"
	case errors.Is(err, store.ErrOwnerLimitExceeded):
		return http.StatusUnprocessableEntity, "owner_limit_exceeded"
	case errors.Is(err, store.ErrWalletDisabled):
		return http.StatusConflict, "wallet_disabled"
	case errors.Is(err, store.ErrOwnerExists):
		return http.StatusConflict, "owner_exists"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
