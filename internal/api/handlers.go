package api

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/stats"
	"github.com/ivlasenkov/requiroute/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requiroute_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "requiroute_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requiroute_allocations_total",
		Help: "Allocation requests by outcome",
	}, []string{"outcome"})
)

type createDepositRequest struct {
	Amount      float64 `json:"amount"`
	CustomRoute string  `json:"custom_route"`
}

type confirmDepositRequest struct {
	Amount float64 `json:"amount"`
}

// CreateDeposit allocates an incoming deposit request to one eligible
// requisite. Without an owner header the whole pool is considered; with
// one, only that owner's channels.
func (s *Server) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/deposits"))
	defer timer.ObserveDuration()

	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordAllocation(r, stats.OutcomeRejected, req.Amount)
		s.respond(w, "POST", "/deposits", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}

	var scope *int64
	if ownerID, ok := ownerFromRequest(r); ok {
		scope = &ownerID
	}

	res, err := s.alloc.Allocate(r.Context(), req.Amount, scope, req.CustomRoute)
	if err != nil {
		outcome := stats.OutcomeRejected
		switch {
		case err == store.ErrNoEligibleChannel:
			outcome = stats.OutcomeNoChannel
		case err == store.ErrConflict:
			outcome = stats.OutcomeConflict
		}
		s.recordAllocation(r, outcome, req.Amount)

		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("allocate error: %v", err)
		}
		s.logEvent("deposit_allocate_failed", map[string]any{
			"reason": msg,
			"amount": req.Amount,
		})
		s.respond(w, "POST", "/deposits", code, map[string]string{"error": msg})
		return
	}

	s.recordAllocation(r, stats.OutcomeAllocated, req.Amount)
	s.logEvent("deposit_allocated", map[string]any{
		"deposit_id":   res.Deposit.ID,
		"requisite_id": res.Requisite.ID,
		"amount":       req.Amount,
	})
	s.respond(w, "POST", "/deposits", http.StatusCreated, res)
}

// ConfirmDeposit settles a deposit with the amount actually received.
func (s *Server) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/deposits/{id}/confirm"))
	defer timer.ObserveDuration()

	id := pathID(r)

	var req confirmDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respond(w, "POST", "/deposits/{id}/confirm", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}

	deposit, err := s.deposits.Confirm(r.Context(), id, req.Amount)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("confirm deposit error: %v", err)
		}
		s.logEvent("deposit_confirm_failed", map[string]any{
			"deposit_id": id,
			"reason":     msg,
		})
		s.respond(w, "POST", "/deposits/{id}/confirm", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("deposit_confirmed", map[string]any{
		"deposit_id": deposit.ID,
		"amount":     deposit.Amount,
		"status":     deposit.Status,
	})
	s.respond(w, "POST", "/deposits/{id}/confirm", http.StatusOK, deposit)
}

// PendingDeposit marks an active deposit as under review.
func (s *Server) PendingDeposit(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	deposit, err := s.deposits.MarkPending(r.Context(), id)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("pending deposit error: %v", err)
		}
		s.respond(w, "POST", "/deposits/{id}/pending", code, map[string]string{"error": msg})
		return
	}

	s.respond(w, "POST", "/deposits/{id}/pending", http.StatusOK, deposit)
}

// CancelDeposit closes a deposit without settlement.
func (s *Server) CancelDeposit(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	deposit, err := s.deposits.Cancel(r.Context(), id)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("cancel deposit error: %v", err)
		}
		s.respond(w, "POST", "/deposits/{id}/cancel", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("deposit_canceled", map[string]any{
		"deposit_id": deposit.ID,
		"status":     deposit.Status,
	})
	s.respond(w, "POST", "/deposits/{id}/cancel", http.StatusOK, deposit)
}

func (s *Server) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	deposit, err := s.store.GetDeposit(r.Context(), id)
	if err != nil {
		code, msg := statusForError(err)
		s.respond(w, "GET", "/deposits/{id}", code, map[string]string{"error": msg})
		return
	}

	s.respond(w, "GET", "/deposits/{id}", http.StatusOK, deposit)
}

// ListDeposits returns deposits bound to the calling owner's requisites,
// optionally filtered by status.
func (s *Server) ListDeposits(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "GET", "/deposits", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	deposits, err := s.store.ListDepositsForOwner(r.Context(), ownerID, r.URL.Query().Get("status"), limit)
	if err != nil {
		s.logger.Printf("list deposits error: %v", err)
		s.respond(w, "GET", "/deposits", http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if deposits == nil {
		deposits = []domain.Deposit{}
	}

	s.respond(w, "GET", "/deposits", http.StatusOK, deposits)
}

// RandomRequisite is the read-only leg of the public flow: it reports a
// uniformly selected eligible channel descriptor without allocating.
func (s *Server) RandomRequisite(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		s.respond(w, "GET", "/requisites/random", http.StatusUnprocessableEntity, map[string]string{"error": "invalid_amount"})
		return
	}

	eligible, err := s.store.EligibleRequisites(r.Context(), amount, nil)
	if err != nil {
		s.logger.Printf("random requisite error: %v", err)
		s.respond(w, "GET", "/requisites/random", http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if len(eligible) == 0 {
		s.respond(w, "GET", "/requisites/random", http.StatusNotFound, map[string]string{"error": "no_eligible_channel"})
		return
	}

	pick := eligible[rand.IntN(len(eligible))]
	s.respond(w, "GET", "/requisites/random", http.StatusOK, requisiteDescriptor(pick))
}

// RequisiteByRoute resolves a payment link to its channel descriptor.
func (s *Server) RequisiteByRoute(w http.ResponseWriter, r *http.Request) {
	route := mux.Vars(r)["route"]

	req, err := s.store.GetRequisiteByRoute(r.Context(), route)
	if err != nil {
		code, msg := statusForError(err)
		s.respond(w, "GET", "/routes/{route}", code, map[string]string{"error": msg})
		return
	}

	s.respond(w, "GET", "/routes/{route}", http.StatusOK, requisiteDescriptor(req))
}

func (s *Server) recordAllocation(r *http.Request, outcome stats.Outcome, amount float64) {
	allocationsTotal.WithLabelValues(string(outcome)).Inc()
	if err := s.stats.Record(r.Context(), stats.Event{Outcome: outcome, Amount: amount}); err != nil {
		s.logger.Printf("stats record error: %v", err)
	}
}

func (s *Server) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// requisiteDescriptor strips a requisite down to what a payer needs to
// see: where to send money, not the owner's accounting.
func requisiteDescriptor(r domain.Requisite) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"bank":         r.Bank,
		"requisites":   r.Requisites,
		"custom_route": r.CustomRoute,
		"limit":        r.Limit,
		"used_amount":  r.UsedAmount,
		"status":       r.Status,
	}
}
