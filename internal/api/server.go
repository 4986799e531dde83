package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivlasenkov/requiroute/internal/service"
	"github.com/ivlasenkov/requiroute/internal/stats"
	"github.com/ivlasenkov/requiroute/internal/store"
)

// ownerHeader carries the authenticated owner identity, injected by the
// upstream auth layer. The core never authenticates anyone itself.
const ownerHeader = "X-Owner-ID"

type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type Server struct {
	store      *store.Store
	alloc      *service.AllocationService
	deposits   *service.DepositService
	requisites *service.RequisiteService
	limits     *service.LimitService
	stats      stats.Recorder
	logger     Logger
	limiter    *RateLimiter
}

func NewServer(
	st *store.Store,
	alloc *service.AllocationService,
	deposits *service.DepositService,
	requisites *service.RequisiteService,
	limits *service.LimitService,
	recorder stats.Recorder,
	limiter *RateLimiter,
	logger Logger,
) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	if recorder == nil {
		recorder = stats.NewMemoryRecorder()
	}
	return &Server{
		store:      st,
		alloc:      alloc,
		deposits:   deposits,
		requisites: requisites,
		limits:     limits,
		stats:      recorder,
		logger:     logger,
		limiter:    limiter,
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	// Public allocation flow, rate limited per client.
	public := apiV1.NewRoute().Subrouter()
	if s.limiter != nil {
		public.Use(s.limiter.Middleware)
	}
	public.HandleFunc("/deposits", s.CreateDeposit).Methods("POST")
	public.HandleFunc("/requisites/random", s.RandomRequisite).Methods("GET")
	public.HandleFunc("/routes/{route:.+}", s.RequisiteByRoute).Methods("GET")

	// Deposit lifecycle.
	apiV1.HandleFunc("/deposits", s.ListDeposits).Methods("GET")
	apiV1.HandleFunc("/deposits/{id:[0-9]+}", s.GetDeposit).Methods("GET")
	apiV1.HandleFunc("/deposits/{id:[0-9]+}/confirm", s.ConfirmDeposit).Methods("POST")
	apiV1.HandleFunc("/deposits/{id:[0-9]+}/pending", s.PendingDeposit).Methods("POST")
	apiV1.HandleFunc("/deposits/{id:[0-9]+}/cancel", s.CancelDeposit).Methods("POST")

	// Owner-scoped requisite management.
	apiV1.HandleFunc("/requisites", s.CreateRequisite).Methods("POST")
	apiV1.HandleFunc("/requisites", s.ListRequisites).Methods("GET")
	apiV1.HandleFunc("/requisites/{id:[0-9]+}", s.UpdateRequisite).Methods("PUT")
	apiV1.HandleFunc("/requisites/{id:[0-9]+}", s.DeleteRequisite).Methods("DELETE")
	apiV1.HandleFunc("/requisites/{id:[0-9]+}/toggle", s.ToggleRequisite).Methods("POST")

	apiV1.HandleFunc("/wallet/toggle", s.ToggleWallet).Methods("POST")
	apiV1.HandleFunc("/owners", s.RegisterOwner).Methods("POST")
	apiV1.HandleFunc("/owners/me", s.GetOwner).Methods("GET")

	return r
}

// ownerFromRequest extracts the authenticated owner identity. Handlers
// that require an owner scope reject requests without it.
func ownerFromRequest(r *http.Request) (int64, bool) {
	raw := r.Header.Get(ownerHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
