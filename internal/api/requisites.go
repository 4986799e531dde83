package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ivlasenkov/requiroute/internal/domain"
	"github.com/ivlasenkov/requiroute/internal/service"
)

type walletToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type registerOwnerRequest struct {
	Login       string  `json:"login"`
	UsdtBalance float64 `json:"usdt_balance"`
}

// RegisterOwner creates a channel owner account. The wallet switch starts
// off; requisites registered before it is enabled stay inactive.
func (s *Server) RegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req registerOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respond(w, "POST", "/owners", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.UsdtBalance < 0 {
		s.respond(w, "POST", "/owners", http.StatusBadRequest, map[string]string{"error": "invalid_input"})
		return
	}

	owner, err := s.store.CreateOwner(r.Context(), strings.TrimSpace(req.Login), req.UsdtBalance)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("register owner error: %v", err)
		}
		s.respond(w, "POST", "/owners", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("owner_registered", map[string]any{
		"owner_id": owner.ID,
		"login":    owner.Login,
	})
	s.respond(w, "POST", "/owners", http.StatusCreated, owner)
}

func (s *Server) CreateRequisite(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "POST", "/requisites", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	var in service.RequisiteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respond(w, "POST", "/requisites", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}

	req, err := s.requisites.Create(r.Context(), ownerID, in)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("create requisite error: %v", err)
		}
		s.logEvent("requisite_create_failed", map[string]any{
			"owner_id": ownerID,
			"reason":   msg,
		})
		s.respond(w, "POST", "/requisites", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("requisite_created", map[string]any{
		"requisite_id": req.ID,
		"owner_id":     ownerID,
		"limit":        req.Limit,
		"is_active":    req.IsActive,
	})
	s.respond(w, "POST", "/requisites", http.StatusCreated, req)
}

func (s *Server) ListRequisites(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "GET", "/requisites", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	requisites, err := s.store.ListRequisitesByOwner(r.Context(), ownerID)
	if err != nil {
		s.logger.Printf("list requisites error: %v", err)
		s.respond(w, "GET", "/requisites", http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if requisites == nil {
		requisites = []domain.Requisite{}
	}

	s.respond(w, "GET", "/requisites", http.StatusOK, requisites)
}

func (s *Server) UpdateRequisite(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "PUT", "/requisites/{id}", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	var in service.RequisiteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respond(w, "PUT", "/requisites/{id}", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}

	req, err := s.requisites.Update(r.Context(), ownerID, pathID(r), in)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("update requisite error: %v", err)
		}
		s.respond(w, "PUT", "/requisites/{id}", code, map[string]string{"error": msg})
		return
	}

	s.respond(w, "PUT", "/requisites/{id}", http.StatusOK, req)
}

func (s *Server) DeleteRequisite(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "DELETE", "/requisites/{id}", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	id := pathID(r)
	if err := s.requisites.Delete(r.Context(), ownerID, id); err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("delete requisite error: %v", err)
		}
		s.respond(w, "DELETE", "/requisites/{id}", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("requisite_deleted", map[string]any{
		"requisite_id": id,
		"owner_id":     ownerID,
	})
	s.respond(w, "DELETE", "/requisites/{id}", http.StatusOK, map[string]string{"message": "requisite deleted"})
}

func (s *Server) ToggleRequisite(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "POST", "/requisites/{id}/toggle", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	req, err := s.requisites.Toggle(r.Context(), ownerID, pathID(r))
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("toggle requisite error: %v", err)
		}
		s.logEvent("requisite_toggle_failed", map[string]any{
			"requisite_id": pathID(r),
			"owner_id":     ownerID,
			"reason":       msg,
		})
		s.respond(w, "POST", "/requisites/{id}/toggle", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("requisite_toggled", map[string]any{
		"requisite_id": req.ID,
		"owner_id":     ownerID,
		"is_active":    req.IsActive,
		"status":       req.Status,
	})
	s.respond(w, "POST", "/requisites/{id}/toggle", http.StatusOK, req)
}

func (s *Server) ToggleWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "POST", "/wallet/toggle", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	var req walletToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respond(w, "POST", "/wallet/toggle", http.StatusBadRequest, map[string]string{"error": "malformed_json"})
		return
	}

	owner, err := s.requisites.SetWalletSwitch(r.Context(), ownerID, req.Enabled)
	if err != nil {
		code, msg := statusForError(err)
		if code == http.StatusInternalServerError {
			s.logger.Printf("wallet toggle error: %v", err)
		}
		s.respond(w, "POST", "/wallet/toggle", code, map[string]string{"error": msg})
		return
	}

	s.logEvent("wallet_toggled", map[string]any{
		"owner_id":       owner.ID,
		"wallet_enabled": owner.WalletEnabled,
	})
	s.respond(w, "POST", "/wallet/toggle", http.StatusOK, owner)
}

// GetOwner returns the caller's balances and how much of the converted
// balance is still free to pledge as requisite limits.
func (s *Server) GetOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.respond(w, "GET", "/owners/me", http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	owner, err := s.store.GetOwner(r.Context(), ownerID)
	if err != nil {
		code, msg := statusForError(err)
		s.respond(w, "GET", "/owners/me", code, map[string]string{"error": msg})
		return
	}

	available, err := s.limits.AvailableOwnerLimit(r.Context(), ownerID, 0)
	if err != nil {
		s.logger.Printf("owner limit error: %v", err)
		s.respond(w, "GET", "/owners/me", http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	s.respond(w, "GET", "/owners/me", http.StatusOK, map[string]any{
		"owner":           owner,
		"available_limit": available,
	})
}
