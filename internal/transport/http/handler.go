package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/edbns/Stefna-sub010/internal/model"
	"github.com/edbns/Stefna-sub010/internal/repository"
	"github.com/edbns/Stefna-sub010/internal/service"
)

type Handler struct {
	svc service.LedgerService
}

func NewHandler(svc service.LedgerService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /reserve", h.Reserve)
	mux.HandleFunc("POST /finalize", h.Finalize)
	mux.HandleFunc("POST /grant", h.Grant)
	mux.HandleFunc("GET /quota", h.Quota)
	mux.HandleFunc("GET /balance", h.Balance)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req model.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientCredits):
			h.respondError(w, http.StatusPaymentRequired, "insufficient_credits")
		case errors.Is(err, repository.ErrAccountNotProvisioned):
			h.respondError(w, http.StatusNotFound, "account_not_provisioned")
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req model.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Finalize(r.Context(), req); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "reservation_not_found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req model.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Grant(r.Context(), req); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Quota reports whether the user may spend cost more credits today.
// The generation pipeline calls this before dispatching work; it is
// advisory and not atomic with Reserve.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	var cost int64 = 1
	if raw := r.URL.Query().Get("cost"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid_cost")
			return
		}
		cost = parsed
	}

	allowed, err := h.svc.AllowedToday(r.Context(), userID, cost)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	used, err := h.svc.DailyUsage(r.Context(), userID, time.Now().UTC())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": allowed,
		"used":    used,
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	balance, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotProvisioned) {
			h.respondError(w, http.StatusNotFound, "account_not_provisioned")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
