package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/inboxguard/internal/usecase"
)

// AdminHandler handles operator requests against the shared store and streams.
type AdminHandler struct {
	uc     *usecase.AdminUseCase
	logger *slog.Logger
}

func NewAdminHandler(uc *usecase.AdminUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger.With("component", "admin_handler")}
}

func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// StreamStatus handles GET /admin/streams
func (h *AdminHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.uc.StreamStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to get stream status", "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal_error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, status)
}

// PendingMessages handles GET /admin/streams/pending?consumer={name}&count={n}
func (h *AdminHandler) PendingMessages(w http.ResponseWriter, r *http.Request) {
	var count int64
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			respondWithError(w, h.logger, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}

	pending, err := h.uc.PendingMessages(r.Context(), r.URL.Query().Get("consumer"), count)
	if err != nil {
		h.logger.Error("failed to list pending messages", "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal_error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]interface{}{"payload": pending})
}

// TrimDLQ handles POST /admin/streams/dlq/trim
func (h *AdminHandler) TrimDLQ(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MaxLen int64 `json:"maxlen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid_request")
		return
	}
	if payload.MaxLen < 0 {
		respondWithError(w, h.logger, http.StatusBadRequest, "maxlen must not be negative")
		return
	}

	trimmed, err := h.uc.TrimDLQ(r.Context(), payload.MaxLen)
	if err != nil {
		h.logger.Error("failed to trim dead-letter stream", "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal_error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int64{"trimmed": trimmed})
}

// LockStatus handles GET /admin/locks?sender_id={sender}&account_id={account}
func (h *AdminHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	senderID := r.URL.Query().Get("sender_id")
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if senderID == "" || err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "sender_id and account_id are required")
		return
	}

	status, err := h.uc.LockStatus(r.Context(), senderID, accountID)
	if err != nil {
		h.logger.Error("failed to get lock status", "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, status)
}

// ClearInFlight handles DELETE /admin/in-flight/{externalID}
func (h *AdminHandler) ClearInFlight(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if err := h.uc.ClearInFlight(r.Context(), externalID); err != nil {
		h.logger.Error("failed to clear in-flight marker", "external_id", externalID, "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAuthCache handles POST /admin/auth-cache/clear
func (h *AdminHandler) ClearAuthCache(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" || payload.AccountID <= 0 {
		respondWithError(w, h.logger, http.StatusBadRequest, "token and account_id are required")
		return
	}

	if err := h.uc.ClearAuthCache(r.Context(), payload.Token, payload.AccountID); err != nil {
		h.logger.Error("failed to clear channel auth cache", "account_id", payload.AccountID, "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
