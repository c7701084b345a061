package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/usecase"
)

// Ingester accepts one normalized delivery for the account bound to ctx.
type Ingester interface {
	Ingest(ctx context.Context, event *domain.InboundEvent) (usecase.IngestStatus, error)
}

// webhookPayload is the normalized delivery posted by channel adapters.
type webhookPayload struct {
	InboxID    int64     `json:"inbox_id"`
	ExternalID string    `json:"external_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

// WebhookHandler receives inbound deliveries. Provider retries of an already
// handled delivery are acknowledged with 200 so the provider stops retrying.
type WebhookHandler struct {
	ingester      Ingester
	logger        *slog.Logger
	maxPayloadLen int64
}

func NewWebhookHandler(ingester Ingester, logger *slog.Logger, maxPayloadLen int64) *WebhookHandler {
	return &WebhookHandler{
		ingester:      ingester,
		logger:        logger.With("component", "webhook_handler"),
		maxPayloadLen: maxPayloadLen,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		respondWithError(w, h.logger, http.StatusUnsupportedMediaType, "unsupported_media_type")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayloadLen)
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid_event")
		return
	}

	event := &domain.InboundEvent{
		InboxID:    payload.InboxID,
		ExternalID: payload.ExternalID,
		SenderID:   payload.SenderID,
		SenderName: payload.SenderName,
		Content:    payload.Content,
		SentAt:     payload.SentAt,
	}
	status, err := h.ingester.Ingest(r.Context(), event)
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrInvalidEvent):
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid_event")
		return
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, h.logger, http.StatusNotFound, "unknown_inbox")
		return
	case errors.Is(err, domain.ErrStoreUnavailable):
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	default:
		h.logger.Error("failed to ingest webhook delivery", "external_id", payload.ExternalID, "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal_error")
		return
	}

	code := http.StatusOK
	if status == usecase.IngestAccepted {
		code = http.StatusAccepted
	}
	respondWithJSON(w, h.logger, code, map[string]string{"status": string(status)})
}
