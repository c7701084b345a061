package handler

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/inboxguard/internal/domain"
)

// TenantHandler serves read endpoints for the account bound to the request.
// Every list goes through the scoped repositories; with no account bound the
// lists are empty.
type TenantHandler struct {
	inboxes       domain.InboxRepository
	conversations domain.ConversationRepository
	logger        *slog.Logger
}

func NewTenantHandler(inboxes domain.InboxRepository, conversations domain.ConversationRepository, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{
		inboxes:       inboxes,
		conversations: conversations,
		logger:        logger.With("component", "tenant_handler"),
	}
}

// ListInboxes handles GET /api/v1/accounts/{accountID}/inboxes
func (h *TenantHandler) ListInboxes(w http.ResponseWriter, r *http.Request) {
	inboxes, err := h.inboxes.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list inboxes", "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	}
	if inboxes == nil {
		inboxes = []domain.Inbox{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"payload": inboxes})
}

// ListConversations handles GET /api/v1/accounts/{accountID}/conversations
func (h *TenantHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.conversations.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "unavailable")
		return
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"payload": conversations})
}
