package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/inboxguard/internal/adapter/api/handler"
	"github.com/V4T54L/inboxguard/internal/adapter/api/middleware"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/pkg/config"
)

// Dependencies are the collaborators the public router wires into handlers.
type Dependencies struct {
	Accounts      domain.AccountRepository
	Memberships   domain.MembershipRepository
	Inboxes       domain.InboxRepository
	Conversations domain.ConversationRepository
	AuthCache     handler.ChannelAuthorizer
	Ingest        handler.Ingester
}

// NewRouter creates the public router of the webhook process. Every request
// runs as one unit of work with its own TenantContext.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.UnitOfWork)

	webhookHandler := handler.NewWebhookHandler(deps.Ingest, logger, cfg.MaxPayloadSize)
	tenantHandler := handler.NewTenantHandler(deps.Inboxes, deps.Conversations, logger)
	realtimeHandler := handler.NewRealtimeHandler(deps.AuthCache, logger, cfg.RealtimeOrigins)

	account := middleware.Account(deps.Accounts, logger)
	auth := middleware.Auth(deps.AuthCache, deps.Memberships, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Provider deliveries, normalized by the channel adapters.
	r.With(account).Post("/webhooks/accounts/{accountID}/inbound", webhookHandler.ServeHTTP)

	r.Route("/api/v1/accounts/{accountID}", func(r chi.Router) {
		r.Use(account, auth)
		r.Get("/inboxes", tenantHandler.ListInboxes)
		r.Get("/conversations", tenantHandler.ListConversations)
	})

	r.Get("/realtime", realtimeHandler.ServeHTTP)

	return r
}
