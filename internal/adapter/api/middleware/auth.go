package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/inboxguard/internal/channelauth"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// AccessTokenHeader carries the user's API access token.
const AccessTokenHeader = "api_access_token"

// CredentialValidator decides whether a credential may act on an account.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string, accountID int64) (channelauth.Result, error)
}

// Auth validates the access token against the account bound by Account and
// binds the user and their membership to the TenantContext.
func Auth(validator CredentialValidator, memberships domain.MembershipRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := tenancy.FromContext(r.Context())
			accountID, ok := tc.AccountID()
			if !ok {
				logger.Error("auth middleware reached without a bound account")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}

			result, err := validator.Validate(r.Context(), r.Header.Get(AccessTokenHeader), accountID)
			if err != nil {
				logger.Error("failed to validate access token", "account_id", accountID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			if !result.Valid {
				logger.Warn("access token rejected", "account_id", accountID, "reason", result.Reason, "remote_addr", r.RemoteAddr)
				writeError(w, rejectionStatus(result.Reason), result.Reason)
				return
			}

			link, err := memberships.FindActorLink(r.Context(), result.Subject.ID, accountID)
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusForbidden, channelauth.ReasonNoAccess)
				return
			}
			if err != nil {
				logger.Error("failed to load membership", "account_id", accountID, "user_id", result.Subject.ID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}

			tc.SetUser(result.Subject)
			tc.SetActorLink(link)
			next.ServeHTTP(w, r)
		})
	}
}

func rejectionStatus(reason string) int {
	switch reason {
	case channelauth.ReasonNoAccess:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
