package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// AccountParam is the route parameter holding the account id.
const AccountParam = "accountID"

// UnitOfWork gives every request its own TenantContext and resets it when the
// handler chain returns or panics.
func UnitOfWork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = tenancy.Run(r.Context(), func(ctx context.Context, _ *tenancy.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
	})
}

// Account resolves the {accountID} route parameter and binds the account to
// the request's TenantContext. Unknown and inactive accounts look the same to
// the caller.
func Account(accounts domain.AccountRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "account_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := tenancy.FromContext(r.Context())
			if tc == nil {
				logger.Error("request reached account middleware without a unit of work")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}

			id, err := strconv.ParseInt(chi.URLParam(r, AccountParam), 10, 64)
			if err != nil || id <= 0 {
				writeError(w, http.StatusNotFound, "unknown_account")
				return
			}

			account, err := accounts.FindByID(r.Context(), id)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				writeError(w, http.StatusNotFound, "unknown_account")
				return
			case err != nil:
				logger.Error("failed to resolve account", "account_id", id, "error", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			case !account.Active():
				logger.Warn("request for inactive account", "account_id", id)
				writeError(w, http.StatusNotFound, "unknown_account")
				return
			}

			tc.SetAccount(account)
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
