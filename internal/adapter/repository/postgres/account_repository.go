package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// AccountRepository implements domain.AccountRepository. Accounts are the
// tenant root, so the enforcer always leaves them unfiltered.
type AccountRepository struct {
	db    *sql.DB
	scope scope
}

func NewAccountRepository(db *sql.DB, enforcer *tenancy.Enforcer) *AccountRepository {
	return &AccountRepository{db: db, scope: scope{enforcer: enforcer, entity: domain.EntityAccount}}
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{id})
	query := `SELECT id, name, status, created_at FROM accounts WHERE id = $1 AND ` + clause

	var a domain.Account
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.Name, &a.Status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", id, err)
	}
	return &a, nil
}
