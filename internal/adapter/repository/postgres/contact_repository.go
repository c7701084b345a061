package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// ContactRepository implements domain.ContactRepository. Contacts are unique
// per (account_id, source_id).
type ContactRepository struct {
	db    *sql.DB
	scope scope
}

func NewContactRepository(db *sql.DB, enforcer *tenancy.Enforcer) *ContactRepository {
	return &ContactRepository{db: db, scope: scope{enforcer: enforcer, entity: domain.EntityContact}}
}

func (r *ContactRepository) FindBySourceID(ctx context.Context, sourceID string) (*domain.Contact, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{sourceID})
	query := `SELECT id, account_id, source_id, name, created_at FROM contacts WHERE source_id = $1 AND ` + clause + ` ORDER BY id LIMIT 1`

	var c domain.Contact
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.AccountID, &c.SourceID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &c, nil
}

// Create inserts contact under the bound account and fills in its id.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	accountID, err := r.scope.decide(ctx).Stamp(contact.AccountID)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	query := `INSERT INTO contacts (account_id, source_id, name) VALUES ($1, $2, $3) ON CONFLICT (account_id, source_id) DO NOTHING RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, accountID, contact.SourceID, contact.Name).Scan(&contact.ID, &contact.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	contact.AccountID = accountID
	return nil
}

func (r *ContactRepository) UpdateName(ctx context.Context, id int64, name string) error {
	clause, args := scopeClause(r.scope.decide(ctx), []any{name, id})
	query := `UPDATE contacts SET name = $1 WHERE id = $2 AND ` + clause

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update contact %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
