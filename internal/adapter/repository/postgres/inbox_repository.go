package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// InboxRepository implements domain.InboxRepository.
type InboxRepository struct {
	db    *sql.DB
	scope scope
}

func NewInboxRepository(db *sql.DB, enforcer *tenancy.Enforcer) *InboxRepository {
	return &InboxRepository{db: db, scope: scope{enforcer: enforcer, entity: domain.EntityInbox}}
}

// WithoutScope returns a copy that reads inboxes of every account.
func (r *InboxRepository) WithoutScope() *InboxRepository {
	return &InboxRepository{db: r.db, scope: r.scope.unscoped()}
}

func (r *InboxRepository) FindByID(ctx context.Context, id int64) (*domain.Inbox, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{id})
	query := `SELECT id, account_id, name, channel_type FROM inboxes WHERE id = $1 AND ` + clause

	var in domain.Inbox
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&in.ID, &in.AccountID, &in.Name, &in.ChannelType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load inbox %d: %w", id, err)
	}
	return &in, nil
}

func (r *InboxRepository) List(ctx context.Context) ([]domain.Inbox, error) {
	clause, args := scopeClause(r.scope.decide(ctx), nil)
	query := `SELECT id, account_id, name, channel_type FROM inboxes WHERE ` + clause + ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}
	defer rows.Close()

	inboxes := []domain.Inbox{}
	for rows.Next() {
		var in domain.Inbox
		if err := rows.Scan(&in.ID, &in.AccountID, &in.Name, &in.ChannelType); err != nil {
			return nil, fmt.Errorf("failed to scan inbox: %w", err)
		}
		inboxes = append(inboxes, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}
	return inboxes, nil
}
