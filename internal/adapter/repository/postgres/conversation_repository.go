package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

const conversationColumns = `id, account_id, inbox_id, contact_id, status, last_activity_at, created_at`

// ConversationRepository implements domain.ConversationRepository.
type ConversationRepository struct {
	db    *sql.DB
	scope scope
}

func NewConversationRepository(db *sql.DB, enforcer *tenancy.Enforcer) *ConversationRepository {
	return &ConversationRepository{db: db, scope: scope{enforcer: enforcer, entity: domain.EntityConversation}}
}

func scanConversation(row interface{ Scan(...any) error }) (domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.AccountID, &c.InboxID, &c.ContactID, &c.Status, &c.LastActivityAt, &c.CreatedAt)
	return c, err
}

// FindOpen returns the most recent open conversation between inboxID and contactID.
func (r *ConversationRepository) FindOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{inboxID, contactID, domain.ConversationStatusOpen})
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE inbox_id = $1 AND contact_id = $2 AND status = $3 AND ` + clause + ` ORDER BY id DESC LIMIT 1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open conversation: %w", err)
	}
	return &c, nil
}

func (r *ConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	clause, args := scopeClause(r.scope.decide(ctx), nil)
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` + clause + ` ORDER BY last_activity_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	accountID, err := r.scope.decide(ctx).Stamp(c.AccountID)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	if c.Status == "" {
		c.Status = domain.ConversationStatusOpen
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = time.Now().UTC()
	}

	query := `INSERT INTO conversations (account_id, inbox_id, contact_id, status, last_activity_at) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, accountID, c.InboxID, c.ContactID, c.Status, c.LastActivityAt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	c.AccountID = accountID
	return nil
}

// Touch moves last_activity_at forward; it never moves it back.
func (r *ConversationRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	clause, args := scopeClause(r.scope.decide(ctx), []any{at, id})
	query := `UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2 AND ` + clause

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
