package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// MessageRepository implements domain.MessageRepository. messages.source_id
// carries a unique constraint; it is the last line of defense against
// processing an external message twice.
type MessageRepository struct {
	db    *sql.DB
	scope scope
}

func NewMessageRepository(db *sql.DB, enforcer *tenancy.Enforcer) *MessageRepository {
	return &MessageRepository{db: db, scope: scope{enforcer: enforcer, entity: domain.EntityMessage}}
}

func (r *MessageRepository) ExistsBySourceID(ctx context.Context, sourceID string) (bool, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{sourceID})
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE source_id = $1 AND ` + clause + `)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message %q: %w", sourceID, err)
	}
	return exists, nil
}

func (r *MessageRepository) FindBySourceID(ctx context.Context, sourceID string) (*domain.Message, error) {
	clause, args := scopeClause(r.scope.decide(ctx), []any{sourceID})
	query := `SELECT id, account_id, inbox_id, conversation_id, source_id, content, message_type, created_at FROM messages WHERE source_id = $1 AND ` + clause

	var m domain.Message
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.AccountID, &m.InboxID, &m.ConversationID, &m.SourceID, &m.Content, &m.MessageType, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message %q: %w", sourceID, err)
	}
	return &m, nil
}

// Create inserts message and returns domain.ErrDuplicate when its source id
// already exists.
func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	accountID, err := r.scope.decide(ctx).Stamp(m.AccountID)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	if m.MessageType == "" {
		m.MessageType = domain.MessageTypeIncoming
	}

	query := `INSERT INTO messages (account_id, inbox_id, conversation_id, source_id, content, message_type) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (source_id) DO NOTHING RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, accountID, m.InboxID, m.ConversationID, m.SourceID, m.Content, m.MessageType).Scan(&m.ID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	m.AccountID = accountID
	return nil
}
