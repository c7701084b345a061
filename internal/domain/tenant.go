package domain

import "time"

// EntityType names a persisted entity for scope decisions.
type EntityType string

const (
	// EntityAccount is the tenant root. It is never filtered by tenant.
	EntityAccount      EntityType = "account"
	EntityInbox        EntityType = "inbox"
	EntityContact      EntityType = "contact"
	EntityConversation EntityType = "conversation"
	EntityMessage      EntityType = "message"
)

// TenantScopedEntities lists every entity type that belongs to exactly one account.
var TenantScopedEntities = []EntityType{
	EntityInbox,
	EntityContact,
	EntityConversation,
	EntityMessage,
}

// Account is the isolation boundary. All scoped entities carry its ID.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the account may be bound to a unit of work.
func (a *Account) Active() bool {
	return a != nil && (a.Status == "" || a.Status == AccountStatusActive)
}

const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
)

// User is an agent or administrator that authenticates with an access token.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ActorRole is the role a user holds inside one account.
type ActorRole string

const (
	RoleAdministrator ActorRole = "administrator"
	RoleAgent         ActorRole = "agent"
)

// AccountActorLink is the membership of a user within the active account.
type AccountActorLink struct {
	AccountID int64     `json:"account_id"`
	UserID    int64     `json:"user_id"`
	Role      ActorRole `json:"role"`
}

// Contact is the external party messaging an inbox. SourceID is the sender
// identifier assigned by the channel provider.
type Contact struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	SourceID  string    `json:"source_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Inbox is a channel endpoint (WhatsApp number, Instagram account, web widget).
type Inbox struct {
	ID          int64  `json:"id"`
	AccountID   int64  `json:"account_id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
}

const (
	ConversationStatusOpen     = "open"
	ConversationStatusResolved = "resolved"
)

// Conversation groups the messages exchanged with one contact in one inbox.
type Conversation struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	InboxID        int64     `json:"inbox_id"`
	ContactID      int64     `json:"contact_id"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	MessageTypeIncoming = "incoming"
	MessageTypeOutgoing = "outgoing"
)

// Message is a single inbound or outbound message. SourceID holds the
// external message id and is unique across the durable store.
type Message struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	InboxID        int64     `json:"inbox_id"`
	ConversationID int64     `json:"conversation_id"`
	SourceID       string    `json:"source_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	CreatedAt      time.Time `json:"created_at"`
}
