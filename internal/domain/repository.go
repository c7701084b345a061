package domain

import (
	"context"
	"time"
)

// AccountRepository loads tenant roots. It is never tenant-filtered.
type AccountRepository interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
}

// InboxRepository reads inboxes of the account bound to ctx.
type InboxRepository interface {
	FindByID(ctx context.Context, id int64) (*Inbox, error)
	List(ctx context.Context) ([]Inbox, error)
}

// ContactRepository persists contacts of the account bound to ctx.
type ContactRepository interface {
	FindBySourceID(ctx context.Context, sourceID string) (*Contact, error)
	Create(ctx context.Context, contact *Contact) error
	UpdateName(ctx context.Context, id int64, name string) error
}

// ConversationRepository persists conversations of the account bound to ctx.
type ConversationRepository interface {
	FindOpen(ctx context.Context, inboxID, contactID int64) (*Conversation, error)
	List(ctx context.Context) ([]Conversation, error)
	Create(ctx context.Context, conversation *Conversation) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

// ProcessedChecker answers whether an external message id has a durable record.
type ProcessedChecker interface {
	ExistsBySourceID(ctx context.Context, sourceID string) (bool, error)
}

// MessageRepository persists messages. Create returns ErrDuplicate when the
// source id already exists; the unique constraint is the final backstop
// against double processing.
type MessageRepository interface {
	ProcessedChecker
	FindBySourceID(ctx context.Context, sourceID string) (*Message, error)
	Create(ctx context.Context, message *Message) error
}

// CredentialStore resolves bearer credentials. It is only consulted on
// channel auth cache misses.
type CredentialStore interface {
	// ResolveCredential returns ErrNotFound when the credential is unknown.
	ResolveCredential(ctx context.Context, credential string) (*User, error)
	FindSubject(ctx context.Context, id int64) (*User, error)
	HasAccess(ctx context.Context, userID, accountID int64) (bool, error)
}

// MembershipRepository loads the role of a user inside an account.
type MembershipRepository interface {
	FindActorLink(ctx context.Context, userID, accountID int64) (*AccountActorLink, error)
}

// EventQueue buffers inbound events between the webhook and worker processes.
type EventQueue interface {
	Enqueue(ctx context.Context, event InboundEvent) error
	ReadBatch(ctx context.Context, group, consumer string, count int) ([]InboundEvent, error)
	// ClaimStale takes over up to count entries another consumer left pending
	// for at least minIdle.
	ClaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]InboundEvent, error)
	Acknowledge(ctx context.Context, group string, streamIDs ...string) error
	MoveToDLQ(ctx context.Context, events []InboundEvent, reason string) error
}

// StreamAdminRepository exposes operational views over the inbound streams.
type StreamAdminRepository interface {
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingMessageSummary, error)
	GetPendingMessages(ctx context.Context, stream, group, consumer string, count int64) ([]PendingMessageDetail, error)
	StreamLength(ctx context.Context, stream string) (int64, error)
	TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error)
}
