package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// Store is an in-process durable store. Its repositories apply the same scope
// decisions as the Postgres ones: rows are filtered by Decision.Permits and
// new rows are stamped with Decision.Stamp.
type Store struct {
	mu            sync.RWMutex
	enforcer      *tenancy.Enforcer
	now           func() time.Time
	nextID        int64
	accounts      map[int64]domain.Account
	inboxes       map[int64]domain.Inbox
	contacts      []domain.Contact
	conversations []domain.Conversation
	messages      []domain.Message
}

func NewStore(enforcer *tenancy.Enforcer, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		enforcer: enforcer,
		now:      now,
		accounts: make(map[int64]domain.Account),
		inboxes:  make(map[int64]domain.Inbox),
	}
}

// SeedAccount and SeedInbox load fixtures without going through scope checks.
func (s *Store) SeedAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) SeedInbox(in domain.Inbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxes[in.ID] = in
}

// MessageCount returns the number of stored messages across all tenants.
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// id must be called with s.mu held.
func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

type scope struct {
	s      *Store
	entity domain.EntityType
	bypass bool
}

func (sc scope) decide(ctx context.Context) tenancy.Decision {
	if sc.bypass {
		return sc.s.enforcer.Bypass(sc.entity)
	}
	return sc.s.enforcer.Decide(ctx, sc.entity)
}

func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{scope{s: s, entity: domain.EntityAccount}}
}

func (s *Store) Inboxes() *InboxRepository {
	return &InboxRepository{scope{s: s, entity: domain.EntityInbox}}
}

func (s *Store) Contacts() *ContactRepository {
	return &ContactRepository{scope{s: s, entity: domain.EntityContact}}
}

func (s *Store) Conversations() *ConversationRepository {
	return &ConversationRepository{scope{s: s, entity: domain.EntityConversation}}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{scope{s: s, entity: domain.EntityMessage}}
}

type AccountRepository struct{ scope }

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok || !d.Permits(a.ID) {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

type InboxRepository struct{ scope }

func (r *InboxRepository) WithoutScope() *InboxRepository {
	sc := r.scope
	sc.bypass = true
	return &InboxRepository{sc}
}

func (r *InboxRepository) FindByID(ctx context.Context, id int64) (*domain.Inbox, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	in, ok := r.s.inboxes[id]
	if !ok || !d.Permits(in.AccountID) {
		return nil, domain.ErrNotFound
	}
	return &in, nil
}

func (r *InboxRepository) List(ctx context.Context) ([]domain.Inbox, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inboxes := []domain.Inbox{}
	for _, in := range r.s.inboxes {
		if d.Permits(in.AccountID) {
			inboxes = append(inboxes, in)
		}
	}
	sort.Slice(inboxes, func(i, j int) bool { return inboxes[i].ID < inboxes[j].ID })
	return inboxes, nil
}

type ContactRepository struct{ scope }

func (r *ContactRepository) FindBySourceID(ctx context.Context, sourceID string) (*domain.Contact, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.contacts {
		if c.SourceID == sourceID && d.Permits(c.AccountID) {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	accountID, err := r.decide(ctx).Stamp(contact.AccountID)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contacts {
		if c.AccountID == accountID && c.SourceID == contact.SourceID {
			return domain.ErrDuplicate
		}
	}
	contact.ID = r.s.id()
	contact.AccountID = accountID
	contact.CreatedAt = r.s.now()
	r.s.contacts = append(r.s.contacts, *contact)
	return nil
}

func (r *ContactRepository) UpdateName(ctx context.Context, id int64, name string) error {
	d := r.decide(ctx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.contacts {
		if r.s.contacts[i].ID == id && d.Permits(r.s.contacts[i].AccountID) {
			r.s.contacts[i].Name = name
			return nil
		}
	}
	return domain.ErrNotFound
}

type ConversationRepository struct{ scope }

func (r *ConversationRepository) FindOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.conversations) - 1; i >= 0; i-- {
		c := r.s.conversations[i]
		if c.InboxID == inboxID && c.ContactID == contactID && c.Status == domain.ConversationStatusOpen && d.Permits(c.AccountID) {
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conversations := []domain.Conversation{}
	for _, c := range r.s.conversations {
		if d.Permits(c.AccountID) {
			conversations = append(conversations, c)
		}
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})
	return conversations, nil
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	accountID, err := r.decide(ctx).Stamp(c.AccountID)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = r.s.id()
	c.AccountID = accountID
	c.CreatedAt = r.s.now()
	if c.Status == "" {
		c.Status = domain.ConversationStatusOpen
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	r.s.conversations = append(r.s.conversations, *c)
	return nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	d := r.decide(ctx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.conversations {
		c := &r.s.conversations[i]
		if c.ID == id && d.Permits(c.AccountID) {
			if at.After(c.LastActivityAt) {
				c.LastActivityAt = at
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

type MessageRepository struct{ scope }

func (r *MessageRepository) ExistsBySourceID(ctx context.Context, sourceID string) (bool, error) {
	_, err := r.FindBySourceID(ctx, sourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *MessageRepository) FindBySourceID(ctx context.Context, sourceID string) (*domain.Message, error) {
	d := r.decide(ctx)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.messages {
		if m.SourceID == sourceID && d.Permits(m.AccountID) {
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Create enforces a store-wide unique source id, like messages.source_id.
func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	accountID, err := r.decide(ctx).Stamp(m.AccountID)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.messages {
		if existing.SourceID == m.SourceID {
			return domain.ErrDuplicate
		}
	}
	m.ID = r.s.id()
	m.AccountID = accountID
	m.CreatedAt = r.s.now()
	if m.MessageType == "" {
		m.MessageType = domain.MessageTypeIncoming
	}
	r.s.messages = append(r.s.messages, *m)
	return nil
}
