// Package tenancy carries the tenant bound to a unit of work and decides how
// every tenant-scoped query is narrowed.
//
// A Context is created empty at the start of a unit of work (one inbound
// request or one queued event), populated by the authentication or routing
// layer, and reset when the unit of work ends. It travels explicitly inside
// context.Context and is never shared between units of work.
package tenancy

import (
	"context"
	"sync"

	"github.com/V4T54L/inboxguard/internal/domain"
)

// Context holds the account, user, membership and contact of the current unit
// of work. It performs no validation. A nil *Context reads as empty.
type Context struct {
	mu      sync.RWMutex
	account *domain.Account
	user    *domain.User
	link    *domain.AccountActorLink
	contact *domain.Contact
}

type contextKey struct{}

// NewContext attaches a fresh, empty Context to parent.
func NewContext(parent context.Context) (context.Context, *Context) {
	tc := &Context{}
	return context.WithValue(parent, contextKey{}, tc), tc
}

// FromContext returns the Context bound to ctx, or nil when there is none.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(contextKey{}).(*Context)
	return tc
}

// Run executes fn as one unit of work with its own Context. The Context is
// reset when fn returns, fails or panics.
func Run(ctx context.Context, fn func(ctx context.Context, tc *Context) error) error {
	ctx, tc := NewContext(ctx)
	defer tc.Reset()
	return fn(ctx, tc)
}

func (c *Context) SetAccount(account *domain.Account) {
	c.mu.Lock()
	c.account = account
	c.mu.Unlock()
}

func (c *Context) Account() *domain.Account {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// AccountID returns the active account id and whether one is bound.
func (c *Context) AccountID() (int64, bool) {
	account := c.Account()
	if account == nil {
		return 0, false
	}
	return account.ID, true
}

func (c *Context) SetUser(user *domain.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

func (c *Context) User() *domain.User {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Context) SetActorLink(link *domain.AccountActorLink) {
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
}

func (c *Context) ActorLink() *domain.AccountActorLink {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link
}

func (c *Context) SetContact(contact *domain.Contact) {
	c.mu.Lock()
	c.contact = contact
	c.mu.Unlock()
}

func (c *Context) Contact() *domain.Contact {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contact
}

// Reset clears every field. It must run at the end of each unit of work.
func (c *Context) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.account = nil
	c.user = nil
	c.link = nil
	c.contact = nil
	c.mu.Unlock()
}
