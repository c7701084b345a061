package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

const uniqueViolation = "23505"

// scope binds a table to its entity type. A scope with bypass set ignores the
// tenant bound to ctx; it is only produced by WithoutScope.
type scope struct {
	enforcer *tenancy.Enforcer
	entity   domain.EntityType
	bypass   bool
}

func (s scope) decide(ctx context.Context) tenancy.Decision {
	if s.bypass {
		return s.enforcer.Bypass(s.entity)
	}
	return s.enforcer.Decide(ctx, s.entity)
}

func (s scope) unscoped() scope {
	s.bypass = true
	return s
}

// scopeClause renders d as a condition on account_id, appending its argument
// to args. Deny renders FALSE so the query still runs and returns no rows.
func scopeClause(d tenancy.Decision, args []any) (string, []any) {
	if id, ok := d.AccountID(); ok {
		args = append(args, id)
		return fmt.Sprintf("account_id = $%d", len(args)), args
	}
	if d.Unscoped() {
		return "TRUE", args
	}
	return "FALSE", args
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
