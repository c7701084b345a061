package tenancy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
)

type decisionKind uint8

const (
	// The zero value denies, so an uninitialized Decision fails closed.
	decisionDeny decisionKind = iota
	decisionAllow
	decisionUnscoped
)

// Decision is the per-query outcome of a scope check.
type Decision struct {
	kind      decisionKind
	accountID int64
}

// Allow narrows a query to rows owned by accountID.
func Allow(accountID int64) Decision {
	return Decision{kind: decisionAllow, accountID: accountID}
}

// Deny rewrites a query into one that matches nothing.
func Deny() Decision {
	return Decision{kind: decisionDeny}
}

// Unscoped applies no tenant filter. Only the tenant root and explicit
// bypasses produce it.
func Unscoped() Decision {
	return Decision{kind: decisionUnscoped}
}

// Allowed reports whether the query may return rows at all.
func (d Decision) Allowed() bool {
	return d.kind != decisionDeny
}

// Filtered reports whether an account_id condition must be conjoined.
func (d Decision) Filtered() bool {
	return d.kind == decisionAllow
}

func (d Decision) Unscoped() bool {
	return d.kind == decisionUnscoped
}

// AccountID returns the account the query is narrowed to.
func (d Decision) AccountID() (int64, bool) {
	if d.kind != decisionAllow {
		return 0, false
	}
	return d.accountID, true
}

// Permits reports whether a row owned by rowAccountID is visible.
func (d Decision) Permits(rowAccountID int64) bool {
	switch d.kind {
	case decisionUnscoped:
		return true
	case decisionAllow:
		return rowAccountID == d.accountID
	default:
		return false
	}
}

// Stamp returns the account id a new row must be written with. rowAccountID
// may be zero, in which case the decision's account is used.
func (d Decision) Stamp(rowAccountID int64) (int64, error) {
	switch d.kind {
	case decisionAllow:
		if rowAccountID != 0 && rowAccountID != d.accountID {
			return 0, domain.ErrCrossTenant
		}
		return d.accountID, nil
	case decisionUnscoped:
		if rowAccountID == 0 {
			return 0, domain.ErrTenantRequired
		}
		return rowAccountID, nil
	default:
		return 0, domain.ErrTenantRequired
	}
}

func (d Decision) String() string {
	switch d.kind {
	case decisionAllow:
		return fmt.Sprintf("allow(%d)", d.accountID)
	case decisionUnscoped:
		return "unscoped"
	default:
		return "deny"
	}
}

// Enforcer decides how queries against tenant-scoped entity types are narrowed
// using the Context bound to the request.
type Enforcer struct {
	root    domain.EntityType
	scoped  map[domain.EntityType]struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEnforcer creates an Enforcer. root is exempt from filtering; every type in
// scoped is filtered by the bound account.
func NewEnforcer(root domain.EntityType, scoped []domain.EntityType, logger *slog.Logger, m *metrics.Metrics) *Enforcer {
	set := make(map[domain.EntityType]struct{}, len(scoped))
	for _, entity := range scoped {
		set[entity] = struct{}{}
	}
	return &Enforcer{
		root:    root,
		scoped:  set,
		logger:  logger.With("component", "scope_enforcer"),
		metrics: m,
	}
}

// Decide never fails. A missing tenant yields Deny so the caller's query
// returns zero rows instead of unscoped data.
func (e *Enforcer) Decide(ctx context.Context, entity domain.EntityType) Decision {
	if entity == e.root {
		e.observe(entity, "unscoped")
		return Unscoped()
	}
	if _, ok := e.scoped[entity]; !ok {
		e.logger.Error("query against unregistered entity type denied", "entity", entity)
		e.observe(entity, "deny")
		return Deny()
	}

	accountID, ok := FromContext(ctx).AccountID()
	if !ok {
		e.logger.Debug("no tenant bound, query degraded to empty result", "entity", entity)
		e.observe(entity, "deny")
		return Deny()
	}

	e.observe(entity, "allow")
	return Allow(accountID)
}

// Bypass returns an unscoped decision for a single cross-tenant administrative
// query. Callers must ask for it explicitly on each call.
func (e *Enforcer) Bypass(entity domain.EntityType) Decision {
	e.logger.Info("tenant scope bypassed", "entity", entity)
	e.observe(entity, "bypass")
	return Unscoped()
}

func (e *Enforcer) observe(entity domain.EntityType, decision string) {
	if e.metrics != nil {
		e.metrics.ScopeDecisions.WithLabelValues(string(entity), decision).Inc()
	}
}
