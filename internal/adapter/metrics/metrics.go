package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inboxguard"

// Metrics holds all Prometheus collectors shared by the webhook and worker processes.
type Metrics struct {
	ScopeDecisions   *prometheus.CounterVec
	LockAcquires     *prometheus.CounterVec
	GuardOutcomes    *prometheus.CounterVec
	AuthCacheLookups *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	WorkerEvents     *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScopeDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenancy",
			Name:      "scope_decisions_total",
			Help:      "Scope decisions taken for tenant-scoped queries.",
		}, []string{"entity", "decision"}), // decision: allow, deny, unscoped, bypass
		LockAcquires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquire_total",
			Help:      "Distributed lock acquisition attempts by result.",
		}, []string{"result"}), // result: acquired, already_held, store_error
		GuardOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "outcomes_total",
			Help:      "Idempotency guard outcomes per processed external id.",
		}, []string{"outcome"}),
		AuthCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel_auth",
			Name:      "lookups_total",
			Help:      "Channel auth cache lookups by result.",
		}, []string{"result"}), // result: whitelist_hit, blacklist_hit, miss, store_error
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook deliveries by status.",
		}, []string{"status"}),
		WorkerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_total",
			Help:      "Queued inbound events handled by workers, by result.",
		}, []string{"result"}),
	}
}
