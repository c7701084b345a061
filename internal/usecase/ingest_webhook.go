package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/idempotency"
)

// ErrInvalidEvent is returned for deliveries missing required fields.
var ErrInvalidEvent = errors.New("invalid inbound event")

// IngestStatus is what the webhook caller is told about a delivery.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate"
	IngestInFlight  IngestStatus = "in_flight"
)

// IngestWebhookUseCase accepts provider deliveries for the account bound to
// ctx and queues them for the workers.
type IngestWebhookUseCase struct {
	inboxes domain.InboxRepository
	guard   *idempotency.Guard
	queue   domain.EventQueue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewIngestWebhookUseCase(inboxes domain.InboxRepository, guard *idempotency.Guard, queue domain.EventQueue, logger *slog.Logger, m *metrics.Metrics) *IngestWebhookUseCase {
	return &IngestWebhookUseCase{
		inboxes: inboxes,
		guard:   guard,
		queue:   queue,
		logger:  logger.With("component", "ingest_webhook"),
		metrics: m,
	}
}

// Ingest validates and enqueues event. Known duplicates and deliveries already
// being processed are acknowledged without enqueueing. The durable checks
// happen again in the worker; this is only an early exit.
func (uc *IngestWebhookUseCase) Ingest(ctx context.Context, event *domain.InboundEvent) (status IngestStatus, err error) {
	defer func() {
		label := string(status)
		if err != nil {
			label = "error"
		}
		uc.observe(label)
	}()

	if err := validateEvent(event); err != nil {
		return "", err
	}

	inbox, err := uc.inboxes.FindByID(ctx, event.InboxID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve inbox %d: %w", event.InboxID, err)
	}
	event.AccountID = inbox.AccountID
	logger := uc.logger.With("account_id", event.AccountID, "external_id", event.ExternalID)

	processed, err := uc.guard.IsAlreadyProcessed(ctx, event.ExternalID)
	if err != nil {
		return "", err
	}
	if processed {
		logger.Info("duplicate delivery acknowledged")
		return IngestDuplicate, nil
	}

	inFlight, err := uc.guard.IsInFlight(ctx, event.ExternalID)
	if err != nil {
		// The worker repeats the check under the marker; enqueueing is safe.
		logger.Warn("in-flight check failed, enqueueing anyway", "error", err)
	} else if inFlight {
		logger.Info("delivery already in flight, acknowledged")
		return IngestInFlight, nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.ReceivedAt = time.Now().UTC()
	if event.SentAt.IsZero() {
		event.SentAt = event.ReceivedAt
	}

	if err := uc.queue.Enqueue(ctx, *event); err != nil {
		logger.Error("failed to enqueue inbound event", "error", err, "event_id", event.ID)
		return "", err
	}
	return IngestAccepted, nil
}

func validateEvent(event *domain.InboundEvent) error {
	var missing []string
	if strings.TrimSpace(event.ExternalID) == "" {
		missing = append(missing, "external_id")
	}
	if strings.TrimSpace(event.SenderID) == "" {
		missing = append(missing, "sender_id")
	}
	if event.InboxID <= 0 {
		missing = append(missing, "inbox_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

func (uc *IngestWebhookUseCase) observe(status string) {
	if uc.metrics != nil {
		uc.metrics.WebhookEvents.WithLabelValues(status).Inc()
	}
}
