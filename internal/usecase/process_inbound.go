package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/idempotency"
	"github.com/V4T54L/inboxguard/internal/lock"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

// Events failing with one of these are dead-lettered immediately; retrying
// cannot help.
var (
	ErrUnknownAccount  = errors.New("unknown account")
	ErrInactiveAccount = errors.New("account is not active")
	ErrUnknownInbox    = errors.New("unknown inbox")
)

// Dead-letter reasons.
const (
	ReasonUnknownAccount   = "unknown_account"
	ReasonInactiveAccount  = "inactive_account"
	ReasonUnknownInbox     = "unknown_inbox"
	ReasonRequeueExhausted = "requeue_exhausted"
)

// Repositories groups the durable stores a worker writes through.
type Repositories struct {
	Accounts      domain.AccountRepository
	Inboxes       domain.InboxRepository
	Contacts      domain.ContactRepository
	Conversations domain.ConversationRepository
	Messages      domain.MessageRepository
}

// DefaultClaimMinIdle is how long an entry stays pending before another
// worker takes it over. It exceeds idempotency.DefaultInFlightTTL so the
// crashed holder's marker has expired by then.
const DefaultClaimMinIdle = 2 * idempotency.DefaultInFlightTTL

// WorkerConfig names the consumer and bounds requeueing.
type WorkerConfig struct {
	Group        string
	Consumer     string
	BatchSize    int
	MaxRequeues  int
	ClaimMinIdle time.Duration
}

// ProcessInboundUseCase turns queued events into contacts, conversations and
// messages. Every event is its own unit of work with its own TenantContext.
type ProcessInboundUseCase struct {
	queue   domain.EventQueue
	repos   Repositories
	guard   *idempotency.Guard
	cfg     WorkerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewProcessInboundUseCase(queue domain.EventQueue, repos Repositories, guard *idempotency.Guard, cfg WorkerConfig, logger *slog.Logger, m *metrics.Metrics) *ProcessInboundUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = DefaultClaimMinIdle
	}
	return &ProcessInboundUseCase{
		queue:   queue,
		repos:   repos,
		guard:   guard,
		cfg:     cfg,
		logger:  logger.With("component", "process_inbound", "consumer", cfg.Consumer),
		metrics: m,
	}
}

// ProcessBatch handles one batch: stale entries left pending by any consumer
// first, then new events up to the batch size. It returns the number of events
// that produced a new message. Every event is acknowledged unless it could be
// neither requeued nor dead-lettered; those are claimed again once stale.
func (uc *ProcessInboundUseCase) ProcessBatch(ctx context.Context) (int, error) {
	events, err := uc.queue.ClaimStale(ctx, uc.cfg.Group, uc.cfg.Consumer, uc.cfg.ClaimMinIdle, uc.cfg.BatchSize)
	if err != nil {
		uc.logger.Warn("failed to claim stale inbound events", "error", err)
	}
	if n := len(events); n > 0 {
		uc.logger.Info("reclaimed stale inbound events", "count", n)
	}

	if remaining := uc.cfg.BatchSize - len(events); remaining > 0 {
		fresh, err := uc.queue.ReadBatch(ctx, uc.cfg.Group, uc.cfg.Consumer, remaining)
		if err != nil {
			uc.logger.Error("failed to read inbound batch", "error", err)
			if len(events) == 0 {
				return 0, err
			}
		}
		events = append(events, fresh...)
	}
	if len(events) == 0 {
		return 0, nil
	}
	uc.logger.Debug("read batch of inbound events", "count", len(events))

	var created int
	ack := make([]string, 0, len(events))
	for _, event := range events {
		outcome, err := uc.ProcessEvent(ctx, event)
		result, settled := uc.settle(ctx, event, outcome, err)
		uc.observe(result)
		if outcome == idempotency.OutcomeCreated {
			created++
		}
		if settled {
			ack = append(ack, event.StreamMessageID)
		}
	}

	if err := uc.queue.Acknowledge(ctx, uc.cfg.Group, ack...); err != nil {
		// Unacknowledged events stay pending until claimed again; the guard
		// makes that redelivery harmless.
		uc.logger.Error("failed to acknowledge inbound events", "error", err)
		return created, err
	}
	return created, nil
}

// ProcessEvent runs one event inside its own tenant scope.
func (uc *ProcessInboundUseCase) ProcessEvent(ctx context.Context, event domain.InboundEvent) (idempotency.Outcome, error) {
	var outcome idempotency.Outcome
	err := tenancy.Run(ctx, func(ctx context.Context, tc *tenancy.Context) error {
		account, err := uc.repos.Accounts.FindByID(ctx, event.AccountID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, event.AccountID)
		}
		if err != nil {
			return err
		}
		if !account.Active() {
			return fmt.Errorf("%w: %d", ErrInactiveAccount, account.ID)
		}
		tc.SetAccount(account)

		lockKey := lock.InboundKey(event.SenderID, account.ID)
		outcome, err = uc.guard.Process(ctx, event.ExternalID, lockKey, func(ctx context.Context) error {
			return uc.record(ctx, tc, event)
		})
		return err
	})
	if err != nil && outcome == "" {
		outcome = idempotency.OutcomeFailed
	}
	return outcome, err
}

// record is the create-or-update critical section. It runs under the coarse
// lock for (sender, account).
func (uc *ProcessInboundUseCase) record(ctx context.Context, tc *tenancy.Context, event domain.InboundEvent) error {
	inbox, err := uc.repos.Inboxes.FindByID(ctx, event.InboxID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrUnknownInbox, event.InboxID)
	}
	if err != nil {
		return err
	}

	contact, err := uc.findOrCreateContact(ctx, event)
	if err != nil {
		return err
	}
	tc.SetContact(contact)

	conversation, err := uc.repos.Conversations.FindOpen(ctx, inbox.ID, contact.ID)
	if errors.Is(err, domain.ErrNotFound) {
		conversation = &domain.Conversation{
			InboxID:        inbox.ID,
			ContactID:      contact.ID,
			Status:         domain.ConversationStatusOpen,
			LastActivityAt: event.SentAt,
		}
		err = uc.repos.Conversations.Create(ctx, conversation)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve conversation: %w", err)
	}

	message := &domain.Message{
		InboxID:        inbox.ID,
		ConversationID: conversation.ID,
		SourceID:       event.ExternalID,
		Content:        event.Content,
		MessageType:    domain.MessageTypeIncoming,
	}
	if err := uc.repos.Messages.Create(ctx, message); err != nil {
		return err
	}
	if err := uc.repos.Conversations.Touch(ctx, conversation.ID, event.SentAt); err != nil {
		uc.logger.Warn("failed to update conversation activity", "conversation_id", conversation.ID, "error", err)
	}
	return nil
}

func (uc *ProcessInboundUseCase) findOrCreateContact(ctx context.Context, event domain.InboundEvent) (*domain.Contact, error) {
	contact, err := uc.repos.Contacts.FindBySourceID(ctx, event.SenderID)
	if err == nil {
		if event.SenderName != "" && contact.Name != event.SenderName {
			if err := uc.repos.Contacts.UpdateName(ctx, contact.ID, event.SenderName); err != nil {
				return nil, fmt.Errorf("failed to update contact name: %w", err)
			}
			contact.Name = event.SenderName
		}
		return contact, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}

	contact = &domain.Contact{SourceID: event.SenderID, Name: event.SenderName}
	err = uc.repos.Contacts.Create(ctx, contact)
	if errors.Is(err, domain.ErrDuplicate) {
		// Created by a delivery that did not share our lock key.
		return uc.repos.Contacts.FindBySourceID(ctx, event.SenderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return contact, nil
}

// settle decides what happens to a handled event and reports whether its
// stream entry can be acknowledged.
func (uc *ProcessInboundUseCase) settle(ctx context.Context, event domain.InboundEvent, outcome idempotency.Outcome, err error) (string, bool) {
	logger := uc.logger.With("event_id", event.ID, "external_id", event.ExternalID, "account_id", event.AccountID)

	switch {
	case err == nil:
		logger.Debug("inbound event handled", "outcome", outcome)
		return string(outcome), true
	case errors.Is(err, ErrUnknownAccount):
		return uc.deadLetter(ctx, logger, event, ReasonUnknownAccount)
	case errors.Is(err, ErrInactiveAccount):
		return uc.deadLetter(ctx, logger, event, ReasonInactiveAccount)
	case errors.Is(err, ErrUnknownInbox):
		return uc.deadLetter(ctx, logger, event, ReasonUnknownInbox)
	}

	logger.Warn("inbound event not processed", "outcome", outcome, "error", err)
	if event.Attempts >= uc.cfg.MaxRequeues {
		return uc.deadLetter(ctx, logger, event, ReasonRequeueExhausted)
	}
	retry := event
	retry.Attempts++
	retry.StreamMessageID = ""
	if qerr := uc.queue.Enqueue(ctx, retry); qerr != nil {
		logger.Error("failed to requeue inbound event, leaving it pending", "error", qerr)
		return "failed", false
	}
	return "requeued", true
}

func (uc *ProcessInboundUseCase) deadLetter(ctx context.Context, logger *slog.Logger, event domain.InboundEvent, reason string) (string, bool) {
	if err := uc.queue.MoveToDLQ(ctx, []domain.InboundEvent{event}, reason); err != nil {
		logger.Error("failed to dead-letter inbound event, leaving it pending", "reason", reason, "error", err)
		return "failed", false
	}
	logger.Warn("inbound event dead-lettered", "reason", reason)
	return "dead_lettered", true
}

func (uc *ProcessInboundUseCase) observe(result string) {
	if uc.metrics != nil {
		uc.metrics.WorkerEvents.WithLabelValues(result).Inc()
	}
}
