package usecase

import (
	"context"
	"fmt"

	"github.com/V4T54L/inboxguard/internal/channelauth"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/idempotency"
	"github.com/V4T54L/inboxguard/internal/lock"
)

// StreamStatus is an operational snapshot of the inbound and dead-letter streams.
type StreamStatus struct {
	Stream    string                        `json:"stream"`
	Length    int64                         `json:"length"`
	DLQStream string                        `json:"dlq_stream"`
	DLQLength int64                         `json:"dlq_length"`
	Groups    []domain.ConsumerGroupInfo    `json:"groups"`
	Pending   *domain.PendingMessageSummary `json:"pending"`
}

// AdminUseCase serves operator actions on the shared store and streams.
type AdminUseCase struct {
	streams   domain.StreamAdminRepository
	locks     *lock.Manager
	guard     *idempotency.Guard
	authCache *channelauth.Cache
	stream    string
	dlqStream string
	group     string
}

func NewAdminUseCase(streams domain.StreamAdminRepository, locks *lock.Manager, guard *idempotency.Guard, authCache *channelauth.Cache, stream, dlqStream, group string) *AdminUseCase {
	return &AdminUseCase{
		streams:   streams,
		locks:     locks,
		guard:     guard,
		authCache: authCache,
		stream:    stream,
		dlqStream: dlqStream,
		group:     group,
	}
}

func (uc *AdminUseCase) StreamStatus(ctx context.Context) (*StreamStatus, error) {
	status := &StreamStatus{Stream: uc.stream, DLQStream: uc.dlqStream}
	var err error
	if status.Length, err = uc.streams.StreamLength(ctx, uc.stream); err != nil {
		return nil, err
	}
	if status.DLQLength, err = uc.streams.StreamLength(ctx, uc.dlqStream); err != nil {
		return nil, err
	}
	if status.Groups, err = uc.streams.GetGroupInfo(ctx, uc.stream); err != nil {
		return nil, err
	}
	if status.Pending, err = uc.streams.GetPendingSummary(ctx, uc.stream, uc.group); err != nil {
		return nil, err
	}
	return status, nil
}

// TrimDLQ keeps only the newest maxLen dead-lettered events.
func (uc *AdminUseCase) TrimDLQ(ctx context.Context, maxLen int64) (int64, error) {
	if maxLen < 0 {
		return 0, fmt.Errorf("max length must not be negative, got %d", maxLen)
	}
	return uc.streams.TrimStream(ctx, uc.dlqStream, maxLen)
}

// PendingMessages lists unacknowledged inbound entries, optionally of a
// single consumer.
func (uc *AdminUseCase) PendingMessages(ctx context.Context, consumer string, count int64) ([]domain.PendingMessageDetail, error) {
	if count <= 0 {
		count = 100
	}
	return uc.streams.GetPendingMessages(ctx, uc.stream, uc.group, consumer, count)
}

func (uc *AdminUseCase) LockStatus(ctx context.Context, senderID string, accountID int64) (*domain.LockStatus, error) {
	key := lock.InboundKey(senderID, accountID)
	locked, err := uc.locks.IsLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	return &domain.LockStatus{Key: key, Locked: locked}, nil
}

// ClearInFlight drops a marker left behind by a crashed worker before its TTL.
func (uc *AdminUseCase) ClearInFlight(ctx context.Context, externalID string) error {
	return uc.guard.ClearInFlight(ctx, externalID)
}

func (uc *AdminUseCase) ClearAuthCache(ctx context.Context, credential string, accountID int64) error {
	return uc.authCache.Clear(ctx, credential, accountID)
}
