package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/inboxguard/internal/domain"
)

const defaultReadBlock = 2 * time.Second

// EventQueue implements domain.EventQueue using Redis Streams. Events are
// JSON encoded under the "payload" field.
type EventQueue struct {
	client    *redis.Client
	logger    *slog.Logger
	stream    string
	dlqStream string
	readBlock time.Duration
}

// NewEventQueue creates the queue and makes sure the consumer group exists. An
// unreachable Redis at startup is logged, not fatal; the group is created
// again by the first ReadBatch that finds it missing.
func NewEventQueue(client *redis.Client, logger *slog.Logger, stream, dlqStream, group string) *EventQueue {
	q := &EventQueue{
		client:    client,
		logger:    logger.With("component", "event_queue", "stream", stream),
		stream:    stream,
		dlqStream: dlqStream,
		readBlock: defaultReadBlock,
	}
	if group != "" {
		if err := q.setupConsumerGroup(context.Background(), group); err != nil {
			q.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
		}
	}
	return q
}

func (q *EventQueue) setupConsumerGroup(ctx context.Context, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends an event to the inbound stream.
func (q *EventQueue) Enqueue(ctx context.Context, event domain.InboundEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		if isNetworkError(err) {
			return fmt.Errorf("failed to XADD to redis stream: %w: %w", domain.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReasonMalformed is the dead-letter reason for stream entries that do not
// decode into an event.
const ReasonMalformed = "malformed_payload"

// ReadBatch reads up to count new events for consumer in group. It returns
// nil, nil when nothing arrived within the block timeout.
func (q *EventQueue) ReadBatch(ctx context.Context, group, consumer string, count int) ([]domain.InboundEvent, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(count),
		Block:    q.readBlock,
	}

	streams, err := q.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if isNoGroupError(err) {
			q.logger.Warn("Consumer group missing, recreating", "group", group)
			return nil, q.setupConsumerGroup(ctx, group)
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.decode(ctx, group, streams[0].Messages), nil
}

// ClaimStale moves entries pending for at least minIdle to consumer and
// returns them. Entries of crashed workers, and entries a worker could
// neither requeue nor dead-letter, come back through here.
func (q *EventQueue) ClaimStale(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]domain.InboundEvent, error) {
	args := &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}

	messages, _, err := q.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if isNoGroupError(err) {
			return nil, q.setupConsumerGroup(ctx, group)
		}
		return nil, fmt.Errorf("failed to XAUTOCLAIM from redis: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return q.decode(ctx, group, messages), nil
}

// decode turns stream entries into events. Entries that do not decode are
// dead-lettered with their raw fields and acknowledged, so they never stay
// pending.
func (q *EventQueue) decode(ctx context.Context, group string, messages []redis.XMessage) []domain.InboundEvent {
	events := make([]domain.InboundEvent, 0, len(messages))
	var malformed []redis.XMessage
	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			q.logger.Warn("Invalid message format in stream", "message_id", msg.ID)
			malformed = append(malformed, msg)
			continue
		}

		var event domain.InboundEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			q.logger.Warn("Failed to unmarshal inbound event from stream", "message_id", msg.ID, "error", err)
			malformed = append(malformed, msg)
			continue
		}
		event.StreamMessageID = msg.ID
		events = append(events, event)
	}

	if len(malformed) > 0 {
		if err := q.quarantine(ctx, group, malformed); err != nil {
			// Left pending; the next claim retries.
			q.logger.Error("Failed to dead-letter malformed entries", "count", len(malformed), "error", err)
		}
	}
	return events
}

func (q *EventQueue) quarantine(ctx context.Context, group string, messages []redis.XMessage) error {
	ids := make([]string, len(messages))
	pipe := q.client.TxPipeline()
	for i, msg := range messages {
		ids[i] = msg.ID
		values := make(map[string]interface{}, len(msg.Values)+4)
		for k, v := range msg.Values {
			values["raw_"+k] = v
		}
		values["reason"] = ReasonMalformed
		values["original_stream"] = q.stream
		values["original_msg_id"] = msg.ID
		values["failed_at"] = time.Now().UTC().Format(time.RFC3339)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values})
	}
	pipe.XAck(ctx, q.stream, group, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute malformed entry pipeline: %w", err)
	}
	return nil
}

// Acknowledge acknowledges handled stream entries.
func (q *EventQueue) Acknowledge(ctx context.Context, group string, streamIDs ...string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.stream, group, streamIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies events to the dead-letter stream together with reason.
// The caller still acknowledges the originals.
func (q *EventQueue) MoveToDLQ(ctx context.Context, events []domain.InboundEvent, reason string) error {
	if len(events) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			q.logger.Error("Failed to marshal event for DLQ", "event_id", event.ID, "error", err)
			continue
		}
		args := &redis.XAddArgs{
			Stream: q.dlqStream,
			Values: map[string]interface{}{
				"payload":         payload,
				"reason":          reason,
				"original_stream": q.stream,
				"original_msg_id": event.StreamMessageID,
				"failed_at":       time.Now().UTC().Format(time.RFC3339),
			},
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	q.logger.Warn("Moved events to DLQ", "count", len(events), "reason", reason)
	return nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
