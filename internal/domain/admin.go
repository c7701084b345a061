package domain

// ConsumerGroupInfo describes a worker consumer group on the inbound stream.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// PendingMessageSummary summarizes events delivered to workers but not yet acknowledged.
type PendingMessageSummary struct {
	Total          int64            `json:"total"`
	FirstMessageID string           `json:"first_message_id,omitempty"`
	LastMessageID  string           `json:"last_message_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

// PendingMessageDetail is one delivered but unacknowledged stream entry.
type PendingMessageDetail struct {
	ID         string `json:"id"`
	Consumer   string `json:"consumer"`
	IdleMillis int64  `json:"idle_ms"`
	Deliveries int64  `json:"deliveries"`
}

// LockStatus is a point-in-time view of a lock key.
type LockStatus struct {
	Key    string `json:"key"`
	Locked bool   `json:"locked"`
}
