package domain

import "time"

// InboundEvent is a normalized inbound message delivery waiting to be
// processed by a worker. Each event is processed as its own unit of work.
type InboundEvent struct {
	ID              string    `json:"event_id"`
	AccountID       int64     `json:"account_id"`
	InboxID         int64     `json:"inbox_id"`
	ExternalID      string    `json:"external_id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name,omitempty"`
	Content         string    `json:"content"`
	SentAt          time.Time `json:"sent_at"`
	ReceivedAt      time.Time `json:"received_at"`
	Attempts        int       `json:"attempts"`
	StreamMessageID string    `json:"-"`
}
