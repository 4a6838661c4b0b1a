package models

import "time"

// MessageStatus represents the delivery state of a queued message.
type MessageStatus string

const (
	// MessageStatusPending means the message is waiting for delivery.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusSyncing means a delivery attempt is in flight.
	MessageStatusSyncing MessageStatus = "syncing"
	// MessageStatusFailed means the retry budget is exhausted; the message
	// stays visible until the user retries or deletes it.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusDeliveredUndeleted is a terminal state for the rare case
	// where the remote endpoint confirmed delivery but the local row could
	// not be removed. Such rows are excluded from future drains so a storage
	// hiccup cannot cause a duplicate send.
	MessageStatusDeliveredUndeleted MessageStatus = "delivered_undeleted"
)

// Message represents an outbound marketplace message awaiting delivery.
type Message struct {
	ID              string        `db:"id" json:"id"`
	ConversationID  string        `db:"conversation_id" json:"conversation_id"`
	SenderID        string        `db:"sender_id" json:"sender_id"`
	RecipientID     string        `db:"recipient_id" json:"recipient_id"`
	PayloadText     string        `db:"payload_text" json:"payload_text"`
	PayloadLanguage string        `db:"payload_language" json:"payload_language"`
	AudioPayload    []byte        `db:"audio_payload" json:"audio_payload,omitempty"`
	EnqueuedAt      int64         `db:"enqueued_at" json:"enqueued_at"` // UnixNano
	RetryCount      int           `db:"retry_count" json:"retry_count"`
	Status          MessageStatus `db:"status" json:"status"`
	LastError       string        `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "outbound_queue"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (m *Message) EnqueuedAtTime() time.Time {
	return time.Unix(0, m.EnqueuedAt)
}
