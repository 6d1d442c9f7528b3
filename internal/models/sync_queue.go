package models

import "encoding/json"

// Operation is the kind of mutation a queue item replays remotely.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationUpload Operation = "upload"
)

// EntityType identifies the domain entity a queue item belongs to.
type EntityType string

const (
	EntityTicket  EntityType = "ticket"
	EntityPhoto   EntityType = "photo"
	EntityPayment EntityType = "payment"
)

// QueueStatus is the delivery state of a queue item. Items only move
// forward: pending -> processing -> completed, back to pending for a
// retry, or failed once attempts are exhausted.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusFailed     QueueStatus = "failed"
	StatusCompleted  QueueStatus = "completed"
)

// SyncQueueItem represents a pending mutation awaiting delivery to the
// central server. The ID is assigned by the store in insertion order.
type SyncQueueItem struct {
	ID          int64           `json:"id"`
	Operation   Operation       `json:"operation"`
	EntityType  EntityType      `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"` // 1 (highest) .. 5 (lowest)
	Status      QueueStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	ProcessedAt string          `json:"processedAt,omitempty"`
}

// TableName returns the collection name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return CollectionQueue
}
