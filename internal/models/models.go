// Package models provides data model definitions for the FieldCite sync core.
package models

import "github.com/mensahk/fieldcite/internal/store"

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Collection names.
const (
	CollectionTickets  = "tickets"
	CollectionPhotos   = "photos"
	CollectionPayments = "payments"
	CollectionQueue    = "sync_queue"
	CollectionLogs     = "sync_logs"
	CollectionSettings = "settings"
)

// SchemaVersion is bumped whenever Collections gains a collection or index.
// Opening a store with a newer version creates the missing objects in place.
const SchemaVersion = 1

// Collections declares every collection and its secondary indexes. The
// store creates missing tables and indexes idempotently at open time.
func Collections() []store.Collection {
	return []store.Collection{
		{
			Name:    CollectionTickets,
			KeyPath: "id",
			Indexes: []store.Index{
				{Name: "ticketNumber", Unique: true},
				{Name: "status"},
				{Name: "vehicleReg"},
				{Name: "officerId"},
				{Name: "stationId"},
				{Name: "isSynced"},
				{Name: "createdAt"},
			},
		},
		{
			Name:    CollectionPhotos,
			KeyPath: "id",
			Indexes: []store.Index{
				{Name: "ticketId"},
				{Name: "type"},
				{Name: "isSynced"},
				{Name: "capturedAt"},
			},
		},
		{
			Name:    CollectionPayments,
			KeyPath: "id",
			Indexes: []store.Index{
				{Name: "ticketId"},
				{Name: "paymentReference", Unique: true},
				{Name: "status"},
				{Name: "createdAt"},
			},
		},
		{
			Name:    CollectionQueue,
			AutoKey: true,
			Indexes: []store.Index{
				{Name: "entityType"},
				{Name: "entityId"},
				{Name: "operation"},
				{Name: "status"},
				{Name: "priority", Numeric: true},
				{Name: "createdAt"},
			},
		},
		{
			Name:    CollectionLogs,
			AutoKey: true,
			Indexes: []store.Index{
				{Name: "type"},
				{Name: "timestamp"},
			},
		},
		{
			Name:    CollectionSettings,
			KeyPath: "key",
		},
	}
}
