package models

// LogType classifies a sync log entry.
type LogType string

const (
	LogSyncStart    LogType = "sync_start"
	LogSyncComplete LogType = "sync_complete"
	LogSyncError    LogType = "sync_error"
	LogConflict     LogType = "conflict"
	LogRetry        LogType = "retry"
)

// SyncLogEntry is an append-only diagnostic record of engine activity.
// The log is capped; old entries are evicted oldest-first.
type SyncLogEntry struct {
	ID        int64   `json:"id"`
	Type      LogType `json:"type"`
	Details   string  `json:"details"`
	ItemCount int     `json:"itemCount,omitempty"`
	Duration  int64   `json:"duration,omitempty"` // milliseconds
	Timestamp string  `json:"timestamp"`
}

// TableName returns the collection name for SyncLogEntry.
func (SyncLogEntry) TableName() string {
	return CollectionLogs
}
