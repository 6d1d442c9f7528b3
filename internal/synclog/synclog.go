// Package synclog records sync engine activity in a capped, persistent
// diagnostic log. Entries survive restarts; the cap keeps the log from
// growing without bound on long-lived devices.
package synclog

import (
	"time"

	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/store"
)

// MaxEntries is the retention cap. Appending beyond it evicts the oldest
// entries first.
const MaxEntries = 100

// Log is the persistent sync activity log.
type Log struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Log over the given store.
func New(s *store.Store) *Log {
	return &Log{store: s, now: time.Now}
}

// Append writes a new entry and trims the log back to MaxEntries.
func (l *Log) Append(logType models.LogType, details string, itemCount int, duration time.Duration) (*models.SyncLogEntry, error) {
	entry := &models.SyncLogEntry{
		Type:      logType,
		Details:   details,
		ItemCount: itemCount,
		Duration:  duration.Milliseconds(),
		Timestamp: l.now().UTC().Format(time.RFC3339),
	}
	key, err := l.store.Add(models.CollectionLogs, entry)
	if err != nil {
		return nil, err
	}
	entry.ID = key

	if err := l.trim(); err != nil {
		return nil, err
	}
	return entry, nil
}

// trim evicts the oldest entries until the log is back under the cap.
// Keys are assigned in insertion order, so ascending key order is oldest
// first.
func (l *Log) trim() error {
	count, err := l.store.Count(models.CollectionLogs)
	if err != nil {
		return err
	}
	excess := count - MaxEntries
	if excess <= 0 {
		return nil
	}

	var oldest []*models.SyncLogEntry
	err = l.store.QueryInto(models.CollectionLogs, store.QueryOptions{
		Direction: store.Asc,
		Limit:     int(excess),
	}, &oldest)
	if err != nil {
		return err
	}
	for _, entry := range oldest {
		if err := l.store.Delete(models.CollectionLogs, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the newest entries, most recent first, up to limit.
func (l *Log) Recent(limit int) ([]*models.SyncLogEntry, error) {
	if limit <= 0 || limit > MaxEntries {
		limit = MaxEntries
	}
	var entries []*models.SyncLogEntry
	err := l.store.QueryInto(models.CollectionLogs, store.QueryOptions{
		Direction: store.Desc,
		Limit:     limit,
	}, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LastOfType returns the most recent entry of the given type, or nil if
// none exists.
func (l *Log) LastOfType(logType models.LogType) (*models.SyncLogEntry, error) {
	var entries []*models.SyncLogEntry
	err := l.store.QueryInto(models.CollectionLogs, store.QueryOptions{
		Index:     "type",
		Range:     store.Only(string(logType)),
		Direction: store.Desc,
		Limit:     1,
	}, &entries)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// Clear removes every entry.
func (l *Log) Clear() error {
	return l.store.Clear(models.CollectionLogs)
}
