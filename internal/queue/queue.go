// Package queue provides the durable sync queue: a typed facade over the
// sync_queue collection holding every pending mutation until the sync
// worker delivers it.
package queue

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/store"
)

// DefaultMaxAttempts is the delivery attempt ceiling for new items.
const DefaultMaxAttempts = 5

// DefaultPriority is used when the caller passes a priority outside 1..5.
const DefaultPriority = 3

// Queue manages pending sync operations persisted in the local store.
type Queue struct {
	store       *store.Store
	now         func() time.Time
	maxAttempts int
}

// New creates a Queue over the given store.
func New(s *store.Store) *Queue {
	return &Queue{store: s, now: time.Now, maxAttempts: DefaultMaxAttempts}
}

// SetMaxAttempts overrides the attempt ceiling assigned to new items.
func (q *Queue) SetMaxAttempts(n int) {
	if n > 0 {
		q.maxAttempts = n
	}
}

// Enqueue persists a new pending item and returns it with its assigned
// key. Enqueue never waits for delivery; flushing is the worker's job.
func (q *Queue) Enqueue(op models.Operation, entityType models.EntityType, entityID string, payload []byte, priority int) (*models.SyncQueueItem, error) {
	switch op {
	case models.OperationCreate, models.OperationUpdate, models.OperationDelete, models.OperationUpload:
	default:
		return nil, apperrors.New(apperrors.ErrQueueItemInvalid, fmt.Sprintf("unknown operation %q", op))
	}
	if entityID == "" {
		return nil, apperrors.New(apperrors.ErrQueueItemInvalid, "entity id must not be empty")
	}
	if priority < 1 || priority > 5 {
		priority = DefaultPriority
	}

	item := &models.SyncQueueItem{
		Operation:   op,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
		Priority:    priority,
		Status:      models.StatusPending,
		Attempts:    0,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   q.now().UTC().Format(time.RFC3339),
	}

	key, err := q.store.Add(models.CollectionQueue, item)
	if err != nil {
		return nil, err
	}
	item.ID = key
	return item, nil
}

// PendingBatch returns up to limit pending items ordered by ascending
// priority, then insertion order within a priority band.
func (q *Queue) PendingBatch(limit int) ([]*models.SyncQueueItem, error) {
	var items []*models.SyncQueueItem
	err := q.store.QueryInto(models.CollectionQueue, store.QueryOptions{
		Index: "status",
		Range: store.Only(string(models.StatusPending)),
	}, &items)
	if err != nil {
		return nil, err
	}

	// Keys are assigned in insertion order, so (priority, id) gives a
	// stable FIFO within each priority band.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].ID < items[j].ID
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// MarkProcessing transitions an item from pending to processing.
func (q *Queue) MarkProcessing(item *models.SyncQueueItem) error {
	item.Status = models.StatusProcessing
	return q.store.Put(models.CollectionQueue, item)
}

// MarkCompleted finalizes a delivered item. Completed items are retained
// until purged so duplicates can be diagnosed.
func (q *Queue) MarkCompleted(item *models.SyncQueueItem) error {
	item.Status = models.StatusCompleted
	item.LastError = ""
	item.ProcessedAt = q.now().UTC().Format(time.RFC3339)
	return q.store.Put(models.CollectionQueue, item)
}

// MarkRetry returns an item to pending after a failed attempt, recording
// the failure for the next pass.
func (q *Queue) MarkRetry(item *models.SyncQueueItem, deliveryErr error) error {
	item.Status = models.StatusPending
	item.LastError = deliveryErr.Error()
	return q.store.Put(models.CollectionQueue, item)
}

// MarkFailed marks an item terminally failed. Only RetryFailed revives
// terminal items.
func (q *Queue) MarkFailed(item *models.SyncQueueItem, deliveryErr error) error {
	item.Status = models.StatusFailed
	item.LastError = deliveryErr.Error()
	item.ProcessedAt = q.now().UTC().Format(time.RFC3339)
	return q.store.Put(models.CollectionQueue, item)
}

// RetryFailed resets every terminally failed item to pending with a fresh
// attempt budget. Returns the number of items revived.
func (q *Queue) RetryFailed() (int, error) {
	items, err := q.FailedItems()
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	batch := make([]interface{}, 0, len(items))
	for _, item := range items {
		item.Status = models.StatusPending
		item.Attempts = 0
		item.LastError = ""
		item.ProcessedAt = ""
		batch = append(batch, item)
	}
	if err := q.store.PutMany(models.CollectionQueue, batch); err != nil {
		return 0, err
	}
	return len(items), nil
}

// PurgeCompletedOlderThan deletes completed items whose ProcessedAt is
// older than the retention window.
func (q *Queue) PurgeCompletedOlderThan(retention time.Duration) (int, error) {
	var items []*models.SyncQueueItem
	err := q.store.QueryInto(models.CollectionQueue, store.QueryOptions{
		Index: "status",
		Range: store.Only(string(models.StatusCompleted)),
	}, &items)
	if err != nil {
		return 0, err
	}

	cutoff := q.now().UTC().Add(-retention)
	purged := 0
	for _, item := range items {
		if item.ProcessedAt == "" {
			continue
		}
		processedAt, err := time.Parse(time.RFC3339, item.ProcessedAt)
		if err != nil {
			continue
		}
		if processedAt.Before(cutoff) {
			if err := q.store.Delete(models.CollectionQueue, item.ID); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}

// FailedItems returns every terminally failed item.
func (q *Queue) FailedItems() ([]*models.SyncQueueItem, error) {
	var items []*models.SyncQueueItem
	err := q.store.QueryInto(models.CollectionQueue, store.QueryOptions{
		Index: "status",
		Range: store.Only(string(models.StatusFailed)),
	}, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PendingCount returns the number of pending items.
func (q *Queue) PendingCount() (int64, error) {
	return q.store.CountBy(models.CollectionQueue, "status", string(models.StatusPending))
}

// FailedCount returns the number of terminally failed items.
func (q *Queue) FailedCount() (int64, error) {
	return q.store.CountBy(models.CollectionQueue, "status", string(models.StatusFailed))
}
