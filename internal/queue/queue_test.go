package queue

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/store"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.Open(t.TempDir(), store.Schema{
		Version:     models.SchemaVersion,
		Collections: models.Collections(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestEnqueue_assignsDefaults(t *testing.T) {
	q := openTestQueue(t)

	item, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", []byte(`{"id":"t-1"}`), 2)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.ID <= 0 {
		t.Errorf("expected assigned key, got %d", item.ID)
	}
	if item.Status != models.StatusPending {
		t.Errorf("expected status pending, got %q", item.Status)
	}
	if item.Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", item.Attempts)
	}
	if item.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, item.MaxAttempts)
	}
	if item.CreatedAt == "" {
		t.Error("expected createdAt to be set")
	}
}

func TestEnqueue_clampsPriority(t *testing.T) {
	q := openTestQueue(t)

	for _, bad := range []int{0, -1, 6, 100} {
		item, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, bad)
		if err != nil {
			t.Fatalf("enqueue priority %d: %v", bad, err)
		}
		if item.Priority != DefaultPriority {
			t.Errorf("priority %d: expected default %d, got %d", bad, DefaultPriority, item.Priority)
		}
	}
}

func TestEnqueue_rejectsInvalid(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue("replicate", models.EntityTicket, "t-1", nil, 1); err == nil {
		t.Error("expected error for unknown operation")
	} else if !apperrors.Is(err, apperrors.ErrQueueItemInvalid) {
		t.Errorf("expected QUEUE_ITEM_INVALID, got %v", err)
	}

	if _, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "", nil, 1); err == nil {
		t.Error("expected error for empty entity id")
	}
}

func TestPendingBatch_priorityThenInsertionOrder(t *testing.T) {
	q := openTestQueue(t)

	low, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-low", nil, 5)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := q.Enqueue(models.OperationCreate, models.EntityPayment, "p-1", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.Enqueue(models.OperationUpdate, models.EntityPayment, "p-2", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	batch, err := q.PendingBatch(10)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 items, got %d", len(batch))
	}
	want := []int64{first.ID, second.ID, low.ID}
	for i, item := range batch {
		if item.ID != want[i] {
			t.Errorf("position %d: expected item %d, got %d", i, want[i], item.ID)
		}
	}
}

func TestPendingBatch_respectsLimit(t *testing.T) {
	q := openTestQueue(t)

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 3); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := q.PendingBatch(2)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("expected 2 items, got %d", len(batch))
	}
}

func TestPendingBatch_excludesNonPending(t *testing.T) {
	q := openTestQueue(t)

	done, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkCompleted(done); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if _, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-2", nil, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	batch, err := q.PendingBatch(10)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 pending item, got %d", len(batch))
	}
	if batch[0].EntityID != "t-2" {
		t.Errorf("expected t-2, got %q", batch[0].EntityID)
	}
}

func TestMarkCompleted_setsProcessedAt(t *testing.T) {
	q := openTestQueue(t)

	item, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkCompleted(item); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	var stored models.SyncQueueItem
	if err := q.store.GetInto(models.CollectionQueue, item.ID, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %q", stored.Status)
	}
	if stored.ProcessedAt == "" {
		t.Error("expected processedAt to be set")
	}
}

func TestMarkRetry_recordsError(t *testing.T) {
	q := openTestQueue(t)

	item, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item.Attempts++
	if err := q.MarkRetry(item, errors.New("connection refused")); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	var stored models.SyncQueueItem
	if err := q.store.GetInto(models.CollectionQueue, item.ID, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusPending {
		t.Errorf("expected pending, got %q", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", stored.Attempts)
	}
	if stored.LastError != "connection refused" {
		t.Errorf("expected lastError recorded, got %q", stored.LastError)
	}
}

func TestRetryFailed_revivesTerminalItems(t *testing.T) {
	q := openTestQueue(t)

	failed, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed.Attempts = DefaultMaxAttempts
	if err := q.MarkFailed(failed, errors.New("server error")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	done, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-2", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkCompleted(done); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	revived, err := q.RetryFailed()
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if revived != 1 {
		t.Errorf("expected 1 revived item, got %d", revived)
	}

	var stored models.SyncQueueItem
	if err := q.store.GetInto(models.CollectionQueue, failed.ID, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusPending {
		t.Errorf("expected pending, got %q", stored.Status)
	}
	if stored.Attempts != 0 {
		t.Errorf("expected attempts reset, got %d", stored.Attempts)
	}
	if stored.LastError != "" {
		t.Errorf("expected lastError cleared, got %q", stored.LastError)
	}
}

func TestRetryFailed_noFailedItems(t *testing.T) {
	q := openTestQueue(t)

	revived, err := q.RetryFailed()
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if revived != 0 {
		t.Errorf("expected 0 revived items, got %d", revived)
	}
}

func TestPurgeCompletedOlderThan(t *testing.T) {
	q := openTestQueue(t)

	old, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-old", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	if err := q.MarkCompleted(old); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	q.now = time.Now

	recent, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-recent", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkCompleted(recent); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	purged, err := q.PurgeCompletedOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged item, got %d", purged)
	}
	if _, err := q.store.Get(models.CollectionQueue, old.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected old item removed, got %v", err)
	}
	if _, err := q.store.Get(models.CollectionQueue, recent.ID); err != nil {
		t.Errorf("expected recent item retained, got %v", err)
	}
}

func TestCounts(t *testing.T) {
	q := openTestQueue(t)

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-1", nil, 1); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	failed, err := q.Enqueue(models.OperationCreate, models.EntityTicket, "t-2", nil, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.MarkFailed(failed, errors.New("rejected")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := q.PendingCount()
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if pending != 3 {
		t.Errorf("expected 3 pending, got %d", pending)
	}
	failedCount, err := q.FailedCount()
	if err != nil {
		t.Fatalf("failed count: %v", err)
	}
	if failedCount != 1 {
		t.Errorf("expected 1 failed, got %d", failedCount)
	}
}
