// Package sync implements the sync worker: it drains the pending queue
// against the central API, updates entity sync flags, and records every
// pass in the sync log.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/logging"
	"github.com/mensahk/fieldcite/internal/metrics"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/queue"
	"github.com/mensahk/fieldcite/internal/store"
	"github.com/mensahk/fieldcite/internal/synclog"
)

const (
	// DefaultBatchSize is the number of queue items drained per pass.
	DefaultBatchSize = 10

	// DefaultRequestTimeout bounds each API request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRetention is how long completed queue items are kept for
	// diagnostics before the pass purges them.
	DefaultRetention = 24 * time.Hour
)

// Endpoints maps each entity type to its API base URL.
type Endpoints map[models.EntityType]string

// OnlineProbe reports whether the device currently has connectivity.
type OnlineProbe func() bool

// Result summarizes one sync pass.
type Result struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Status is an immutable snapshot of engine state for UIs and the
// status endpoint.
type Status struct {
	IsRunning    bool   `json:"isRunning"`
	LastSync     string `json:"lastSync,omitempty"`
	PendingCount int64  `json:"pendingCount"`
	FailedCount  int64  `json:"failedCount"`
}

// Config holds engine construction parameters.
type Config struct {
	Endpoints      Endpoints
	Tokens         TokenSource
	Online         OnlineProbe
	BatchSize      int
	RequestTimeout time.Duration
	Retention      time.Duration
}

// Engine drives sync passes. At most one pass runs at a time; triggers
// arriving while a pass is in flight are dropped.
type Engine struct {
	store     *store.Store
	queue     *queue.Queue
	log       *synclog.Log
	client    *Client
	endpoints Endpoints
	online    OnlineProbe
	batchSize int
	retention time.Duration

	running atomic.Bool

	mu       sync.RWMutex
	lastSync time.Time

	subMu       sync.Mutex
	subscribers []chan Status
}

// New creates an Engine over the given store, queue, and log.
func New(s *store.Store, q *queue.Queue, l *synclog.Log, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Engine{
		store:     s,
		queue:     q,
		log:       l,
		client:    NewClient(cfg.RequestTimeout, cfg.Tokens),
		endpoints: cfg.Endpoints,
		online:    cfg.Online,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
	}
}

// IsRunning reports whether a pass is currently in flight.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// RunPass drains one batch of pending items. It returns immediately with
// an empty result when the device is offline or a pass is already
// running. Item failures never abort the pass.
func (e *Engine) RunPass(ctx context.Context) (*Result, error) {
	if e.online != nil && !e.online() {
		logging.Debug("Skipping sync pass - device is offline", nil)
		return &Result{}, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		logging.Debug("Sync pass already in progress, skipping", nil)
		return &Result{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithCode("Sync pass panicked", string(apperrors.ErrSyncFailed),
				fmt.Errorf("%v", r), nil)
			e.log.Append(models.LogSyncError, fmt.Sprintf("sync pass panicked: %v", r), 0, 0)
		}
		e.running.Store(false)
		e.notify()
	}()

	start := time.Now()
	e.notify()

	if _, err := e.log.Append(models.LogSyncStart, "sync pass started", 0, 0); err != nil {
		return nil, err
	}

	batch, err := e.queue.PendingBatch(e.batchSize)
	if err != nil {
		e.log.Append(models.LogSyncError, fmt.Sprintf("failed to load pending batch: %v", err), 0, 0)
		return nil, err
	}

	// A pass always runs to completion over its fetched batch. Callers
	// hand in request-scoped contexts; a client disconnect must not
	// abort delivery halfway through.
	ctx = context.WithoutCancel(ctx)

	result := &Result{}
	for _, item := range batch {
		switch e.processItem(ctx, item) {
		case itemCompleted:
			result.Success++
		case itemFailed:
			result.Failed++
		case itemRequeued:
			// Retried on a later pass; not counted in this one.
		}
	}

	if purged, err := e.queue.PurgeCompletedOlderThan(e.retention); err != nil {
		logging.Error("Failed to purge completed queue items", err, nil)
	} else if purged > 0 {
		logging.Debug("Purged completed queue items",
			map[string]interface{}{"count": purged})
	}

	result.Duration = time.Since(start)

	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()

	e.log.Append(models.LogSyncComplete,
		fmt.Sprintf("synced %d items, %d failed", result.Success, result.Failed),
		result.Success+result.Failed, result.Duration)

	metrics.ObservePass(result.Duration, result.Failed > 0)
	e.updateQueueGauges()

	logging.Info("Sync pass completed",
		map[string]interface{}{
			"success":     result.Success,
			"failed":      result.Failed,
			"duration_ms": result.Duration.Milliseconds(),
		})

	return result, nil
}

// itemOutcome is the pass-level accounting for one queue item. Items
// re-queued for a later pass are neither a success nor a failure of
// this one.
type itemOutcome int

const (
	itemCompleted itemOutcome = iota
	itemFailed
	itemRequeued
)

// processItem delivers one queue item and records the outcome.
func (e *Engine) processItem(ctx context.Context, item *models.SyncQueueItem) itemOutcome {
	if err := e.queue.MarkProcessing(item); err != nil {
		return itemFailed
	}

	syncedURL, err := e.deliver(ctx, item)
	if err == nil {
		if err := e.queue.MarkCompleted(item); err != nil {
			return itemFailed
		}
		if err := e.markEntitySynced(item, syncedURL); err != nil {
			logging.Error("Failed to flag entity as synced", err,
				map[string]interface{}{
					"entity_type": string(item.EntityType),
					"entity_id":   item.EntityID,
				})
		}
		metrics.ItemSynced(string(item.EntityType))
		return itemCompleted
	}

	item.Attempts++
	metrics.ItemFailed(string(item.EntityType))

	if item.Attempts >= item.MaxAttempts || !isRetryable(err) {
		if markErr := e.queue.MarkFailed(item, err); markErr != nil {
			return itemFailed
		}
		e.log.Append(models.LogSyncError,
			fmt.Sprintf("%s %s %s failed permanently after %d attempts: %v",
				item.Operation, item.EntityType, item.EntityID, item.Attempts, err), 0, 0)
		return itemFailed
	}

	if markErr := e.queue.MarkRetry(item, err); markErr != nil {
		return itemFailed
	}
	logging.Debug("Queue item re-queued for retry",
		map[string]interface{}{
			"item_id":  item.ID,
			"attempts": item.Attempts,
			"error":    err.Error(),
		})
	return itemRequeued
}

// deliver sends one item to the API. For uploads it returns the server
// URL of the stored file.
func (e *Engine) deliver(ctx context.Context, item *models.SyncQueueItem) (string, error) {
	base, ok := e.endpoints[item.EntityType]
	if !ok || base == "" {
		return "", apperrors.New(apperrors.ErrEndpointMissing,
			fmt.Sprintf("no endpoint configured for %s", item.EntityType))
	}

	var (
		resp *Response
		err  error
	)
	switch item.Operation {
	case models.OperationCreate:
		resp, err = e.client.Send(ctx, http.MethodPost, base, item.Payload)
	case models.OperationUpdate:
		resp, err = e.client.Send(ctx, http.MethodPut, base+"/"+item.EntityID, item.Payload)
	case models.OperationDelete:
		resp, err = e.client.Send(ctx, http.MethodDelete, base+"/"+item.EntityID, nil)
	case models.OperationUpload:
		return e.deliverUpload(ctx, item, base)
	default:
		return "", apperrors.New(apperrors.ErrQueueItemInvalid,
			fmt.Sprintf("unknown operation %q", item.Operation))
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrSyncFailed, "request failed", err)
	}
	if !resp.OK() {
		return "", statusError(resp)
	}
	return "", nil
}

// deliverUpload posts a photo blob as multipart form data.
func (e *Engine) deliverUpload(ctx context.Context, item *models.SyncQueueItem, base string) (string, error) {
	decoded, err := decodePayload(item)
	if err != nil {
		return "", err
	}
	payload, ok := decoded.(*PhotoUploadPayload)
	if !ok {
		return "", apperrors.New(apperrors.ErrPayloadUndecodable,
			fmt.Sprintf("upload payload for %s item %d", item.EntityType, item.ID))
	}

	var photo models.Photo
	if err := e.store.GetInto(models.CollectionPhotos, item.EntityID, &photo); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.New(apperrors.ErrBlobNotFound,
				fmt.Sprintf("blob not found for photo %s", item.EntityID))
		}
		return "", err
	}
	if len(photo.Blob) == 0 {
		return "", apperrors.New(apperrors.ErrBlobNotFound,
			fmt.Sprintf("blob not found for photo %s", item.EntityID))
	}

	resp, err := e.client.Upload(ctx, base+"/upload", photo.Blob,
		payload.FileName, payload.TicketID, payload.Type)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrSyncFailed, "upload request failed", err)
	}
	if !resp.OK() {
		return "", statusError(resp)
	}

	var uploaded struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &uploaded); err != nil {
		// Upload succeeded; a missing URL only loses the remote link.
		logging.Debug("Upload response had no parseable URL",
			map[string]interface{}{"photo_id": item.EntityID})
	}
	return uploaded.URL, nil
}

// statusError classifies a non-2xx response into a retryable or terminal
// error code.
func statusError(resp *Response) error {
	msg := fmt.Sprintf("server returned status %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrSyncAuthFailed, msg)
	case retryableStatus(resp.StatusCode):
		return apperrors.New(apperrors.ErrSyncFailed, msg)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
}

// isRetryable reports whether a delivery error is worth another attempt.
func isRetryable(err error) bool {
	for _, code := range []apperrors.ErrorCode{
		apperrors.ErrEndpointMissing,
		apperrors.ErrBlobNotFound,
		apperrors.ErrRemoteRejected,
		apperrors.ErrSyncAuthFailed,
		apperrors.ErrPayloadUndecodable,
		apperrors.ErrQueueItemInvalid,
	} {
		if apperrors.Is(err, code) {
			return false
		}
	}
	return true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// markEntitySynced flags the owning entity after a successful delivery.
// Delete operations have no local entity left to flag. A photo's blob is
// dropped once the server confirms the upload.
func (e *Engine) markEntitySynced(item *models.SyncQueueItem, syncedURL string) error {
	if item.Operation == models.OperationDelete {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var (
		collection string
		record     interface{}
	)
	switch item.EntityType {
	case models.EntityTicket:
		var ticket models.Ticket
		if err := e.store.GetInto(models.CollectionTickets, item.EntityID, &ticket); err != nil {
			return ignoreNotFound(err)
		}
		ticket.IsSynced = true
		ticket.SyncedAt = now
		collection, record = models.CollectionTickets, &ticket
	case models.EntityPayment:
		var payment models.Payment
		if err := e.store.GetInto(models.CollectionPayments, item.EntityID, &payment); err != nil {
			return ignoreNotFound(err)
		}
		payment.IsSynced = true
		payment.SyncedAt = now
		collection, record = models.CollectionPayments, &payment
	case models.EntityPhoto:
		var photo models.Photo
		if err := e.store.GetInto(models.CollectionPhotos, item.EntityID, &photo); err != nil {
			return ignoreNotFound(err)
		}
		photo.IsSynced = true
		photo.SyncedAt = now
		if syncedURL != "" {
			photo.SyncedURL = syncedURL
		}
		collection, record = models.CollectionPhotos, &photo
	default:
		return nil
	}
	return e.store.Put(collection, record)
}

// ignoreNotFound swallows NOT_FOUND: the entity was deleted locally
// after the queue item was written.
func ignoreNotFound(err error) error {
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// RetryFailed revives terminally failed items and runs a pass to deliver
// them. Returns the number of items revived.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	revived, err := e.queue.RetryFailed()
	if err != nil {
		return 0, err
	}
	if revived == 0 {
		return 0, nil
	}
	e.log.Append(models.LogRetry, fmt.Sprintf("re-queued %d failed items", revived), revived, 0)

	if _, err := e.RunPass(ctx); err != nil {
		return revived, err
	}
	return revived, nil
}

// Status returns a snapshot of engine state recomputed from the store.
func (e *Engine) Status() Status {
	pending, err := e.queue.PendingCount()
	if err != nil {
		logging.Error("Failed to count pending items", err, nil)
	}
	failed, err := e.queue.FailedCount()
	if err != nil {
		logging.Error("Failed to count failed items", err, nil)
	}

	e.mu.RLock()
	lastSync := e.lastSync
	e.mu.RUnlock()

	status := Status{
		IsRunning:    e.running.Load(),
		PendingCount: pending,
		FailedCount:  failed,
	}
	if !lastSync.IsZero() {
		status.LastSync = lastSync.UTC().Format(time.RFC3339)
	} else if entry, err := e.log.LastOfType(models.LogSyncComplete); err == nil && entry != nil {
		status.LastSync = entry.Timestamp
	}
	return status
}

// Subscribe registers a status listener. Snapshots are delivered
// best-effort; a slow listener misses updates rather than stalling a
// pass.
func (e *Engine) Subscribe() <-chan Status {
	ch := make(chan Status, 1)
	e.subMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (e *Engine) Unsubscribe(ch <-chan Status) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// notify pushes the current status to every subscriber without blocking.
func (e *Engine) notify() {
	status := e.Status()
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, sub := range e.subscribers {
		select {
		case sub <- status:
		default:
			// Conflate to the latest value: drop the stale buffered
			// snapshot so a slow subscriber misses old updates rather
			// than being stuck with the oldest one.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- status:
			default:
			}
		}
	}
}

func (e *Engine) updateQueueGauges() {
	if pending, err := e.queue.PendingCount(); err == nil {
		metrics.SetPendingItems(pending)
	}
	if failed, err := e.queue.FailedCount(); err == nil {
		metrics.SetFailedItems(failed)
	}
}
