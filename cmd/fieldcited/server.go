// REST API for the local UI shell.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/mensahk/fieldcite/internal/errors"
	"github.com/mensahk/fieldcite/internal/logging"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/queue"
	"github.com/mensahk/fieldcite/internal/settings"
	syncpkg "github.com/mensahk/fieldcite/internal/sync"
	"github.com/mensahk/fieldcite/internal/sync/trigger"
	"github.com/mensahk/fieldcite/internal/synclog"
)

// Server exposes the sync core over localhost HTTP.
type Server struct {
	engine       *syncpkg.Engine
	queue        *queue.Queue
	log          *synclog.Log
	scheduler    *trigger.Scheduler
	connectivity *trigger.ManualConnectivity
	hub          *WSHub
	settings     *settings.Settings
}

// NewServer creates a Server over the wired components.
func NewServer(engine *syncpkg.Engine, q *queue.Queue, l *synclog.Log, scheduler *trigger.Scheduler, connectivity *trigger.ManualConnectivity, hub *WSHub) *Server {
	return &Server{
		engine:       engine,
		queue:        q,
		log:          l,
		scheduler:    scheduler,
		connectivity: connectivity,
		hub:          hub,
	}
}

// Routes builds the daemon's HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/sync/status", s.handleStatus)
	mux.HandleFunc("/api/sync/run", s.handleRun)
	mux.HandleFunc("/api/sync/retry", s.handleRetry)
	mux.HandleFunc("/api/sync/queue", s.handleEnqueue)
	mux.HandleFunc("/api/sync/logs", s.handleLogs)
	mux.HandleFunc("/api/connectivity", s.handleConnectivity)
	mux.HandleFunc("/api/settings/token", s.handleToken)
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.HandleWS)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "fieldcited",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleRun requests an immediate sync pass. The pass runs in the
// background; poll the status endpoint or watch the WebSocket stream
// for the outcome.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.scheduler.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	revived, err := s.engine.RetryFailed(r.Context())
	if err != nil {
		logging.Error("Retry of failed items failed", err, nil)
		http.Error(w, "Retry failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revived": revived})
}

type enqueueRequest struct {
	Operation  models.Operation  `json:"operation"`
	EntityType models.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Payload    json.RawMessage   `json:"payload"`
	Priority   int               `json:"priority"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQueueState(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.queue.Enqueue(req.Operation, req.EntityType, req.EntityID, req.Payload, req.Priority)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrQueueItemInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logging.Error("Enqueue failed", err, nil)
		http.Error(w, "Enqueue failed", http.StatusInternalServerError)
		return
	}

	// Deliver promptly when online rather than waiting for the ticker.
	s.scheduler.TriggerNow()

	writeJSON(w, http.StatusCreated, item)
}

// handleQueueState returns pending and failed counts plus failed items
// for the UI's retry screen.
func (s *Server) handleQueueState(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.PendingCount()
	if err != nil {
		http.Error(w, "Queue inspection failed", http.StatusInternalServerError)
		return
	}
	failed, err := s.queue.FailedItems()
	if err != nil {
		http.Error(w, "Queue inspection failed", http.StatusInternalServerError)
		return
	}
	if failed == nil {
		failed = []*models.SyncQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pendingCount": pending,
		"failedCount":  len(failed),
		"failedItems":  failed,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.log.Recent(limit)
	if err != nil {
		logging.Error("Failed to read sync log", err, nil)
		http.Error(w, "Log read failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleConnectivity receives online/offline reports from the UI shell,
// which sees the platform's network events.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.connectivity.Set(req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// handleToken stores or clears the API bearer token. The token is
// never returned; the UI only learns whether one is configured.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		http.Error(w, "Settings unavailable", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		token, err := s.settings.APIToken()
		if err != nil {
			http.Error(w, "Token read failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"configured": token != ""})
	case http.MethodPost:
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.settings.SetAPIToken(req.Token); err != nil {
			logging.Error("Failed to store API token", err, nil)
			http.Error(w, "Token store failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"configured": req.Token != ""})
	case http.MethodDelete:
		if err := s.settings.SetAPIToken(""); err != nil {
			http.Error(w, "Token clear failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"configured": false})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// WatchEngine forwards engine status snapshots to the WebSocket hub
// until ctx is cancelled.
func (s *Server) WatchEngine(ctx context.Context) {
	ch := s.engine.Subscribe()
	defer s.engine.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-ch:
			if !ok {
				return
			}
			if s.hub != nil {
				s.hub.BroadcastStatus(status)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}
