package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/platform/messenger"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
)

// historian is implemented by notifiers keeping a journal.
type historian interface {
	History(ctx context.Context, count int64) ([]domain.Notification, error)
}

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Channel  string              `json:"channel"`
	Segments []messenger.Segment `json:"segments"`
}

// SendResponse acknowledges a queued send.
type SendResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Jobs      int    `json:"jobs,omitempty"`
}

// Handler serves the HTTP API in front of the ledger.
type Handler struct {
	ledger      *queue.Ledger[domain.Job, json.RawMessage]
	outcomes    *Outcomes
	hub         *Hub
	notifier    domain.OutcomeNotifier
	waitTimeout time.Duration
	logger      *slog.Logger
}

// Send renders the segments, submits them as one request and answers with
// its id. With ?wait=true it blocks until the request settles or the wait
// timeout passes.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	jobs, err := messenger.MakeJobs(domain.NewResultBook(), req.Channel, req.Segments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID := uuid.NewString()
	future := h.ledger.Submit(jobs)
	h.outcomes.Track(requestID, future)
	h.logger.Info("Received send", "requestID", requestID, "channel", req.Channel, "jobs", len(jobs))

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, SendResponse{RequestID: requestID, Status: "queued", Jobs: len(jobs)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	outcome, err := future.Wait(ctx)
	if err != nil {
		writeJSON(w, http.StatusAccepted, SendResponse{RequestID: requestID, Status: "pending", Jobs: len(jobs)})
		return
	}
	writeJSON(w, http.StatusOK, domain.NewNotification(requestID, outcome))
}

// Outcome reports a request as pending (202) or settled (200).
func (h *Handler) Outcome(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	n, known := h.outcomes.Lookup(requestID)
	switch {
	case !known:
		writeError(w, http.StatusNotFound, "unknown request")
	case n == nil:
		writeJSON(w, http.StatusAccepted, SendResponse{RequestID: requestID, Status: "pending"})
	default:
		writeJSON(w, http.StatusOK, n)
	}
}

// History lists recently settled requests from the outcome journal.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	journal, ok := h.notifier.(historian)
	if !ok {
		writeError(w, http.StatusNotImplemented, "no outcome journal configured")
		return
	}

	limit := int64(20)
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	list, err := journal.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read outcome journal", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// WS upgrades the connection and pushes the outcome of request_id once it
// settles.
func (h *Handler) WS(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	if _, known := h.outcomes.Lookup(requestID); !known {
		writeError(w, http.StatusNotFound, "unknown request")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	h.logger.Debug("Client connected via WebSocket", "requestID", requestID, "remoteAddr", conn.RemoteAddr())
	h.hub.Register(requestID, conn)
	defer func() {
		h.hub.Unregister(requestID, conn)
		_ = conn.Close()
	}()

	// Settled before the client registered.
	if n, _ := h.outcomes.Lookup(requestID); n != nil {
		h.hub.Deliver(*n)
	}

	// Keep the connection until the hub closes it or the client leaves.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
