// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patchd

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/dbcpatch/services/patch"
)

// Event types published besides the workflow audit actions.
const (
	EventConnected         = "connected"
	EventReferenceImported = "reference_imported"
)

const (
	eventBuffer  = 32
	writeTimeout = 10 * time.Second
)

// Event is one notification pushed to websocket subscribers.
type Event struct {
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	send chan Event
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events instead of blocking publishers.
//
// Thread Safety: all methods are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		logger:  logger,
	}
}

// Publish delivers e to every subscriber with room in its buffer and
// returns how many received it.
func (h *Hub) Publish(e Event) int {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.clients {
		select {
		case s.send <- e:
			delivered++
		default:
			eventsDropped.Inc()
			h.logger.Debug("event dropped for slow subscriber", "type", e.Type)
		}
	}
	return delivered
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber. Later subscriptions end immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		delete(h.clients, s)
		close(s.send)
	}
	h.closed = true
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{send: make(chan Event, eventBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.send)
		return s
	}
	h.clients[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.send)
	}
}

// HandleEvents handles GET /v1/events.
//
// Description:
//
//	Upgrades the connection to a websocket and streams every published
//	Event as JSON until the client disconnects or the hub closes. The
//	first message is a "connected" event carrying the session id.
func (h *Hub) HandleEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleEvents")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	sessionID := uuid.NewString()
	logger.Info("event subscriber connected", "session_id", sessionID)

	hello := Event{
		Type:      EventConnected,
		Time:      time.Now().UTC(),
		RequestID: requestID,
		Details:   map[string]any{"session_id": sessionID},
	}
	if err := writeEvent(ws, hello); err != nil {
		return
	}

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-sub.send:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			if err := writeEvent(ws, e); err != nil {
				logger.Debug("event write failed", "error", err)
				return
			}
		case <-gone:
			logger.Info("event subscriber disconnected", "session_id", sessionID)
			return
		}
	}
}

func writeEvent(ws *websocket.Conn, e Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(e)
}

// publishingAudit records workflow runs in the history store and announces
// them on the hub.
type publishingAudit struct {
	store patch.AuditLog
	hub   *Hub
}

func (a publishingAudit) Log(ctx context.Context, action string, details map[string]any) error {
	err := a.store.Log(ctx, action, details)
	a.hub.Publish(Event{Type: action, RequestID: requestIDFrom(ctx), Details: details})
	return err
}
