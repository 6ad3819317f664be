package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyfeed-dev/skyfeed/internal/filter"
	"github.com/skyfeed-dev/skyfeed/internal/metrics"
)

// @title skyfeed API
// @version 1.0.0
// @description Filter management and real-time streaming over the AT Protocol firehose.
// @description
// @description ## Overview
// @description This API manages named filters over the firehose and streams matching
// @description events to WebSocket clients, one connection per filter.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /
//
// @tag.name Health
// @tag.description Server health and status endpoints
//
// @tag.name Filters
// @tag.description Filter configuration and management
//
// @tag.name Timelines
// @tag.description Follow-graph-backed timeline filters
//
// @tag.name WebSocket
// @tag.description Real-time WebSocket connections

// APIResponse is the common envelope for REST responses.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WSMessage is the envelope for messages sent over a /ws/{filter} connection.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func writeResponse(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// handleRoot provides basic information about the API.
// @Summary API Information
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse
// @Router / [get]
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "skyfeed filter and fan-out API",
		Data: map[string]any{
			"endpoints": []string{
				"GET /api/status",
				"GET /api/filters",
				"POST /api/filters",
				"GET /api/filters/{name}",
				"DELETE /api/filters/{name}",
				"POST /api/filters/{name}/subscribe-repo",
				"POST /api/filters/{name}/unsubscribe-repo",
				"POST /api/filters/{name}/subscribe-handle",
				"POST /api/filters/{name}/unsubscribe-handle",
				"POST /api/timelines",
				"DELETE /api/timelines/{handle}",
				"GET /api/stats",
				"GET /ws/{name}",
			},
		},
	})
}

// handleStatus reports server liveness and the current filter roster.
// @Summary Server Status
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse
// @Router /api/status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := make([]string, 0)
	for _, f := range s.filters.All() {
		names = append(names, f.Name)
	}
	writeResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "server is running",
		Data:    map[string]any{"status": "active", "filters": names},
	})
}

// handleFilters lists (GET) or creates/replaces (POST) a filter.
// @Summary List or create filters
// @Tags Filters
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse
// @Router /api/filters [get]
// @Router /api/filters [post]
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeResponse(w, http.StatusOK, APIResponse{Success: true, Data: s.filters.All()})
	case http.MethodPost:
		var f filter.Filter
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: "invalid JSON body: " + err.Error()})
			return
		}
		if f.Name == "" {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: "filter name is required"})
			return
		}
		s.filters.Put(f)
		s.hub.Reconfigure()
		metrics.FiltersCreated.Inc()
		writeResponse(w, http.StatusOK, APIResponse{Success: true, Message: "filter saved", Data: f})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// filterSubPath splits "/api/filters/{name}(/{action})?" into its parts.
func filterSubPath(path string) (name, action string) {
	trimmed := strings.TrimPrefix(path, "/api/filters/")
	parts := strings.SplitN(trimmed, "/", 2)
	name = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return
}

// handleFilterByName dispatches GET/DELETE on a single filter and the
// subscribe/unsubscribe actions beneath it.
// @Summary Get, delete, or mutate a filter's subscribe list
// @Tags Filters
// @Accept json
// @Produce json
// @Param name path string true "filter name"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /api/filters/{name} [get]
// @Router /api/filters/{name} [delete]
func (s *Server) handleFilterByName(w http.ResponseWriter, r *http.Request) {
	name, action := filterSubPath(r.URL.Path)
	if name == "" {
		writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: "filter name is required"})
		return
	}

	if action != "" {
		s.handleFilterAction(w, r, name, action)
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, ok := s.filters.Get(name)
		if !ok {
			writeResponse(w, http.StatusNotFound, APIResponse{Success: false, Message: "unknown filter"})
			return
		}
		writeResponse(w, http.StatusOK, APIResponse{Success: true, Data: f})
	case http.MethodDelete:
		s.filters.Delete(name)
		s.hub.Reconfigure()
		metrics.FiltersDeleted.Inc()
		writeResponse(w, http.StatusOK, APIResponse{Success: true, Message: "filter deleted"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type repoRequest struct {
	Did string `json:"did"`
}

type handleRequest struct {
	Handle string `json:"handle"`
}

func (s *Server) handleFilterAction(w http.ResponseWriter, r *http.Request, name, action string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var err error
	switch action {
	case "subscribe-repo":
		var req repoRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: decErr.Error()})
			return
		}
		err = s.filters.SubscribeRepo(name, req.Did)
	case "unsubscribe-repo":
		var req repoRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: decErr.Error()})
			return
		}
		err = s.filters.UnsubscribeRepo(name, req.Did)
	case "subscribe-handle":
		var req handleRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: decErr.Error()})
			return
		}
		err = s.filters.SubscribeHandle(ctx, name, req.Handle)
	case "unsubscribe-handle":
		var req handleRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: decErr.Error()})
			return
		}
		err = s.filters.UnsubscribeHandle(ctx, name, req.Handle)
	default:
		writeResponse(w, http.StatusNotFound, APIResponse{Success: false, Message: "unknown action"})
		return
	}

	if err != nil {
		writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}
	writeResponse(w, http.StatusOK, APIResponse{Success: true, Message: "ok"})
}

// handleTimelines creates a timeline filter for a handle's follow graph.
// @Summary Create a timeline filter
// @Tags Timelines
// @Accept json
// @Produce json
// @Success 200 {object} APIResponse
// @Router /api/timelines [post]
func (s *Server) handleTimelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req handleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}
	if err := s.filters.AddTimeline(r.Context(), req.Handle); err != nil {
		writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: err.Error()})
		return
	}
	s.hub.Reconfigure()
	writeResponse(w, http.StatusOK, APIResponse{Success: true, Message: "timeline created"})
}

// handleTimelineByHandle deletes a timeline filter.
// @Summary Delete a timeline filter
// @Tags Timelines
// @Produce json
// @Param handle path string true "account handle"
// @Success 200 {object} APIResponse
// @Router /api/timelines/{handle} [delete]
func (s *Server) handleTimelineByHandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/api/timelines/")
	if handle == "" {
		writeResponse(w, http.StatusBadRequest, APIResponse{Success: false, Message: "handle is required"})
		return
	}
	s.filters.RemoveTimeline(handle)
	s.hub.Reconfigure()
	writeResponse(w, http.StatusOK, APIResponse{Success: true, Message: "timeline removed"})
}

// handleStats reports per-filter drop counts from the fan-out hub.
// @Summary Fan-out statistics
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse
// @Router /api/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dropped := make(map[string]uint64)
	for _, f := range s.filters.All() {
		dropped[f.Name] = s.hub.Dropped(f.Name)
	}
	writeResponse(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{"dropped": dropped}})
}

// handleWebSocket streams decoded, filtered events for one named
// filter. Connect to /ws/{name}.
// @Summary Stream filtered events
// @Tags WebSocket
// @Param name path string true "filter name"
// @Success 101
// @Failure 404
// @Router /ws/{name} [get]
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/ws/")
	if name == "" {
		http.Error(w, "filter name required", http.StatusBadRequest)
		return
	}

	ch, _, ok := s.hub.Channel(name)
	if !ok {
		http.Error(w, "unknown filter", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	metrics.WebsocketConnections.Inc()
	defer metrics.WebsocketConnections.Dec()

	const (
		writeWait  = 10 * time.Second
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Drain and discard client-sent frames; this endpoint is
	// server-to-client only, but we still need to read to process
	// control frames (ping/pong/close).
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(WSMessage{Type: "connected", Timestamp: time.Now(), Data: map[string]string{"filter": name}})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				// Hub rotated to a new generation; rebind.
				newCh, _, stillExists := s.hub.Channel(name)
				if !stillExists {
					return
				}
				ch = newCh
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(WSMessage{Type: "event", Timestamp: time.Now(), Data: ev}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
