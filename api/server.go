package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/service"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigin decides which browser origins may read token responses.
func WithAllowedOrigin(allowed func(origin string) bool) Option {
	return func(s *Server) {
		s.originAllowed = allowed
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithMCPServer answers MCP JSON-RPC messages posted to /mcp.
func WithMCPServer(m *server.MCPServer) Option {
	return func(s *Server) {
		s.mcp = m
	}
}

// Server represents the relay's HTTP surface
type Server struct {
	service       service.RelayService
	ws            http.Handler
	router        *mux.Router
	originAllowed func(origin string) bool
	metrics       http.Handler
	mcp           *server.MCPServer
}

// NewServer creates a new API server. ws handles websocket upgrades at /ws.
func NewServer(relayService service.RelayService, ws http.Handler, opts ...Option) *Server {
	s := &Server{
		service:       relayService,
		ws:            ws,
		router:        mux.NewRouter(),
		originAllowed: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(tracing)

	// Token endpoint
	s.router.HandleFunc("/token", s.handleToken).Methods(http.MethodGet)
	s.router.HandleFunc("/token", s.handleTokenPreflight).Methods(http.MethodOptions)

	// Introspection
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// WebSocket
	if s.ws != nil {
		s.router.Handle("/ws", s.ws).Methods(http.MethodGet)
	}

	if s.mcp != nil {
		s.router.HandleFunc("/mcp", s.handleMCP).Methods(http.MethodPost)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondProtocolError maps a coded relay error to its HTTP status.
func respondProtocolError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch protocol.CodeOf(err) {
	case protocol.CodeUnauthorized:
		status = http.StatusUnauthorized
	case protocol.CodeForbidden:
		status = http.StatusForbidden
	case protocol.CodeBadRequest:
		status = http.StatusBadRequest
	case protocol.CodeServiceUnavailable:
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(protocol.CodeOf(err)),
	})
}

// Token Handlers

func (s *Server) allowCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	w.Header().Add("Vary", "Origin")
	if origin == "" || !s.originAllowed(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
}

func (s *Server) handleTokenPreflight(w http.ResponseWriter, r *http.Request) {
	s.allowCORS(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.allowCORS(w, r)
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()

	// capability may repeat or carry a comma-separated list
	var names []string
	for _, v := range query["capability"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	caps, err := token.ParseCapabilities(names)
	if err != nil {
		respondProtocolError(w, err)
		return
	}

	tok, err := s.service.IssueToken(r.Context(), query.Get("clientId"), token.Request{
		Capabilities: caps,
		RoomPattern:  query.Get("room"),
	})
	if err != nil {
		slog.Info("api: token refused", "code", protocol.CodeOf(err), "err", err)
		respondProtocolError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tok)
}

// Introspection Handlers

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.ListRooms(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rooms),
		"rooms": rooms,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	room, err := s.service.GetRoom(r.Context(), roomID)
	if errors.Is(err, service.ErrRoomNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleMCP answers one MCP JSON-RPC message
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request")
		return
	}
	defer r.Body.Close()

	response := s.mcp.HandleMessage(r.Context(), body)
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
