package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
	"github.com/wricardo/gpt-party/transport/websocket"
)

// Server is the local control API over the party service
type Server struct {
	service service.PartyService
	hub     *websocket.Hub
	mcp     *server.MCPServer
	logger  *slog.Logger
	router  *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithMCPServer exposes mcpServer as a JSON-RPC endpoint at /mcp
func WithMCPServer(mcpServer *server.MCPServer) Option {
	return func(s *Server) { s.mcp = mcpServer }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server. hub may be nil, in which case /ws is not served.
func NewServer(party service.PartyService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: party,
		hub:     hub,
		logger:  slog.Default(),
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Sessions are keyed by room and user
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleAttach).Methods("POST")
	api.HandleFunc("/sessions/{room}/{user}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{room}/{user}", s.handleLeave).Methods("DELETE")
	api.HandleFunc("/sessions/{room}/{user}/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/sessions/{room}/{user}/continue", s.handleAnswerContinue).Methods("POST")
	api.HandleFunc("/sessions/{room}/{user}/transcript", s.handleTranscript).Methods("GET")

	// Rooms
	api.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/rooms", s.handleCreateRoom).Methods("POST")
	api.HandleFunc("/rooms/{room}/join", s.handleJoinRoom).Methods("POST")
	api.HandleFunc("/rooms/{room}/start", s.handleForceStart).Methods("POST")
	api.HandleFunc("/rooms/{room}/close", s.handleCloseRoom).Methods("POST")
	api.HandleFunc("/rooms/{room}/results", s.handleRoundResults).Methods("GET")
	api.HandleFunc("/rooms/{room}/stats", s.handleRoomStats).Methods("GET")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
	if s.mcp != nil {
		s.router.HandleFunc("/mcp", s.handleMCP).Methods("POST")
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
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

// statusFor maps service and transport errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *rest.APIError
	switch {
	case errors.Is(err, service.ErrSessionNotFound), rest.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNicknameRequired),
		errors.Is(err, service.ErrRoomRequired),
		errors.Is(err, service.ErrUserRequired),
		errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotOpen), errors.Is(err, session.ErrNoConnection):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	respondError(w, status, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
		UserID string `json:"user_id"`
		Role   string `json:"role,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.service.Attach(r.Context(), req.RoomID, req.UserID, req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	info, err := s.service.GetSession(r.Context(), vars["room"], vars["user"])
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.service.Leave(r.Context(), vars["room"], vars["user"]); err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Left room %s", vars["room"]),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.SendMessage(r.Context(), vars["room"], vars["user"], req.Text); err != nil {
		s.fail(w, err)
		return
	}

	// Echo outgoing lines to dashboards; the server does not send them back
	if s.hub != nil {
		s.hub.Broadcast(topic(vars["room"], vars["user"]), "sent", req.Text)
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"message": "sent"})
}

func (s *Server) handleAnswerContinue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.service.AnswerContinue(r.Context(), vars["room"], vars["user"]); err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"message": "sent"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.service.Transcript(r.Context(), vars["room"], vars["user"], limit)
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Room Handlers

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	overview, err := s.service.ListRooms(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.service.CreateRoom(r.Context(), req.Nickname)
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.service.JoinRoom(r.Context(), mux.Vars(r)["room"], req.Nickname)
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) roomAction(w http.ResponseWriter, r *http.Request, action func(roomID, userID string) error, done string) {
	roomID := mux.Vars(r)["room"]

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := action(roomID, req.UserID); err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Room %s %s", roomID, done),
	})
}

func (s *Server) handleForceStart(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomID, userID string) error {
		return s.service.ForceStart(r.Context(), roomID, userID)
	}, "started")
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(roomID, userID string) error {
		return s.service.CloseRoom(r.Context(), roomID, userID)
	}, "closed")
}

func (s *Server) handleRoundResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.RoundResults(r.Context(), mux.Vars(r)["room"])
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleRoomStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.RoomStats(r.Context(), mux.Vars(r)["room"])
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

// WebSocket Handler

func topic(roomID, userID string) string {
	return roomID + "/" + userID
}

// handleWebSocket streams one session's updates to a dashboard:
// /ws?room=<room_id>&user=<user_id>
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")
	if roomID == "" || userID == "" {
		http.Error(w, "room and user parameters required", http.StatusBadRequest)
		return
	}

	// Verify session exists
	if _, err := s.service.GetSession(r.Context(), roomID, userID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	client, err := s.hub.ServeWS(w, r, topic(roomID, userID))
	if err != nil {
		return
	}

	stop, err := s.service.Watch(r.Context(), roomID, userID, func(u service.Update) {
		client.Send(u.Event, u.Data)
	})
	if err != nil {
		// session left between the check and the upgrade
		client.Send("error", err.Error())
		return
	}

	go func() {
		<-client.Done()
		stop()
	}()
}

// MCP Handler

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	response := s.mcp.HandleMessage(r.Context(), body)
	if response == nil {
		// notifications have no response
		w.WriteHeader(http.StatusAccepted)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
