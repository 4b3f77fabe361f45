package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
	"github.com/wricardo/gpt-party/transport/websocket"
)

// MockPartyService implements service.PartyService for testing
type MockPartyService struct {
	CreateRoomFunc     func(ctx context.Context, nickname string) (*service.SessionInfo, error)
	JoinRoomFunc       func(ctx context.Context, roomID, nickname string) (*service.SessionInfo, error)
	AttachFunc         func(ctx context.Context, roomID, userID, hint string) (*service.SessionInfo, error)
	LeaveFunc          func(ctx context.Context, roomID, userID string) error
	GetSessionFunc     func(ctx context.Context, roomID, userID string) (*service.SessionInfo, error)
	ListSessionsFunc   func(ctx context.Context) ([]*service.SessionInfo, error)
	TranscriptFunc     func(ctx context.Context, roomID, userID string, limit int) ([]service.TranscriptEntry, error)
	WatchFunc          func(ctx context.Context, roomID, userID string, fn func(service.Update)) (func(), error)
	SendMessageFunc    func(ctx context.Context, roomID, userID, text string) error
	AnswerContinueFunc func(ctx context.Context, roomID, userID string) error
	ListRoomsFunc      func(ctx context.Context) (*service.RoomsOverview, error)
	ForceStartFunc     func(ctx context.Context, roomID, userID string) error
	CloseRoomFunc      func(ctx context.Context, roomID, userID string) error
	RoundResultsFunc   func(ctx context.Context, roomID string) (*rest.RoundResults, error)
	RoomStatsFunc      func(ctx context.Context, roomID string) ([]rest.PlayerStats, error)
}

func (m *MockPartyService) CreateRoom(ctx context.Context, nickname string) (*service.SessionInfo, error) {
	if m.CreateRoomFunc != nil {
		return m.CreateRoomFunc(ctx, nickname)
	}
	return &service.SessionInfo{RoomID: "room-1", UserID: "u-1", Nickname: nickname, Created: true}, nil
}

func (m *MockPartyService) JoinRoom(ctx context.Context, roomID, nickname string) (*service.SessionInfo, error) {
	if m.JoinRoomFunc != nil {
		return m.JoinRoomFunc(ctx, roomID, nickname)
	}
	return &service.SessionInfo{RoomID: roomID, UserID: "u-2", Nickname: nickname}, nil
}

func (m *MockPartyService) Attach(ctx context.Context, roomID, userID, hint string) (*service.SessionInfo, error) {
	if m.AttachFunc != nil {
		return m.AttachFunc(ctx, roomID, userID, hint)
	}
	return &service.SessionInfo{RoomID: roomID, UserID: userID}, nil
}

func (m *MockPartyService) Leave(ctx context.Context, roomID, userID string) error {
	if m.LeaveFunc != nil {
		return m.LeaveFunc(ctx, roomID, userID)
	}
	return nil
}

func (m *MockPartyService) GetSession(ctx context.Context, roomID, userID string) (*service.SessionInfo, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, roomID, userID)
	}
	return &service.SessionInfo{RoomID: roomID, UserID: userID, Status: protocol.StatusWaitingForPlayers}, nil
}

func (m *MockPartyService) ListSessions(ctx context.Context) ([]*service.SessionInfo, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx)
	}
	return []*service.SessionInfo{}, nil
}

func (m *MockPartyService) Transcript(ctx context.Context, roomID, userID string, limit int) ([]service.TranscriptEntry, error) {
	if m.TranscriptFunc != nil {
		return m.TranscriptFunc(ctx, roomID, userID, limit)
	}
	return []service.TranscriptEntry{}, nil
}

func (m *MockPartyService) Watch(ctx context.Context, roomID, userID string, fn func(service.Update)) (func(), error) {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, roomID, userID, fn)
	}
	return func() {}, nil
}

func (m *MockPartyService) SendMessage(ctx context.Context, roomID, userID, text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, roomID, userID, text)
	}
	return nil
}

func (m *MockPartyService) AnswerContinue(ctx context.Context, roomID, userID string) error {
	if m.AnswerContinueFunc != nil {
		return m.AnswerContinueFunc(ctx, roomID, userID)
	}
	return nil
}

func (m *MockPartyService) ListRooms(ctx context.Context) (*service.RoomsOverview, error) {
	if m.ListRoomsFunc != nil {
		return m.ListRoomsFunc(ctx)
	}
	return &service.RoomsOverview{}, nil
}

func (m *MockPartyService) ForceStart(ctx context.Context, roomID, userID string) error {
	if m.ForceStartFunc != nil {
		return m.ForceStartFunc(ctx, roomID, userID)
	}
	return nil
}

func (m *MockPartyService) CloseRoom(ctx context.Context, roomID, userID string) error {
	if m.CloseRoomFunc != nil {
		return m.CloseRoomFunc(ctx, roomID, userID)
	}
	return nil
}

func (m *MockPartyService) RoundResults(ctx context.Context, roomID string) (*rest.RoundResults, error) {
	if m.RoundResultsFunc != nil {
		return m.RoundResultsFunc(ctx, roomID)
	}
	return &rest.RoundResults{}, nil
}

func (m *MockPartyService) RoomStats(ctx context.Context, roomID string) ([]rest.PlayerStats, error) {
	if m.RoomStatsFunc != nil {
		return m.RoomStatsFunc(ctx, roomID)
	}
	return []rest.PlayerStats{}, nil
}

func (m *MockPartyService) Restore(ctx context.Context) (int, error) { return 0, nil }

func (m *MockPartyService) Close() {}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func TestNewServer(t *testing.T) {
	s := NewServer(&MockPartyService{}, nil)

	if s.router == nil {
		t.Fatal("Expected router to be initialized")
	}
	if s.logger == nil {
		t.Error("Expected default logger")
	}
}

func TestHealth(t *testing.T) {
	s := NewServer(&MockPartyService{}, nil)

	rr := doRequest(t, s, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %s", resp["status"])
	}
}

func TestCreateAndJoinRoom(t *testing.T) {
	mock := &MockPartyService{}
	s := NewServer(mock, nil)

	rr := doRequest(t, s, "POST", "/api/rooms", map[string]string{"nickname": "alice"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var info service.SessionInfo
	decodeBody(t, rr, &info)
	if info.RoomID != "room-1" || info.Nickname != "alice" || !info.Created {
		t.Errorf("Unexpected session: %+v", info)
	}

	var joinedRoom string
	mock.JoinRoomFunc = func(ctx context.Context, roomID, nickname string) (*service.SessionInfo, error) {
		joinedRoom = roomID
		return &service.SessionInfo{RoomID: roomID, UserID: "u-2", Nickname: nickname}, nil
	}
	rr = doRequest(t, s, "POST", "/api/rooms/room-7/join", map[string]string{"nickname": "bob"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rr.Code)
	}
	if joinedRoom != "room-7" {
		t.Errorf("Expected join of room-7, got %s", joinedRoom)
	}

	mock.CreateRoomFunc = func(ctx context.Context, nickname string) (*service.SessionInfo, error) {
		return nil, service.ErrNicknameRequired
	}
	rr = doRequest(t, s, "POST", "/api/rooms", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	req := httptest.NewRequest("POST", "/api/rooms/room-7/join", strings.NewReader("{not json"))
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid body, got %d", rr.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	mock := &MockPartyService{}
	s := NewServer(mock, nil)

	mock.ListSessionsFunc = func(ctx context.Context) ([]*service.SessionInfo, error) {
		return []*service.SessionInfo{{RoomID: "room-1", UserID: "u-1"}}, nil
	}
	rr := doRequest(t, s, "GET", "/api/sessions", nil)
	var list struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	decodeBody(t, rr, &list)
	if list.Count != 1 || list.Sessions[0].RoomID != "room-1" {
		t.Errorf("Unexpected session list: %+v", list)
	}

	var hint string
	mock.AttachFunc = func(ctx context.Context, roomID, userID, h string) (*service.SessionInfo, error) {
		hint = h
		return &service.SessionInfo{RoomID: roomID, UserID: userID}, nil
	}
	rr = doRequest(t, s, "POST", "/api/sessions", map[string]string{"room_id": "room-1", "user_id": "u-1", "role": "creator"})
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rr.Code)
	}
	if hint != "creator" {
		t.Errorf("Expected role hint creator, got %q", hint)
	}

	rr = doRequest(t, s, "GET", "/api/sessions/room-1/u-1", nil)
	var info service.SessionInfo
	decodeBody(t, rr, &info)
	if info.Status != protocol.StatusWaitingForPlayers {
		t.Errorf("Expected WAITING_FOR_PLAYERS, got %s", info.Status)
	}

	mock.GetSessionFunc = func(ctx context.Context, roomID, userID string) (*service.SessionInfo, error) {
		return nil, fmt.Errorf("%w: %s/%s", service.ErrSessionNotFound, roomID, userID)
	}
	rr = doRequest(t, s, "GET", "/api/sessions/room-9/u-1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	rr = doRequest(t, s, "DELETE", "/api/sessions/room-1/u-1", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
}

func TestSendMessage(t *testing.T) {
	mock := &MockPartyService{}
	s := NewServer(mock, nil)

	var sent []string
	mock.SendMessageFunc = func(ctx context.Context, roomID, userID, text string) error {
		if text == "" {
			return service.ErrEmptyMessage
		}
		sent = append(sent, roomID+"/"+userID+": "+text)
		return nil
	}

	rr := doRequest(t, s, "POST", "/api/sessions/room-1/u-1/messages", map[string]string{"text": "pirates"})
	if rr.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rr.Code)
	}
	if len(sent) != 1 || sent[0] != "room-1/u-1: pirates" {
		t.Errorf("Unexpected sent messages: %v", sent)
	}

	rr = doRequest(t, s, "POST", "/api/sessions/room-1/u-1/messages", map[string]string{"text": ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	mock.SendMessageFunc = func(ctx context.Context, roomID, userID, text string) error {
		return fmt.Errorf("failed to send message: %w", session.ErrNotOpen)
	}
	rr = doRequest(t, s, "POST", "/api/sessions/room-1/u-1/messages", map[string]string{"text": "pirates"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}

	continued := false
	mock.AnswerContinueFunc = func(ctx context.Context, roomID, userID string) error {
		continued = true
		return nil
	}
	rr = doRequest(t, s, "POST", "/api/sessions/room-1/u-1/continue", nil)
	if rr.Code != http.StatusAccepted || !continued {
		t.Errorf("Expected continue answer, got status %d", rr.Code)
	}
}

func TestTranscript(t *testing.T) {
	mock := &MockPartyService{}
	s := NewServer(mock, nil)

	var gotLimit int
	mock.TranscriptFunc = func(ctx context.Context, roomID, userID string, limit int) ([]service.TranscriptEntry, error) {
		gotLimit = limit
		return []service.TranscriptEntry{{Text: "[SYSTEM]: Главный игрок вводит тему"}}, nil
	}

	rr := doRequest(t, s, "GET", "/api/sessions/room-1/u-1/transcript?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if gotLimit != 5 {
		t.Errorf("Expected limit 5, got %d", gotLimit)
	}

	var resp struct {
		Count   int                       `json:"count"`
		Entries []service.TranscriptEntry `json:"entries"`
	}
	decodeBody(t, rr, &resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 entry, got %d", resp.Count)
	}

	rr = doRequest(t, s, "GET", "/api/sessions/room-1/u-1/transcript?limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestRoomEndpoints(t *testing.T) {
	mock := &MockPartyService{}
	s := NewServer(mock, nil)

	mock.ListRoomsFunc = func(ctx context.Context) (*service.RoomsOverview, error) {
		return &service.RoomsOverview{FeedConnected: true, Server: []rest.RoomSummary{{ID: "room-1", Players: 3}}}, nil
	}
	rr := doRequest(t, s, "GET", "/api/rooms", nil)
	var overview service.RoomsOverview
	decodeBody(t, rr, &overview)
	if !overview.FeedConnected || len(overview.Server) != 1 {
		t.Errorf("Unexpected overview: %+v", overview)
	}

	var startedBy string
	mock.ForceStartFunc = func(ctx context.Context, roomID, userID string) error {
		startedBy = userID
		return nil
	}
	rr = doRequest(t, s, "POST", "/api/rooms/room-1/start", map[string]string{"user_id": "u-1"})
	if rr.Code != http.StatusOK || startedBy != "u-1" {
		t.Errorf("Expected force start by u-1, got status %d user %q", rr.Code, startedBy)
	}

	mock.CloseRoomFunc = func(ctx context.Context, roomID, userID string) error {
		return &rest.APIError{StatusCode: http.StatusForbidden, Message: "only the admin can close the room"}
	}
	rr = doRequest(t, s, "POST", "/api/rooms/room-1/close", map[string]string{"user_id": "u-2"})
	if rr.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rr.Code)
	}

	mock.RoundResultsFunc = func(ctx context.Context, roomID string) (*rest.RoundResults, error) {
		return nil, &rest.APIError{StatusCode: http.StatusNotFound, Message: "room not found"}
	}
	rr = doRequest(t, s, "GET", "/api/rooms/room-9/results", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	mock.RoomStatsFunc = func(ctx context.Context, roomID string) ([]rest.PlayerStats, error) {
		return []rest.PlayerStats{{Nickname: "alice", Score: 3}}, nil
	}
	rr = doRequest(t, s, "GET", "/api/rooms/room-1/stats", nil)
	var stats struct {
		Stats []rest.PlayerStats `json:"stats"`
	}
	decodeBody(t, rr, &stats)
	if len(stats.Stats) != 1 || stats.Stats[0].Score != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMCPEndpoint(t *testing.T) {
	mcpServer := mcpserver.NewMCPServer("test", "1.0.0", mcpserver.WithToolCapabilities(true))
	mcpServer.AddTool(mcp.Tool{
		Name:        "ping",
		Description: "Reply pong",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("pong"), nil
	})

	s := NewServer(&MockPartyService{}, nil, WithMCPServer(mcpServer))

	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ping","arguments":{}}}`))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pong") {
		t.Errorf("Expected pong in response, got %s", rr.Body.String())
	}

	without := NewServer(&MockPartyService{}, nil)
	rr = doRequest(t, without, "POST", "/mcp", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without MCP server, got %d", rr.Code)
	}
}

func TestWebSocketWatch(t *testing.T) {
	hub := websocket.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	stopped := make(chan struct{})
	mock := &MockPartyService{}
	mock.WatchFunc = func(ctx context.Context, roomID, userID string, fn func(service.Update)) (func(), error) {
		fn(service.Update{Event: "status", Data: "THEME_INPUT"})
		return func() { close(stopped) }, nil
	}

	srv := httptest.NewServer(NewServer(mock, hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	resp, err := http.Get(srv.URL + "/ws?room=room-1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 without user, got %d", resp.StatusCode)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL+"/ws?room=room-1&user=u-1", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev websocket.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if ev.Topic != "room-1/u-1" || ev.Event != "status" || ev.Data != "THEME_INPUT" {
		t.Errorf("Unexpected event: %+v", ev)
	}

	rr := doRequest(t, NewServer(mock, hub), "POST", "/api/sessions/room-1/u-1/messages", map[string]string{"text": "pirates"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rr.Code)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read echo: %v", err)
	}
	if ev.Event != "sent" || ev.Data != "pirates" {
		t.Errorf("Unexpected echo: %+v", ev)
	}

	conn.Close()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Error("Expected the watch to stop after the dashboard disconnected")
	}
}
