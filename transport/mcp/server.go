package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/transport/rest"
)

const (
	ServerName    = "GPT Party"
	ServerVersion = "1.0.0"

	defaultTranscriptLines = 10
)

// Server exposes the party service as MCP tools
type Server struct {
	party     service.PartyService
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server backed by party
func NewServer(party service.PartyService) *Server {
	s := &Server{party: party}
	s.initMCPServer()
	return s
}

func (s *Server) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`GPT Party - MCP Interface

Play a round-based party game: the room admin picks a theme, the game
presents a scenario, every player answers and the game master judges the answers.

TYPICAL FLOW:
1. create_room (you become admin) or join_room with a room id
2. session_state to follow the room status and the current theme
3. send_message with your answer when the status is SCENARIO_PRESENTED,
   or with a theme when you are admin and the status is THEME_INPUT
4. answer_continue when session_state reports awaiting_continue
5. round_results and room_stats once results are ready

AVAILABLE TOOLS:
- create_room, join_room, attach_session, leave_room
- session_state, list_sessions, transcript
- send_message, answer_continue
- list_rooms, force_start, close_room
- round_results, room_stats

Sessions are keyed by room_id and user_id; both are returned by create_room and join_room.`),
	)

	s.registerTools()
}

func (s *Server) registerTools() {
	// Membership
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_room",
		Description: "Create a new room and connect to it as its admin",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"nickname": map[string]interface{}{
					"type":        "string",
					"description": "Nickname shown to the other players",
				},
			},
			Required: []string{"nickname"},
		},
	}, s.handleCreateRoom)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "join_room",
		Description: "Join an existing room and connect to it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room to join",
				},
				"nickname": map[string]interface{}{
					"type":        "string",
					"description": "Nickname shown to the other players",
				},
			},
			Required: []string{"room_id", "nickname"},
		},
	}, s.handleJoinRoom)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "attach_session",
		Description: "Reconnect to a room with ids obtained earlier",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": sessionProperty("Room id"),
				"user_id": sessionProperty("User id"),
				"role": map[string]interface{}{
					"type":        "string",
					"description": "Role hint: creator or joiner (optional)",
					"enum":        []string{"creator", "joiner"},
				},
			},
			Required: []string{"room_id", "user_id"},
		},
	}, s.handleAttach)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_room",
		Description: "Disconnect from a room",
		InputSchema: sessionSchema(),
	}, s.handleLeave)

	// Session state
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "session_state",
		Description: "Get the connection, status, theme and role of a joined room",
		InputSchema: sessionSchema(),
	}, s.handleSessionState)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List every joined room",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListSessions)

	transcript := sessionSchema()
	transcript.Properties["limit"] = map[string]interface{}{
		"type":        "number",
		"description": fmt.Sprintf("Number of recent lines (default %d)", defaultTranscriptLines),
	}
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "transcript",
		Description: "Show the most recent lines the game server sent to this session",
		InputSchema: transcript,
	}, s.handleTranscript)

	// Play
	send := sessionSchema()
	send.Properties["text"] = map[string]interface{}{
		"type":        "string",
		"description": "Answer, theme or chat line to send",
	}
	send.Required = append(send.Required, "text")
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Send a line of text to the room",
		InputSchema: send,
	}, s.handleSendMessage)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "answer_continue",
		Description: "Answer YES to the server's continue prompt",
		InputSchema: sessionSchema(),
	}, s.handleAnswerContinue)

	// Rooms
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List rooms known to the server and rooms seen on the live feed",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListRooms)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "force_start",
		Description: "Start the game without waiting for more players (admin only)",
		InputSchema: sessionSchema(),
	}, s.handleForceStart)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "close_room",
		Description: "Close the room for everyone (admin only)",
		InputSchema: sessionSchema(),
	}, s.handleCloseRoom)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "round_results",
		Description: "Get the answers and outcomes of the last round",
		InputSchema: roomSchema(),
	}, s.handleRoundResults)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "room_stats",
		Description: "Get the scoreboard of a room",
		InputSchema: roomSchema(),
	}, s.handleRoomStats)
}

func sessionProperty(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": desc,
	}
}

func sessionSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"room_id": sessionProperty("Room id"),
			"user_id": sessionProperty("User id"),
		},
		Required: []string{"room_id", "user_id"},
	}
}

func roomSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"room_id": sessionProperty("Room id"),
		},
		Required: []string{"room_id"},
	}
}

// GetMCPServer returns the underlying MCP server for serving
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// RunStdio serves the tools over stdin/stdout until the input closes
func (s *Server) RunStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func sessionArgs(request mcp.CallToolRequest) (string, string) {
	args := arguments(request)
	roomID, _ := args["room_id"].(string)
	userID, _ := args["user_id"].(string)
	return roomID, userID
}

func (s *Server) handleCreateRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	nickname, _ := args["nickname"].(string)

	info, err := s.party.CreateRoom(ctx, nickname)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Room created.\n\n" + FormatSession(info)), nil
}

func (s *Server) handleJoinRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	roomID, _ := args["room_id"].(string)
	nickname, _ := args["nickname"].(string)

	info, err := s.party.JoinRoom(ctx, roomID, nickname)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Joined room.\n\n" + FormatSession(info)), nil
}

func (s *Server) handleAttach(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)
	hint, _ := arguments(request)["role"].(string)

	info, err := s.party.Attach(ctx, roomID, userID, hint)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(FormatSession(info)), nil
}

func (s *Server) handleLeave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	if err := s.party.Leave(ctx, roomID, userID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Left room %s.", roomID)), nil
}

func (s *Server) handleSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	info, err := s.party.GetSession(ctx, roomID, userID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(FormatSession(info)), nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.party.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(sessions) == 0 {
		return mcp.NewToolResultText("No joined rooms."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Joined rooms (%d):\n", len(sessions))
	for _, info := range sessions {
		fmt.Fprintf(&b, "- %s as %s (%s) status=%s connected=%v\n",
			info.RoomID, info.UserID, info.Role, info.Status, info.Connected)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	limit := defaultTranscriptLines
	if l, ok := arguments(request)["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	entries, err := s.party.Transcript(ctx, roomID, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(entries) == 0 {
		return mcp.NewToolResultText("No messages yet."), nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.At.Format("15:04:05"), e.Text)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)
	text, _ := arguments(request)["text"].(string)

	if err := s.party.SendMessage(ctx, roomID, userID, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Message sent."), nil
}

func (s *Server) handleAnswerContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	if err := s.party.AnswerContinue(ctx, roomID, userID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Sent %s.", protocol.ContinueReply)), nil
}

func (s *Server) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	overview, err := s.party.ListRooms(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(FormatRooms(overview)), nil
}

func (s *Server) handleForceStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	if err := s.party.ForceStart(ctx, roomID, userID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Room %s started.", roomID)), nil
}

func (s *Server) handleCloseRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, userID := sessionArgs(request)

	if err := s.party.CloseRoom(ctx, roomID, userID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Room %s closed.", roomID)), nil
}

func (s *Server) handleRoundResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, _ := arguments(request)["room_id"].(string)

	results, err := s.party.RoundResults(ctx, roomID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(FormatResults(results)), nil
}

func (s *Server) handleRoomStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, _ := arguments(request)["room_id"].(string)

	stats, err := s.party.RoomStats(ctx, roomID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(FormatStats(stats)), nil
}

// Formatting helpers. The CLI prints the same text.

// FormatSession renders a session summary with a hint for the next move.
func FormatSession(info *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room: %s\nUser: %s\n", info.RoomID, info.UserID)
	if info.Nickname != "" {
		fmt.Fprintf(&b, "Nickname: %s\n", info.Nickname)
	}
	fmt.Fprintf(&b, "Role: %s\n", info.Role)
	fmt.Fprintf(&b, "Connection: %s (connected=%v)\n", info.ReadyState, info.Connected)
	fmt.Fprintf(&b, "Status: %s\n", info.Status)
	if info.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", info.Theme)
	}
	if info.AwaitingContinue {
		fmt.Fprintf(&b, "\nThe server is asking whether to continue. Use answer_continue to reply %s.\n", protocol.ContinueReply)
	}
	if hint := statusHint(info); hint != "" {
		fmt.Fprintf(&b, "\n%s\n", hint)
	}
	if info.LastMessage != "" {
		fmt.Fprintf(&b, "\nLast message:\n%s\n", info.LastMessage)
	}
	if info.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", info.Error)
		if info.ReconnectAttempts > 0 {
			fmt.Fprintf(&b, " (reconnect attempts: %d)", info.ReconnectAttempts)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func statusHint(info *service.SessionInfo) string {
	switch info.Status {
	case protocol.StatusWaitingForPlayers:
		if info.Role == role.Admin {
			return "Waiting for players. Use force_start to begin now."
		}
		return "Waiting for players."
	case protocol.StatusThemeInput:
		if info.Role == role.Admin {
			return "Send the theme for this round with send_message."
		}
		return "The admin is choosing a theme."
	case protocol.StatusScenarioPresented:
		return "Send your answer to the scenario with send_message."
	case protocol.StatusResultsReady:
		return "Results are ready. Use round_results."
	case protocol.StatusStatsReady:
		return "Stats are ready. Use room_stats."
	case protocol.StatusGameDone, protocol.StatusClosed:
		return "The game is over."
	}
	return ""
}

func FormatRooms(overview *service.RoomsOverview) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Server rooms (%d):\n", len(overview.Server))
	for _, r := range overview.Server {
		fmt.Fprintf(&b, "- %s: %d players, %s\n", r.ID, r.Players, r.Status)
	}
	if overview.ServerError != "" {
		fmt.Fprintf(&b, "(server list unavailable: %s)\n", overview.ServerError)
	}

	fmt.Fprintf(&b, "\nLive feed (connected=%v, %d rooms):\n", overview.FeedConnected, len(overview.Live))
	for _, r := range overview.Live {
		started := ""
		if r.Started {
			started = ", started"
		}
		fmt.Fprintf(&b, "- %s: [%s]%s, rounds=%d, last=%s\n",
			r.ID, strings.Join(r.Players, ", "), started, r.Rounds, r.LastAction)
	}
	return b.String()
}

func FormatResults(results *rest.RoundResults) string {
	var b strings.Builder
	if results.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n\n", results.Theme)
	}
	if len(results.Results) == 0 {
		b.WriteString("No answers yet.\n")
		return b.String()
	}
	for _, a := range results.Results {
		fmt.Fprintf(&b, "%s (%+d): %s\n", a.Nickname, a.Score, a.Answer)
		if a.Outcome != "" {
			fmt.Fprintf(&b, "  -> %s\n", a.Outcome)
		}
	}
	return b.String()
}

func FormatStats(stats []rest.PlayerStats) string {
	if len(stats) == 0 {
		return "No stats yet."
	}
	var b strings.Builder
	b.WriteString("Scoreboard:\n")
	for i, p := range stats {
		fmt.Fprintf(&b, "%d. %s - %d points, %d wins\n", i+1, p.Nickname, p.Score, p.Wins)
	}
	return b.String()
}
