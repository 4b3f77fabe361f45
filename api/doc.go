// Package api provides the local HTTP API over the party service.
//
// The api package implements:
//   - REST endpoints for rooms and the sessions joined through this process
//   - A WebSocket endpoint that streams one session's updates
//   - An /mcp endpoint that answers MCP JSON-RPC messages over HTTP
//
// Endpoints:
//
// Sessions (keyed by room and user id):
//   - GET /api/sessions - List joined sessions
//   - POST /api/sessions - Attach to a room the user already belongs to
//   - GET /api/sessions/{room}/{user} - Session state (status, theme, role, connection)
//   - DELETE /api/sessions/{room}/{user} - Leave the room socket
//   - POST /api/sessions/{room}/{user}/messages - Send an answer or theme
//   - POST /api/sessions/{room}/{user}/continue - Answer the continue prompt
//   - GET /api/sessions/{room}/{user}/transcript?limit=N - Recent server lines
//
// Rooms:
//   - GET /api/rooms - Live rooms feed plus the server's room list
//   - POST /api/rooms - Create a room
//   - POST /api/rooms/{room}/join - Join a room
//   - POST /api/rooms/{room}/start - Start without waiting for players
//   - POST /api/rooms/{room}/close - Close the room
//   - GET /api/rooms/{room}/results - Last round's answers
//   - GET /api/rooms/{room}/stats - Scoreboard
//
// Other:
//   - GET /ws?room=ID&user=ID - Session updates as {"topic","event","data"} frames
//   - POST /mcp - MCP JSON-RPC
//   - GET /health - Liveness
//
// Request bodies are JSON:
//
//	POST /api/rooms                       {"nickname": "alice"}
//	POST /api/rooms/{room}/join           {"nickname": "bob"}
//	POST /api/rooms/{room}/start|close    {"user_id": "u-1"}
//	POST /api/sessions                    {"room_id": "r", "user_id": "u", "role": "creator"}
//	POST /api/sessions/{room}/{user}/messages  {"text": "hide in the mall"}
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//	handler := api.NewServer(party, hub, api.WithMCPServer(mcpServer.GetMCPServer()))
//	http.ListenAndServe(addr, handler)
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the error:
// 400 for missing fields, 404 for unknown sessions or rooms, 409 when the
// room socket is not open, 502 when the game server rejects a call.
//
//	{"error": "session not found: r/u"}
package api
