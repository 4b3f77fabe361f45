// Package mcp exposes the party service to AI agents over the Model Context Protocol.
//
// The package registers one tool per PartyService operation:
//   - create_room, join_room: get a membership from the game server and connect
//   - attach_session, leave_room: connect or disconnect known ids
//   - session_state, list_sessions, transcript: read what the room socket reported
//   - send_message, answer_continue: play
//   - list_rooms, force_start, close_room: room administration
//   - round_results, room_stats: scoreboard data from the REST API
//
// Tool results are plain text written for a language model: every session
// answer carries the status, the theme, the inferred role and a hint about
// what the game expects next.
//
// Transport Modes:
//
//	// Stdio mode
//	srv := mcp.NewServer(party)
//	srv.RunStdio()
//
//	// HTTP mode, one JSON-RPC message per request
//	resp := srv.GetMCPServer().HandleMessage(r.Context(), body)
package mcp
