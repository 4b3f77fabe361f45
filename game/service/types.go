package service

import (
	"time"

	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/transport/rest"
)

// SessionInfo describes one joined room from the local user's side
type SessionInfo struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Nickname string    `json:"nickname,omitempty"`
	Created  bool      `json:"created"`
	JoinedAt time.Time `json:"joined_at"`

	Connected  bool            `json:"connected"`
	ReadyState string          `json:"ready_state"`
	Status     protocol.Status `json:"status"`
	Theme      string          `json:"theme,omitempty"`
	// ThemeSource is "socket" or "rest" when a theme is known.
	ThemeSource       string    `json:"theme_source,omitempty"`
	Role              role.Role `json:"role"`
	AdminDetected     bool      `json:"admin_detected"`
	AwaitingContinue  bool      `json:"awaiting_continue"`
	LastMessage       string    `json:"last_message,omitempty"`
	Error             string    `json:"error,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
}

// TranscriptEntry is one server line as received
type TranscriptEntry struct {
	At            time.Time `json:"at"`
	Text          string    `json:"text"`
	AdminDetected bool      `json:"admin_detected,omitempty"`
}

// RoomsOverview combines the live lobby feed with the server's room list
type RoomsOverview struct {
	FeedConnected bool               `json:"feed_connected"`
	Live          []lobby.Room       `json:"live"`
	Server        []rest.RoomSummary `json:"server"`
	ServerError   string             `json:"server_error,omitempty"`
}

// Update is one change on a watched session. Data holds the new value: a
// bool for "connection", a string for "ready_state", "status", "theme" and
// "error" (empty once cleared), and a TranscriptEntry for "message".
type Update struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
