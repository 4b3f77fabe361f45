package service

import (
	"context"

	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
)

// PartyService defines the operations the CLI, MCP and HTTP surfaces use
type PartyService interface {
	// Room membership
	CreateRoom(ctx context.Context, nickname string) (*SessionInfo, error)
	JoinRoom(ctx context.Context, roomID, nickname string) (*SessionInfo, error)
	Attach(ctx context.Context, roomID, userID, hint string) (*SessionInfo, error)
	Leave(ctx context.Context, roomID, userID string) error
	// Restore attaches to memberships kept by the configured persistence
	Restore(ctx context.Context) (int, error)

	// Session state
	GetSession(ctx context.Context, roomID, userID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	Transcript(ctx context.Context, roomID, userID string, limit int) ([]TranscriptEntry, error)
	Watch(ctx context.Context, roomID, userID string, fn func(Update)) (func(), error)

	// Play
	SendMessage(ctx context.Context, roomID, userID, text string) error
	AnswerContinue(ctx context.Context, roomID, userID string) error

	// Rooms
	ListRooms(ctx context.Context) (*RoomsOverview, error)
	ForceStart(ctx context.Context, roomID, userID string) error
	CloseRoom(ctx context.Context, roomID, userID string) error
	RoundResults(ctx context.Context, roomID string) (*rest.RoundResults, error)
	RoomStats(ctx context.Context, roomID string) ([]rest.PlayerStats, error)

	// Close drops every session and the lobby subscription.
	Close()
}

// Sessions is the shared room connection registry
type Sessions interface {
	Subscribe(key session.Key, sub session.Subscriber, opts ...session.SubscribeOption) func()
	Send(key session.Key, payload any) error
	Close(key session.Key)
	State(key session.Key) (session.Snapshot, bool)
}

// RoomsAPI is the part of the game server's REST API the service calls
type RoomsAPI interface {
	CreateRoom(ctx context.Context, nickname string) (*rest.Membership, error)
	JoinRoom(ctx context.Context, roomID, nickname string) (*rest.Membership, error)
	Theme(ctx context.Context, roomID string) (string, error)
	ForceStart(ctx context.Context, roomID, userID string) error
	CloseRoom(ctx context.Context, roomID, userID string) error
	Results(ctx context.Context, roomID string) (*rest.RoundResults, error)
	Stats(ctx context.Context, roomID string) ([]rest.PlayerStats, error)
	Rooms(ctx context.Context) ([]rest.RoomSummary, error)
}

// Lobby is the rooms monitor feed
type Lobby interface {
	Subscribe(l lobby.Listener) func()
	Rooms() []lobby.Room
	State() lobby.State
}
