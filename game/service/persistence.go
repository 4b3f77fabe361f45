package service

import (
	"time"
)

// SessionPersistence defines the interface for persisting room memberships
// so a restarted process can attach to them again
type SessionPersistence interface {
	// Save persists a membership, replacing any previous record
	Save(session *PersistedSession) error

	// Load retrieves a membership by room and user
	Load(roomID, userID string) (*PersistedSession, error)

	// Delete removes a membership
	Delete(roomID, userID string) error

	// ListAll returns every persisted membership
	ListAll() ([]*PersistedSession, error)

	// Exists checks if a membership is stored
	Exists(roomID, userID string) bool
}

// PersistedSession represents the JSON structure for persisted memberships.
// Connection state is never stored; it is rebuilt from the socket.
type PersistedSession struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Nickname string    `json:"nickname,omitempty"`
	Created  bool      `json:"created"`
	Hint     string    `json:"hint,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
