package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FilePersistence implements SessionPersistence with one JSON file per
// membership
type FilePersistence struct {
	sessionsDir string
}

// NewFilePersistence creates a new file-based membership store
func NewFilePersistence(sessionsDir string) (*FilePersistence, error) {
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &FilePersistence{sessionsDir: sessionsDir}, nil
}

// Save writes the membership to its JSON file
func (fp *FilePersistence) Save(session *PersistedSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.RoomID == "" || session.UserID == "" {
		return fmt.Errorf("session needs a room and a user id")
	}

	jsonData, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	// write then rename so a crash never leaves half a file
	filePath := fp.getFilePath(session.RoomID, session.UserID)
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}

	return nil
}

// Load reads one membership
func (fp *FilePersistence) Load(roomID, userID string) (*PersistedSession, error) {
	return fp.readFile(fp.getFilePath(roomID, userID))
}

// Delete removes a membership file
func (fp *FilePersistence) Delete(roomID, userID string) error {
	if err := os.Remove(fp.getFilePath(roomID, userID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// ListAll returns every readable membership. Unreadable files are skipped.
func (fp *FilePersistence) ListAll() ([]*PersistedSession, error) {
	entries, err := os.ReadDir(fp.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*PersistedSession
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		session, err := fp.readFile(filepath.Join(fp.sessionsDir, entry.Name()))
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// Exists checks if a membership file exists
func (fp *FilePersistence) Exists(roomID, userID string) bool {
	_, err := os.Stat(fp.getFilePath(roomID, userID))
	return err == nil
}

func (fp *FilePersistence) readFile(filePath string) (*PersistedSession, error) {
	jsonData, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session PersistedSession
	if err := json.Unmarshal(jsonData, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if session.RoomID == "" || session.UserID == "" {
		return nil, fmt.Errorf("session file %s has no room or user id", filepath.Base(filePath))
	}
	return &session, nil
}

// getFilePath escapes both ids; "@" never survives QueryEscape so names cannot collide.
func (fp *FilePersistence) getFilePath(roomID, userID string) string {
	name := url.QueryEscape(roomID) + "@" + url.QueryEscape(userID) + ".json"
	return filepath.Join(fp.sessionsDir, name)
}
