package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrMissingRoom = errors.New("room id is required")

// APIError is a non-2xx answer from the game server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the game server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the game server's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the server at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateRoom creates a room owned by nickname.
func (c *Client) CreateRoom(ctx context.Context, nickname string) (*Membership, error) {
	var m Membership
	err := c.apiCall(ctx, http.MethodPost, "/api/rooms", map[string]string{"nickname": nickname}, &m)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	m.Created = true
	return &m, nil
}

// JoinRoom adds nickname to an existing room.
func (c *Client) JoinRoom(ctx context.Context, roomID, nickname string) (*Membership, error) {
	path, err := roomPath(roomID, "join")
	if err != nil {
		return nil, err
	}

	var m Membership
	if err := c.apiCall(ctx, http.MethodPost, path, map[string]string{"nickname": nickname}, &m); err != nil {
		return nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if m.RoomID == "" {
		m.RoomID = roomID
	}
	return &m, nil
}

// Room returns the room's current info.
func (c *Client) Room(ctx context.Context, roomID string) (*RoomInfo, error) {
	path, err := roomPath(roomID, "")
	if err != nil {
		return nil, err
	}

	var info RoomInfo
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}
	return &info, nil
}

// ForceStart starts the game without waiting for more players.
func (c *Client) ForceStart(ctx context.Context, roomID, userID string) error {
	path, err := roomPath(roomID, "start")
	if err != nil {
		return err
	}
	if err := c.apiCall(ctx, http.MethodPost, path, map[string]string{"userId": userID}, nil); err != nil {
		return fmt.Errorf("start room %s: %w", roomID, err)
	}
	return nil
}

// CloseRoom ends the room for every player.
func (c *Client) CloseRoom(ctx context.Context, roomID, userID string) error {
	path, err := roomPath(roomID, "close")
	if err != nil {
		return err
	}
	if err := c.apiCall(ctx, http.MethodPost, path, map[string]string{"userId": userID}, nil); err != nil {
		return fmt.Errorf("close room %s: %w", roomID, err)
	}
	return nil
}

// Theme returns the current round's situation text, "" when none is set.
func (c *Client) Theme(ctx context.Context, roomID string) (string, error) {
	path, err := roomPath(roomID, "theme")
	if err != nil {
		return "", err
	}

	var resp struct {
		Theme string `json:"theme"`
	}
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("theme for room %s: %w", roomID, err)
	}
	return strings.TrimSpace(resp.Theme), nil
}

// Stats returns the accumulated scores of the room.
func (c *Client) Stats(ctx context.Context, roomID string) ([]PlayerStats, error) {
	path, err := roomPath(roomID, "stats")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Stats []PlayerStats `json:"stats"`
	}
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("stats for room %s: %w", roomID, err)
	}
	return resp.Stats, nil
}

// Results returns the evaluated answers of the last round.
func (c *Client) Results(ctx context.Context, roomID string) (*RoundResults, error) {
	path, err := roomPath(roomID, "results")
	if err != nil {
		return nil, err
	}

	var res RoundResults
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, fmt.Errorf("results for room %s: %w", roomID, err)
	}
	return &res, nil
}

// Rooms lists open rooms.
func (c *Client) Rooms(ctx context.Context) ([]RoomSummary, error) {
	var resp struct {
		Count int           `json:"count"`
		Rooms []RoomSummary `json:"rooms"`
	}
	if err := c.apiCall(ctx, http.MethodGet, "/api/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return resp.Rooms, nil
}

func roomPath(roomID, action string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", ErrMissingRoom
	}
	path := "/api/rooms/" + url.PathEscape(roomID)
	if action != "" {
		path += "/" + action
	}
	return path, nil
}

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
