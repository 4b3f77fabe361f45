package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/transport/websocket"
)

var (
	ErrNoConnection   = errors.New("no connection for key")
	ErrNotOpen        = errors.New("connection is not open")
	ErrReconnectLimit = errors.New("reconnect limit reached")
)

// TransportError wraps an error reported by the socket.
type TransportError struct {
	Key Key
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Key identifies one shared room connection.
type Key struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

func (k Key) String() string {
	return k.RoomID + "/" + k.UserID
}

// RoomURL builds the per-room socket URL from the WebSocket base URL.
func RoomURL(base string, key Key) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid websocket base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/game"

	q := url.Values{}
	q.Set("roomId", key.RoomID)
	q.Set("userId", key.UserID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Subscriber receives every notification for a connection key. Calls are
// made synchronously from the registry's loop, in subscription order, so a
// subscriber must not block. It may call Subscribe, Close or an unsubscribe
// function; those only queue work on the loop. Once its unsubscribe function
// has returned, a subscriber gets no further calls.
type Subscriber interface {
	OnConnectionChange(connected bool)
	OnReadyStateChange(state websocket.ReadyState)
	// OnError reports the current connection error; nil means it was cleared.
	OnError(err error)
	OnStatusChange(status protocol.Status)
	// OnThemeChange reports the current theme; "" means none.
	OnThemeChange(theme string)
	// OnSystemMessage forwards every server line verbatim.
	OnSystemMessage(msg string, adminDetected bool)
}

// Funcs adapts optional callbacks to the Subscriber interface.
type Funcs struct {
	Connection    func(connected bool)
	ReadyState    func(state websocket.ReadyState)
	Error         func(err error)
	Status        func(status protocol.Status)
	Theme         func(theme string)
	SystemMessage func(msg string, adminDetected bool)
}

var _ Subscriber = Funcs{}

func (f Funcs) OnConnectionChange(connected bool) {
	if f.Connection != nil {
		f.Connection(connected)
	}
}

func (f Funcs) OnReadyStateChange(state websocket.ReadyState) {
	if f.ReadyState != nil {
		f.ReadyState(state)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs) OnStatusChange(status protocol.Status) {
	if f.Status != nil {
		f.Status(status)
	}
}

func (f Funcs) OnThemeChange(theme string) {
	if f.Theme != nil {
		f.Theme(theme)
	}
}

func (f Funcs) OnSystemMessage(msg string, adminDetected bool) {
	if f.SystemMessage != nil {
		f.SystemMessage(msg, adminDetected)
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithRoleHint records how the session was established so the role can be
// guessed before the server says anything.
func WithRoleHint(h role.Hint) SubscribeOption {
	return func(s *subscription) {
		s.hint = h
	}
}

type subscription struct {
	id   string
	sub  Subscriber
	hint role.Hint

	// set by unsubscribe before the detach reaches the loop
	removed atomic.Bool
}

// Snapshot is a point-in-time copy of a connection's state.
type Snapshot struct {
	Key           Key                  `json:"key"`
	Connected     bool                 `json:"connected"`
	ReadyState    websocket.ReadyState `json:"ready_state"`
	Status        protocol.Status      `json:"status"`
	Theme         string               `json:"theme,omitempty"`
	LastMessage   string               `json:"last_message,omitempty"`
	AdminDetected bool                 `json:"admin_detected"`
	Role          role.Role            `json:"role"`
	Err           error                `json:"-"`
	Attempts      int                  `json:"reconnect_attempts"`
	Subscribers   int                  `json:"subscribers"`
}
