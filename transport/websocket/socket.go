package websocket

import (
	"errors"
	"time"
)

// ReadyState mirrors the native readiness states of a WebSocket.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (s ReadyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CloseNormal is the close code sent on a requested disconnect.
const CloseNormal = 1000

// CloseAbnormal is reported when the socket went away without a close frame.
const CloseAbnormal = 1006

var ErrNotOpen = errors.New("socket is not open")

// Message is one inbound frame.
type Message struct {
	Text bool
	Data []byte
}

// CloseEvent describes how a socket ended. Clean is true when a close frame
// was exchanged with the peer.
type CloseEvent struct {
	Code   int
	Reason string
	Clean  bool
}

// Handler receives socket callbacks. Callbacks for one socket are delivered
// sequentially, in arrival order, from a goroutine owned by the socket.
type Handler interface {
	OnOpen()
	OnMessage(msg Message)
	OnError(err error)
	OnClose(ev CloseEvent)
}

// Socket is a duplex text socket in the style of the browser WebSocket API:
// it starts CONNECTING and reports its progress through the Handler.
type Socket interface {
	ReadyState() ReadyState
	Send(text string) error
	Close(code int, reason string) error
}

// Dialer opens sockets. Open must not block; connecting happens in the
// background and ends with either OnOpen or OnClose.
type Dialer interface {
	Open(url string, h Handler) Socket
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
