package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer our close frame.
	closeWait = 5 * time.Second

	// Maximum message size accepted from the peer.
	maxMessageSize = 64 * 1024
)

// GorillaDialer opens sockets with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header

	WriteWait      time.Duration
	CloseWait      time.Duration
	MaxMessageSize int64
}

// NewGorillaDialer returns a dialer using gorilla's default dialer settings.
func NewGorillaDialer() *GorillaDialer {
	return &GorillaDialer{
		Dialer:         websocket.DefaultDialer,
		WriteWait:      writeWait,
		CloseWait:      closeWait,
		MaxMessageSize: maxMessageSize,
	}
}

// Open starts connecting to url in the background.
func (d *GorillaDialer) Open(url string, h Handler) Socket {
	ctx, cancel := context.WithCancel(context.Background())

	s := &gorillaSocket{
		url:       url,
		handler:   h,
		cancel:    cancel,
		state:     Connecting,
		writeWait: orDefault(d.WriteWait, writeWait),
		closeWait: orDefault(d.CloseWait, closeWait),
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	go s.run(ctx, dialer, d.Header, d.MaxMessageSize)
	return s
}

type gorillaSocket struct {
	url     string
	handler Handler
	cancel  context.CancelFunc

	writeWait time.Duration
	closeWait time.Duration

	mu    sync.Mutex
	state ReadyState
	conn  *websocket.Conn

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func (s *gorillaSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *gorillaSocket) setState(state ReadyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *gorillaSocket) Send(text string) error {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close starts the closing handshake. The outcome is reported through
// Handler.OnClose once the peer answers or closeWait elapses.
func (s *gorillaSocket) Close(code int, reason string) error {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.state = Closing
		s.mu.Unlock()
		s.cancel()
		return nil

	case Open:
		s.state = Closing
		conn := s.conn
		s.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
		if err != nil {
			conn.Close()
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(s.closeWait))

	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *gorillaSocket) run(ctx context.Context, dialer *websocket.Dialer, header http.Header, limit int64) {
	defer s.cancel()

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		abandoned := s.ReadyState() == Closing
		s.setState(Closed)
		if !abandoned {
			s.handler.OnError(err)
		}
		s.handler.OnClose(CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
		return
	}

	s.mu.Lock()
	if s.state == Closing {
		s.state = Closed
		s.mu.Unlock()
		conn.Close()
		s.handler.OnClose(CloseEvent{Code: CloseAbnormal})
		return
	}
	s.conn = conn
	s.state = Open
	s.mu.Unlock()

	if limit > 0 {
		conn.SetReadLimit(limit)
	}

	s.handler.OnOpen()

	ev := s.readLoop(conn)

	s.setState(Closed)
	conn.Close()
	s.handler.OnClose(ev)
}

func (s *gorillaSocket) readLoop(conn *websocket.Conn) CloseEvent {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			// gorilla reports a lost connection as a 1006 CloseError; that code
			// never appears on the wire.
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				return CloseEvent{Code: ce.Code, Reason: ce.Text, Clean: true}
			}
			if s.ReadyState() != Closing {
				s.handler.OnError(err)
			}
			return CloseEvent{Code: CloseAbnormal, Reason: err.Error()}
		}

		s.handler.OnMessage(Message{Text: mt == websocket.TextMessage, Data: data})
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
