package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/transport/websocket"
)

// Connection owns one room socket and the session state derived from it.
//
// All fields are owned by the registry loop. Fields read by Snapshot are
// written under mu so other goroutines can observe them.
type Connection struct {
	key    Key
	url    string
	owner  *Registry
	socket websocket.Socket
	logger *slog.Logger

	subs     []*subscription
	hint     role.Hint
	detector role.Detector

	manualClose bool
	// retired connections were replaced or removed; late socket callbacks are ignored
	retired   bool
	reconnect websocket.Timer

	mu            sync.RWMutex
	connected     bool
	readyState    websocket.ReadyState
	attempts      int
	status        protocol.Status
	theme         string
	lastMessage   string
	adminDetected bool
	role          role.Role
	err           error
	subCount      int
}

// socketEvents forwards socket callbacks onto the registry loop.
type socketEvents struct {
	c *Connection
}

func (e socketEvents) OnOpen() {
	e.c.owner.loop.Post(e.c.handleOpen)
}

func (e socketEvents) OnMessage(msg websocket.Message) {
	e.c.owner.loop.Post(func() { e.c.handleMessage(msg) })
}

func (e socketEvents) OnError(err error) {
	e.c.owner.loop.Post(func() { e.c.handleError(err) })
}

func (e socketEvents) OnClose(ev websocket.CloseEvent) {
	e.c.owner.loop.Post(func() { e.c.handleClose(ev) })
}

func (c *Connection) handleOpen() {
	if c.retired {
		return
	}

	c.logger.Info("room socket open")

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	c.setConnected(true)
	c.setReadyState(websocket.Open)
	c.clearError()
}

func (c *Connection) handleMessage(msg websocket.Message) {
	if c.retired {
		return
	}
	if !msg.Text {
		c.logger.Warn("ignoring non-text frame", "bytes", len(msg.Data))
		return
	}

	c.apply(protocol.Parse(string(msg.Data)))
}

// apply folds one parsed server line into the session state.
func (c *Connection) apply(ev protocol.Event) {
	if !ev.Matched {
		c.logger.Warn("unrecognized server message", "message", ev.Raw)
	} else {
		if ev.Status != "" {
			if !ev.Status.Known() {
				c.logger.Warn("server announced unknown status", "status", ev.Status)
			}
			c.setStatus(ev.Status)
		}
		if ev.HasTheme {
			c.setTheme(ev.Theme)
		}
		c.clearError()
	}

	r := c.detector.Observe(ev)

	c.mu.Lock()
	c.lastMessage = ev.Raw
	if ev.Status.StartsRound() {
		c.adminDetected = false
	}
	if ev.AdminDetected {
		c.adminDetected = true
	}
	c.role = r
	c.mu.Unlock()

	c.each(func(s Subscriber) { s.OnSystemMessage(ev.Raw, ev.AdminDetected) })
}

func (c *Connection) handleError(err error) {
	if c.retired {
		return
	}

	c.logger.Error("room socket error", "error", err)
	c.setError(&TransportError{Key: c.key, Err: err})
}

func (c *Connection) handleClose(ev websocket.CloseEvent) {
	if c.retired {
		return
	}

	c.logger.Info("room socket closed", "code", ev.Code, "reason", ev.Reason, "clean", ev.Clean)

	c.setConnected(false)
	c.setReadyState(websocket.Closed)
	c.setStatus(protocol.StatusClosed)
	c.setTheme("")

	decision, attempts, delay := c.owner.backoff.Decide(c.manualClose, ev.Clean, c.attempts)
	switch decision {
	case websocket.Retry:
		c.mu.Lock()
		c.attempts = attempts
		c.mu.Unlock()

		c.logger.Info("scheduling reconnect", "attempt", attempts, "delay", delay)
		c.scheduleReconnect(delay)

	case websocket.Exhausted:
		c.logger.Error("giving up on room socket", "attempts", attempts)
		c.setError(ErrReconnectLimit)
	}
}

func (c *Connection) scheduleReconnect(delay time.Duration) {
	c.cancelReconnect()
	c.reconnect = c.owner.clock.AfterFunc(delay, func() {
		c.owner.loop.Post(func() { c.owner.reconnect(c) })
	})
}

func (c *Connection) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// closeManually closes the socket for good and resets the derived state
// right away instead of waiting for the close callback.
func (c *Connection) closeManually(reason string) {
	c.manualClose = true
	c.cancelReconnect()

	switch c.socket.ReadyState() {
	case websocket.Connecting, websocket.Open:
		c.setReadyState(websocket.Closing)
		if err := c.socket.Close(websocket.CloseNormal, reason); err != nil {
			c.logger.Warn("close failed", "error", err)
		}
	}

	c.setConnected(false)
	c.setReadyState(websocket.Closed)
	c.resetDerived()
	c.retired = true
}

// resetDerived returns the session state to its neutral values.
func (c *Connection) resetDerived() {
	c.setStatus(protocol.StatusUnknown)
	c.setTheme("")
	c.detector.Reset()

	c.mu.Lock()
	c.adminDetected = false
	c.lastMessage = ""
	c.role = c.detector.Role()
	c.mu.Unlock()
}

// dead reports whether the connection is closed with nothing pending.
func (c *Connection) dead() bool {
	return c.readyState == websocket.Closed && c.reconnect == nil
}

// send writes text if the socket is open. The socket is fixed for the
// lifetime of a Connection, so this is safe from any goroutine.
func (c *Connection) send(text string) error {
	if c.socket.ReadyState() != websocket.Open {
		return ErrNotOpen
	}
	if err := c.socket.Send(text); err != nil {
		if errors.Is(err, websocket.ErrNotOpen) {
			return ErrNotOpen
		}
		return &TransportError{Key: c.key, Err: err}
	}
	return nil
}

func (c *Connection) add(s *subscription) {
	c.subs = append(c.subs, s)
	c.setHint(s.hint)

	c.mu.Lock()
	c.subCount = len(c.subs)
	connected, ready := c.connected, c.readyState
	status, theme, err := c.status, c.theme, c.err
	c.mu.Unlock()

	s.sub.OnConnectionChange(connected)
	s.sub.OnReadyStateChange(ready)
	s.sub.OnStatusChange(status)
	if theme != "" {
		s.sub.OnThemeChange(theme)
	}
	if err != nil {
		s.sub.OnError(err)
	}
}

func (c *Connection) remove(s *subscription) bool {
	for i, cur := range c.subs {
		if cur == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			c.mu.Lock()
			c.subCount = len(c.subs)
			c.mu.Unlock()
			return true
		}
	}
	return false
}

func (c *Connection) setHint(h role.Hint) {
	if h == role.HintNone {
		return
	}
	c.hint = h
	c.detector.SetHint(h)

	c.mu.Lock()
	c.role = c.detector.Role()
	c.mu.Unlock()
}

// each calls f for every subscriber that has not unsubscribed.
func (c *Connection) each(f func(Subscriber)) {
	for _, s := range c.subs {
		if !s.removed.Load() {
			f(s.sub)
		}
	}
}

func (c *Connection) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	c.mu.Unlock()

	if changed {
		c.each(func(s Subscriber) { s.OnConnectionChange(v) })
	}
}

func (c *Connection) setReadyState(v websocket.ReadyState) {
	c.mu.Lock()
	changed := c.readyState != v
	c.readyState = v
	c.mu.Unlock()

	if changed {
		c.each(func(s Subscriber) { s.OnReadyStateChange(v) })
	}
}

func (c *Connection) setStatus(v protocol.Status) {
	c.mu.Lock()
	changed := c.status != v
	c.status = v
	c.mu.Unlock()

	if changed {
		c.each(func(s Subscriber) { s.OnStatusChange(v) })
	}
}

func (c *Connection) setTheme(v string) {
	c.mu.Lock()
	changed := c.theme != v
	c.theme = v
	c.mu.Unlock()

	if changed {
		c.each(func(s Subscriber) { s.OnThemeChange(v) })
	}
}

func (c *Connection) setError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	c.each(func(s Subscriber) { s.OnError(err) })
}

func (c *Connection) clearError() {
	c.mu.Lock()
	had := c.err != nil
	c.err = nil
	c.mu.Unlock()

	if had {
		c.each(func(s Subscriber) { s.OnError(nil) })
	}
}

func (c *Connection) snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Key:           c.key,
		Connected:     c.connected,
		ReadyState:    c.readyState,
		Status:        c.status,
		Theme:         c.theme,
		LastMessage:   c.lastMessage,
		AdminDetected: c.adminDetected,
		Role:          c.role,
		Err:           c.err,
		Attempts:      c.attempts,
		Subscribers:   c.subCount,
	}
}
