package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/transport/websocket"
)

const (
	DefaultIdleGrace    = 5 * time.Second
	DefaultPingInterval = 30 * time.Second

	// PingMessage keeps proxies from idling the feed socket out. The server
	// does not answer it.
	PingMessage = `{"type":"ping"}`
)

var (
	ErrNotConnected   = errors.New("rooms feed is not connected")
	ErrNotOpen        = errors.New("rooms feed is not open")
	ErrReconnectLimit = errors.New("rooms feed reconnect limit reached")
)

// Listener receives rooms feed notifications. Calls come from the feed's
// loop in subscription order and stop once the unsubscribe function returns.
type Listener interface {
	OnConnectionChange(connected bool)
	OnReadyStateChange(state websocket.ReadyState)
	// OnError reports the current feed error; nil means it was cleared.
	OnError(err error)
	OnRoomEvent(ev protocol.RoomEvent)
}

// Funcs adapts optional callbacks to the Listener interface.
type Funcs struct {
	Connection func(connected bool)
	ReadyState func(state websocket.ReadyState)
	Error      func(err error)
	RoomEvent  func(ev protocol.RoomEvent)
}

var _ Listener = Funcs{}

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

func (f Funcs) OnRoomEvent(ev protocol.RoomEvent) {
	if f.RoomEvent != nil {
		f.RoomEvent(ev)
	}
}

// State is a point-in-time view of the feed connection.
type State struct {
	Connected  bool                 `json:"connected"`
	ReadyState websocket.ReadyState `json:"ready_state"`
	Attempts   int                  `json:"reconnect_attempts"`
	Err        error                `json:"-"`
	Listeners  int                  `json:"listeners"`
}

// Feed is the single shared connection to the rooms monitor endpoint.
type Feed struct {
	url          string
	dialer       websocket.Dialer
	clock        websocket.Clock
	backoff      websocket.Backoff
	idleGrace    time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	loop *websocket.Loop

	mu    sync.RWMutex
	conn  *feedConn
	state State
	rooms map[string]*Room
	// closing is set by Close until the loop has torn the socket down
	closing bool

	// loop-owned
	listeners []*listener
	idle      *idleTimer
}

type listener struct {
	id      string
	l       Listener
	removed atomic.Bool
}

type idleTimer struct {
	timer websocket.Timer
}

// Option configures a Feed.
type Option func(*Feed)

func WithDialer(d websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

func WithClock(c websocket.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

func WithBackoff(b websocket.Backoff) Option {
	return func(f *Feed) { f.backoff = b }
}

func WithIdleGrace(d time.Duration) Option {
	return func(f *Feed) { f.idleGrace = d }
}

func WithPingInterval(d time.Duration) Option {
	return func(f *Feed) { f.pingInterval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// FeedURL builds the monitor endpoint URL from the WebSocket base URL.
func FeedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid websocket base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/rooms"
	u.RawQuery = ""
	return u.String(), nil
}

// NewFeed creates a feed for the monitor endpoint under wsBase. It dials on
// the first Subscribe.
func NewFeed(wsBase string, opts ...Option) (*Feed, error) {
	feedURL, err := FeedURL(wsBase)
	if err != nil {
		return nil, err
	}

	f := &Feed{
		url:          feedURL,
		dialer:       websocket.NewGorillaDialer(),
		clock:        websocket.SystemClock{},
		backoff:      websocket.DefaultBackoff,
		idleGrace:    DefaultIdleGrace,
		pingInterval: DefaultPingInterval,
		logger:       slog.Default(),
		loop:         websocket.NewLoop(256),
		state:        State{ReadyState: websocket.Closed},
		rooms:        make(map[string]*Room),
	}

	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("feed", "rooms")

	return f, nil
}

// Run processes feed events until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	f.loop.Run(ctx)

	if f.conn != nil {
		f.conn.closeManually("client shutting down")
	}
	f.stopIdle()
}

// Flush waits until all previously queued events have been processed.
func (f *Feed) Flush() {
	f.loop.Flush()
}

// Subscribe attaches l, connecting the feed if needed.
func (f *Feed) Subscribe(l Listener) (unsubscribe func()) {
	entry := &listener{id: uuid.NewString(), l: l}
	f.loop.Post(func() { f.attach(entry) })

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.removed.Store(true)
			f.loop.Post(func() { f.detach(entry) })
		})
	}
}

// Send writes payload to the feed socket.
func (f *Feed) Send(payload any) error {
	f.mu.RLock()
	c, closing := f.conn, f.closing
	f.mu.RUnlock()

	if c == nil || closing {
		return ErrNotConnected
	}

	text, err := websocket.EncodeText(payload)
	if err != nil {
		return err
	}
	return c.send(text)
}

// Close disconnects the feed and forgets the lobby list. Send fails and
// State reports the feed disconnected as soon as Close returns.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closing = true
	f.mu.Unlock()

	f.loop.Post(func() {
		defer func() {
			f.mu.Lock()
			f.closing = false
			f.mu.Unlock()
		}()

		f.stopIdle()
		if f.conn == nil {
			return
		}
		f.logger.Info("closing rooms feed on request")
		f.conn.closeManually("client closed the rooms feed")
		f.setConn(nil)
		f.resetRooms()
	})
}

// State returns the current connection state.
func (f *Feed) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := f.state
	if f.closing {
		st.Connected = false
	}
	return st
}

func (f *Feed) attach(entry *listener) {
	if entry.removed.Load() {
		return
	}
	f.stopIdle()

	if f.conn == nil || f.conn.dead() {
		// A new listener starts a fresh attempt cycle.
		if f.conn != nil {
			f.conn.retired = true
			f.setError(nil)
		}
		f.dial(0)
	}

	f.listeners = append(f.listeners, entry)

	f.mu.Lock()
	f.state.Listeners = len(f.listeners)
	st := f.state
	f.mu.Unlock()

	entry.l.OnConnectionChange(st.Connected)
	entry.l.OnReadyStateChange(st.ReadyState)
	if st.Err != nil {
		entry.l.OnError(st.Err)
	}
}

func (f *Feed) detach(entry *listener) {
	for i, cur := range f.listeners {
		if cur == entry {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			break
		}
	}

	f.mu.Lock()
	f.state.Listeners = len(f.listeners)
	f.mu.Unlock()

	if len(f.listeners) == 0 && f.conn != nil && f.idle == nil {
		it := &idleTimer{}
		it.timer = f.clock.AfterFunc(f.idleGrace, func() {
			f.loop.Post(func() { f.idleExpired(it) })
		})
		f.idle = it
	}
}

func (f *Feed) idleExpired(it *idleTimer) {
	if f.idle != it {
		return
	}
	f.idle = nil

	if len(f.listeners) > 0 || f.conn == nil {
		return
	}

	f.logger.Info("closing idle rooms feed")
	f.conn.closeManually("no listeners")
	f.setConn(nil)
	f.resetRooms()
}

func (f *Feed) stopIdle() {
	if f.idle != nil {
		f.idle.timer.Stop()
		f.idle = nil
	}
}

// dial opens a fresh socket and makes it the current connection.
func (f *Feed) dial(attempts int) {
	c := &feedConn{feed: f, attempts: attempts}
	c.socket = f.dialer.Open(f.url, feedEvents{c})
	f.setConn(c)

	f.mu.Lock()
	f.state.Attempts = attempts
	f.mu.Unlock()

	f.setReadyState(websocket.Connecting)
}

func (f *Feed) reconnect(old *feedConn) {
	old.reconnect = nil
	if old.retired || f.conn != old {
		return
	}
	if len(f.listeners) == 0 {
		f.logger.Info("skipping reconnect, no listeners left")
		return
	}

	f.logger.Info("reconnecting rooms feed", "attempt", old.attempts)
	old.retired = true
	f.dial(old.attempts)
}

func (f *Feed) setConn(c *feedConn) {
	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
}

func (f *Feed) each(fn func(Listener)) {
	for _, entry := range f.listeners {
		if !entry.removed.Load() {
			fn(entry.l)
		}
	}
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	changed := f.state.Connected != v
	f.state.Connected = v
	f.mu.Unlock()

	if changed {
		f.each(func(l Listener) { l.OnConnectionChange(v) })
	}
}

func (f *Feed) setReadyState(v websocket.ReadyState) {
	f.mu.Lock()
	changed := f.state.ReadyState != v
	f.state.ReadyState = v
	f.mu.Unlock()

	if changed {
		f.each(func(l Listener) { l.OnReadyStateChange(v) })
	}
}

func (f *Feed) setError(err error) {
	f.mu.Lock()
	had := f.state.Err != nil
	f.state.Err = err
	f.mu.Unlock()

	if err != nil || had {
		f.each(func(l Listener) { l.OnError(err) })
	}
}

// feedConn is one socket of the feed. A reconnect replaces it.
type feedConn struct {
	feed   *Feed
	socket websocket.Socket

	attempts    int
	manualClose bool
	closed      bool
	retired     bool
	reconnect   websocket.Timer
	ping        websocket.Timer
}

type feedEvents struct {
	c *feedConn
}

func (e feedEvents) OnOpen() {
	e.c.feed.loop.Post(e.c.handleOpen)
}

func (e feedEvents) OnMessage(msg websocket.Message) {
	e.c.feed.loop.Post(func() { e.c.handleMessage(msg) })
}

func (e feedEvents) OnError(err error) {
	e.c.feed.loop.Post(func() { e.c.handleError(err) })
}

func (e feedEvents) OnClose(ev websocket.CloseEvent) {
	e.c.feed.loop.Post(func() { e.c.handleClose(ev) })
}

func (c *feedConn) handleOpen() {
	if c.retired {
		return
	}
	f := c.feed
	f.logger.Info("rooms feed open")

	c.attempts = 0
	f.mu.Lock()
	f.state.Attempts = 0
	f.mu.Unlock()

	f.setConnected(true)
	f.setReadyState(websocket.Open)
	f.setError(nil)
	c.schedulePing()
}

func (c *feedConn) handleMessage(msg websocket.Message) {
	if c.retired {
		return
	}
	f := c.feed
	if !msg.Text {
		f.logger.Warn("ignoring non-text frame", "bytes", len(msg.Data))
		return
	}

	events, malformed := protocol.ParseRoomFrame(string(msg.Data))
	for _, line := range malformed {
		f.logger.Warn("skipping malformed room line", "line", line)
	}
	for _, ev := range events {
		if ev.Type == protocol.RoomEventUnknown {
			f.logger.Warn("unrecognized room action", "room", ev.RoomID, "action", ev.Action)
		}
		f.applyRoomEvent(ev)
		f.each(func(l Listener) { l.OnRoomEvent(ev) })
	}
}

func (c *feedConn) handleError(err error) {
	if c.retired {
		return
	}
	c.feed.logger.Error("rooms feed error", "error", err)
	c.feed.setError(fmt.Errorf("rooms feed: %w", err))
}

func (c *feedConn) handleClose(ev websocket.CloseEvent) {
	if c.retired {
		return
	}
	f := c.feed
	f.logger.Info("rooms feed closed", "code", ev.Code, "reason", ev.Reason, "clean", ev.Clean)

	c.closed = true
	c.stopPing()
	f.setConnected(false)
	f.setReadyState(websocket.Closed)

	decision, attempts, delay := f.backoff.Decide(c.manualClose, ev.Clean, c.attempts)
	switch decision {
	case websocket.Retry:
		c.attempts = attempts
		f.mu.Lock()
		f.state.Attempts = attempts
		f.mu.Unlock()

		f.logger.Info("scheduling rooms feed reconnect", "attempt", attempts, "delay", delay)
		c.cancelReconnect()
		c.reconnect = f.clock.AfterFunc(delay, func() {
			f.loop.Post(func() { f.reconnect(c) })
		})

	case websocket.Exhausted:
		f.logger.Error("giving up on rooms feed", "attempts", attempts)
		f.setError(ErrReconnectLimit)
	}
}

func (c *feedConn) schedulePing() {
	c.stopPing()
	f := c.feed
	c.ping = f.clock.AfterFunc(f.pingInterval, func() {
		f.loop.Post(c.keepAlive)
	})
}

func (c *feedConn) keepAlive() {
	c.ping = nil
	if c.retired || c.closed {
		return
	}
	if c.socket.ReadyState() == websocket.Open {
		if err := c.socket.Send(PingMessage); err != nil {
			c.feed.logger.Warn("rooms feed ping failed", "error", err)
		}
	}
	c.schedulePing()
}

func (c *feedConn) stopPing() {
	if c.ping != nil {
		c.ping.Stop()
		c.ping = nil
	}
}

func (c *feedConn) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *feedConn) closeManually(reason string) {
	c.manualClose = true
	c.cancelReconnect()
	c.stopPing()

	switch c.socket.ReadyState() {
	case websocket.Connecting, websocket.Open:
		c.feed.setReadyState(websocket.Closing)
		if err := c.socket.Close(websocket.CloseNormal, reason); err != nil {
			c.feed.logger.Warn("close failed", "error", err)
		}
	}

	c.closed = true
	c.retired = true
	c.feed.setConnected(false)
	c.feed.setReadyState(websocket.Closed)
}

func (c *feedConn) dead() bool {
	return c.closed && c.reconnect == nil
}

func (c *feedConn) send(text string) error {
	if c.socket.ReadyState() != websocket.Open {
		return ErrNotOpen
	}
	if err := c.socket.Send(text); err != nil {
		if errors.Is(err, websocket.ErrNotOpen) {
			return ErrNotOpen
		}
		return fmt.Errorf("rooms feed send: %w", err)
	}
	return nil
}
