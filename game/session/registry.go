package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/transport/websocket"
)

const (
	// DefaultIdleGrace is how long a connection without subscribers stays open.
	DefaultIdleGrace = 5 * time.Second

	loopBuffer = 256
)

// Registry shares one room connection per (room, user) key between any
// number of subscribers.
//
// All bookkeeping runs on the registry's loop; Run must be started before
// subscriptions take effect.
type Registry struct {
	wsBase      string
	dialer      websocket.Dialer
	clock       websocket.Clock
	backoff     websocket.Backoff
	idleGrace   time.Duration
	logger      *slog.Logger
	newDetector func(role.Hint) role.Detector

	loop *websocket.Loop

	// conns is written only from the loop, under mu. closing marks keys
	// whose Close has not reached the loop yet.
	mu      sync.RWMutex
	conns   map[Key]*Connection
	closing map[Key]bool

	// loop-owned
	idle map[Key]*idleTimer
}

type idleTimer struct {
	timer websocket.Timer
}

// Option configures a Registry.
type Option func(*Registry)

func WithDialer(d websocket.Dialer) Option {
	return func(r *Registry) { r.dialer = d }
}

func WithClock(c websocket.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithBackoff(b websocket.Backoff) Option {
	return func(r *Registry) { r.backoff = b }
}

func WithIdleGrace(d time.Duration) Option {
	return func(r *Registry) { r.idleGrace = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDetector replaces the role heuristic.
func WithDetector(f func(role.Hint) role.Detector) Option {
	return func(r *Registry) { r.newDetector = f }
}

// NewRegistry creates a registry dialing room sockets under wsBase
// (for example "ws://localhost:8080").
func NewRegistry(wsBase string, opts ...Option) *Registry {
	r := &Registry{
		wsBase:    wsBase,
		dialer:    websocket.NewGorillaDialer(),
		clock:     websocket.SystemClock{},
		backoff:   websocket.DefaultBackoff,
		idleGrace: DefaultIdleGrace,
		logger:    slog.Default(),
		newDetector: func(h role.Hint) role.Detector {
			return role.NewPhraseDetector(h)
		},
		loop:    websocket.NewLoop(loopBuffer),
		conns:   make(map[Key]*Connection),
		closing: make(map[Key]bool),
		idle:    make(map[Key]*idleTimer),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run processes events until ctx is done, then closes every connection.
func (r *Registry) Run(ctx context.Context) {
	r.loop.Run(ctx)

	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.closeManually("client shutting down")
	}
	for _, it := range r.idle {
		it.timer.Stop()
	}
}

// Flush waits until all previously queued events have been processed.
// It must not be called from a Subscriber callback.
func (r *Registry) Flush() {
	r.loop.Flush()
}

// Subscribe attaches sub to the connection for key, opening it on first use.
// The returned function detaches the subscriber: no notification reaches sub
// after it returns. Calling it more than once is harmless.
func (r *Registry) Subscribe(key Key, sub Subscriber, opts ...SubscribeOption) (unsubscribe func()) {
	s := &subscription{id: uuid.NewString(), sub: sub}
	for _, opt := range opts {
		opt(s)
	}

	r.loop.Post(func() { r.attach(key, s) })

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removed.Store(true)
			r.loop.Post(func() { r.detach(key, s) })
		})
	}
}

// Send writes payload to the connection for key. Strings and byte slices
// are sent verbatim; anything else is JSON encoded.
func (r *Registry) Send(key Key, payload any) error {
	c := r.lookup(key)
	if c == nil {
		return ErrNoConnection
	}

	text, err := websocket.EncodeText(payload)
	if err != nil {
		return err
	}
	return c.send(text)
}

// Close closes the connection for key and forgets it. Unlike idle closing
// this is immediate: Send, State and Keys stop seeing the key before Close
// returns, and the socket is torn down on the loop.
func (r *Registry) Close(key Key) {
	r.mu.Lock()
	if r.conns[key] != nil {
		r.closing[key] = true
	}
	r.mu.Unlock()

	r.loop.Post(func() {
		defer r.closed(key)

		c := r.conns[key]
		if c == nil {
			return
		}
		c.logger.Info("closing room socket on request")
		c.closeManually("client closed the session")
		r.remove(key)
	})
}

func (r *Registry) closed(key Key) {
	r.mu.Lock()
	delete(r.closing, key)
	r.mu.Unlock()
}

// lookup returns the connection for key unless it is missing or being closed.
func (r *Registry) lookup(key Key) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closing[key] {
		return nil
	}
	return r.conns[key]
}

// State returns a snapshot of the connection for key.
func (r *Registry) State(key Key) (Snapshot, bool) {
	c := r.lookup(key)
	if c == nil {
		return Snapshot{}, false
	}
	return c.snapshot(), true
}

// Keys lists the keys with a live registry entry.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.conns))
	for k := range r.conns {
		if !r.closing[k] {
			keys = append(keys, k)
		}
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (r *Registry) attach(key Key, s *subscription) {
	if s.removed.Load() {
		return
	}
	r.stopIdle(key)

	c := r.conns[key]
	switch {
	case c == nil:
		c = r.open(key, s.hint)
		r.put(key, c)

	case c.dead():
		// A fresh subscriber starts a fresh attempt cycle.
		next := r.open(key, c.hint)
		next.adopt(c, 0)
		r.put(key, next)
		c = next
	}

	c.add(s)
}

func (r *Registry) detach(key Key, s *subscription) {
	c := r.conns[key]
	if c == nil || !c.remove(s) {
		return
	}
	if len(c.subs) == 0 {
		r.scheduleIdle(key)
	}
}

func (r *Registry) scheduleIdle(key Key) {
	r.stopIdle(key)

	it := &idleTimer{}
	it.timer = r.clock.AfterFunc(r.idleGrace, func() {
		r.loop.Post(func() { r.idleExpired(key, it) })
	})
	r.idle[key] = it
}

func (r *Registry) stopIdle(key Key) {
	if it := r.idle[key]; it != nil {
		it.timer.Stop()
		delete(r.idle, key)
	}
}

// idleExpired closes the connection if it is still unused.
func (r *Registry) idleExpired(key Key, it *idleTimer) {
	if r.idle[key] != it {
		return
	}
	delete(r.idle, key)

	c := r.conns[key]
	if c == nil || len(c.subs) > 0 {
		return
	}

	c.logger.Info("closing idle room socket")
	c.closeManually("no subscribers")
	r.remove(key)
}

// reconnect replaces old with a fresh connection for the same key, handing
// over its subscribers and attempt counter.
func (r *Registry) reconnect(old *Connection) {
	old.reconnect = nil
	if old.retired || r.conns[old.key] != old {
		return
	}
	if len(old.subs) == 0 {
		old.logger.Info("skipping reconnect, no subscribers left")
		return
	}

	old.logger.Info("reconnecting room socket", "attempt", old.attempts)

	next := r.open(old.key, old.hint)
	next.adopt(old, old.attempts)
	r.put(old.key, next)
}

// open creates a connection for key and starts dialing.
func (r *Registry) open(key Key, hint role.Hint) *Connection {
	logger := r.logger.With("room", key.RoomID, "user", key.UserID)

	c := &Connection{
		key:        key,
		owner:      r,
		logger:     logger,
		hint:       hint,
		detector:   r.newDetector(hint),
		readyState: websocket.Connecting,
		status:     protocol.StatusUnknown,
	}
	c.role = c.detector.Role()

	url, err := RoomURL(r.wsBase, key)
	if err != nil {
		logger.Error("cannot build room url", "error", err)
		url = r.wsBase
	}
	c.url = url
	c.socket = r.dialer.Open(url, socketEvents{c})

	return c
}

// adopt moves old's subscribers onto c, retires old, and tells the
// subscribers about the new connection's neutral state.
func (c *Connection) adopt(old *Connection, attempts int) {
	c.subs = old.subs
	old.subs = nil
	old.retired = true
	old.cancelReconnect()

	c.mu.Lock()
	c.attempts = attempts
	c.subCount = len(c.subs)
	c.mu.Unlock()

	old.mu.Lock()
	old.subCount = 0
	old.mu.Unlock()

	for _, s := range c.subs {
		if s.removed.Load() {
			continue
		}
		if old.readyState != c.readyState {
			s.sub.OnReadyStateChange(c.readyState)
		}
		if old.status != c.status {
			s.sub.OnStatusChange(c.status)
		}
		if old.theme != c.theme {
			s.sub.OnThemeChange(c.theme)
		}
		if old.err != nil {
			s.sub.OnError(nil)
		}
	}
}

func (r *Registry) put(key Key, c *Connection) {
	r.mu.Lock()
	r.conns[key] = c
	r.mu.Unlock()
}

func (r *Registry) remove(key Key) {
	r.stopIdle(key)

	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}
