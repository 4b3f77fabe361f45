// Package wstest provides test doubles for the websocket transport: a Dialer
// whose sockets are driven by the test, and a manually advanced Clock.
package wstest

import (
	"sort"
	"sync"
	"time"

	"github.com/wricardo/gpt-party/transport/websocket"
)

// Dialer records every socket it opens.
type Dialer struct {
	mu      sync.Mutex
	sockets []*Socket
}

var _ websocket.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Open(url string, h websocket.Handler) websocket.Socket {
	s := &Socket{URL: url, handler: h, state: websocket.Connecting}

	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()

	return s
}

// Count returns how many sockets were opened.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

// Socket returns the i-th opened socket.
func (d *Dialer) Socket(i int) *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

// Last returns the most recently opened socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// CloseCall records one Close request.
type CloseCall struct {
	Code   int
	Reason string
}

// Socket is a fake socket. The test plays the server by calling Accept,
// Receive, Fail and Drop; the code under test calls Send and Close.
type Socket struct {
	URL string

	handler websocket.Handler

	mu     sync.Mutex
	state  websocket.ReadyState
	sent   []string
	closes []CloseCall
	// SendErr, when set, is returned by Send.
	SendErr error
}

func (s *Socket) ReadyState() websocket.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != websocket.Open {
		return websocket.ErrNotOpen
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *Socket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, CloseCall{Code: code, Reason: reason})
	if s.state == websocket.Connecting || s.state == websocket.Open {
		s.state = websocket.Closing
	}
	return nil
}

// Sent returns the frames written so far.
func (s *Socket) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Closes returns the Close requests received so far.
func (s *Socket) Closes() []CloseCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CloseCall(nil), s.closes...)
}

// Accept completes the connection.
func (s *Socket) Accept() {
	s.mu.Lock()
	s.state = websocket.Open
	s.mu.Unlock()
	s.handler.OnOpen()
}

// Receive delivers a text frame.
func (s *Socket) Receive(text string) {
	s.handler.OnMessage(websocket.Message{Text: true, Data: []byte(text)})
}

// ReceiveBinary delivers a binary frame.
func (s *Socket) ReceiveBinary(data []byte) {
	s.handler.OnMessage(websocket.Message{Data: data})
}

// Fail reports a transport error without closing.
func (s *Socket) Fail(err error) {
	s.handler.OnError(err)
}

// Drop ends the socket. clean selects whether a close frame was exchanged.
func (s *Socket) Drop(clean bool) {
	code := websocket.CloseAbnormal
	if clean {
		code = websocket.CloseNormal
	}
	s.DropWith(websocket.CloseEvent{Code: code, Clean: clean})
}

// DropWith ends the socket with a specific close event.
func (s *Socket) DropWith(ev websocket.CloseEvent) {
	s.mu.Lock()
	s.state = websocket.Closed
	s.mu.Unlock()
	s.handler.OnClose(ev)
}

// Clock is a manual clock. Timers fire only from Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*Timer
}

var _ websocket.Clock = (*Clock)(nil)

func NewClock() *Clock {
	return &Clock{}
}

// Timer is a fake timer.
type Timer struct {
	clock *Clock

	// Duration is the delay the timer was scheduled with.
	Duration time.Duration

	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *Timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *Clock) AfterFunc(d time.Duration, f func()) websocket.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &Timer{clock: c, Duration: d, at: c.now + d, seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that comes due, in
// deadline order. Callbacks run on the calling goroutine.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*Timer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at == due[j].at {
				return due[i].seq < due[j].seq
			}
			return due[i].at < due[j].at
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.Duration)
		}
	}
	return out
}
