package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to read the next pong message from a watcher.
	pongWait = 60 * time.Second

	// Send pings to watchers with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Watchers only send control frames.
	watcherMaxMessageSize = 512

	watcherSendBuffer = 256
)

// ErrHubStopped is returned by ServeWS once the hub's Run has returned.
var ErrHubStopped = errors.New("hub stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the hub serves local dashboards only
		return true
	},
}

// Event is one update pushed to watchers of a topic
type Event struct {
	Topic string `json:"topic"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client is one watcher connected to the hub
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	topic string
}

type delivery struct {
	client *Client
	event  *Event
}

// Hub fans session updates out to watcher sockets. All bookkeeping happens
// on the goroutine running Run.
type Hub struct {
	logger *slog.Logger

	// Registered clients by topic
	topics map[string]map[*Client]bool

	broadcast  chan *Event
	direct     chan delivery
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
}

// NewHub creates a new watcher hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		topics:     make(map[string]map[*Client]bool),
		broadcast:  make(chan *Event, watcherSendBuffer),
		direct:     make(chan delivery, watcherSendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop and disconnects every watcher once ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case d := <-h.direct:
			h.deliver(d)

		case <-ctx.Done():
			for _, clients := range h.topics {
				for client := range clients {
					h.unregisterClient(client)
				}
			}
			return
		}
	}
}

// ServeWS upgrades the request and registers the watcher under topic
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return nil, err
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, watcherSendBuffer),
		done:  make(chan struct{}),
		topic: topic,
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return nil, ErrHubStopped
	}

	go client.writePump()
	go client.readPump()

	return client, nil
}

// Broadcast sends an event to every watcher of topic
func (h *Hub) Broadcast(topic, event string, data any) {
	select {
	case h.broadcast <- &Event{Topic: topic, Event: event, Data: data}:
	case <-h.stopped:
	}
}

// Send queues an event for this watcher only. Events for a watcher that
// already left are dropped.
func (c *Client) Send(event string, data any) {
	select {
	case c.hub.direct <- delivery{client: c, event: &Event{Topic: c.topic, Event: event, Data: data}}:
	case <-c.hub.stopped:
	}
}

// Done is closed once the watcher is unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (h *Hub) registerClient(client *Client) {
	if h.topics[client.topic] == nil {
		h.topics[client.topic] = make(map[*Client]bool)
	}
	h.topics[client.topic][client] = true

	h.logger.Debug("watcher registered", "topic", client.topic, "watchers", len(h.topics[client.topic]))
}

func (h *Hub) unregisterClient(client *Client) {
	if clients, ok := h.topics[client.topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			close(client.done)

			if len(clients) == 0 {
				delete(h.topics, client.topic)
			}

			h.logger.Debug("watcher unregistered", "topic", client.topic, "watchers", len(clients))
		}
	}
}

func (h *Hub) broadcastEvent(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal watcher event", "event", event.Event, "error", err)
		return
	}

	for client := range h.topics[event.Topic] {
		h.enqueue(client, data)
	}
}

func (h *Hub) deliver(d delivery) {
	if !h.topics[d.client.topic][d.client] {
		return
	}

	data, err := json.Marshal(d.event)
	if err != nil {
		h.logger.Error("failed to marshal watcher event", "event", d.event.Event, "error", err)
		return
	}
	h.enqueue(d.client, data)
}

func (h *Hub) enqueue(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// slow watcher
		h.unregisterClient(client)
	}
}

// readPump keeps the watcher alive and notices when it goes away
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(watcherMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("watcher socket error", "topic", c.topic, "error", err)
			}
			break
		}
	}
}

// writePump pumps events from the hub to the watcher. Each event is its own
// text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
