package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

// watchServer serves the hub on a test server and hands every registered
// client to clients.
func watchServer(t *testing.T, hub *Hub, clients chan<- *Client) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := hub.ServeWS(w, r, r.URL.Query().Get("topic"))
		if err != nil {
			return
		}
		clients <- client
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWatcher(t *testing.T, srv *httptest.Server, topic string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to decode event %q: %v", data, err)
	}
	return ev
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.topics == nil {
		t.Error("Hub topics map is nil")
	}
	if hub.logger == nil {
		t.Error("Hub logger is nil")
	}
}

func TestHubRegisterClient(t *testing.T) {
	hub := NewHub(nil)

	client := &Client{
		hub:   hub,
		topic: "room-1/u-1",
		send:  make(chan []byte, 1),
		done:  make(chan struct{}),
	}

	hub.registerClient(client)
	if !hub.topics["room-1/u-1"][client] {
		t.Fatal("Client was not registered in topic")
	}

	hub.unregisterClient(client)
	if _, exists := hub.topics["room-1/u-1"]; exists {
		t.Error("Empty topic was not removed")
	}

	select {
	case <-client.Done():
	default:
		t.Error("Expected Done to be closed after unregister")
	}

	// unregistering twice is a no-op
	hub.unregisterClient(client)
}

func TestHubSlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)

	client := &Client{
		hub:   hub,
		topic: "room-1/u-1",
		send:  make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	hub.registerClient(client)

	hub.broadcastEvent(&Event{Topic: "room-1/u-1", Event: "status", Data: "THEME_INPUT"})
	hub.broadcastEvent(&Event{Topic: "room-1/u-1", Event: "status", Data: "SCENARIO_PRESENTED"})

	if hub.topics["room-1/u-1"][client] {
		t.Error("Expected slow client to be unregistered")
	}
}

func TestHubSendAndBroadcast(t *testing.T) {
	hub, _ := startHub(t)
	clients := make(chan *Client, 2)
	srv := watchServer(t, hub, clients)

	alice := dialWatcher(t, srv, "room-1/u-1")
	aliceClient := <-clients
	bob := dialWatcher(t, srv, "room-1/u-2")
	<-clients

	aliceClient.Send("status", "THEME_INPUT")
	ev := readEvent(t, alice)
	if ev.Topic != "room-1/u-1" || ev.Event != "status" || ev.Data != "THEME_INPUT" {
		t.Errorf("Unexpected event: %+v", ev)
	}

	hub.Broadcast("room-1/u-2", "sent", "hide in the mall")
	ev = readEvent(t, bob)
	if ev.Event != "sent" || ev.Data != "hide in the mall" {
		t.Errorf("Unexpected broadcast event: %+v", ev)
	}
}

func TestHubClientDisconnect(t *testing.T) {
	hub, _ := startHub(t)
	clients := make(chan *Client, 1)
	srv := watchServer(t, hub, clients)

	conn := dialWatcher(t, srv, "room-1/u-1")
	client := <-clients

	conn.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Done after the watcher disconnected")
	}

	// Sends after the watcher left are dropped
	client.Send("status", "GAME_DONE")
}

func TestHubStop(t *testing.T) {
	hub, cancel := startHub(t)
	clients := make(chan *Client, 1)
	srv := watchServer(t, hub, clients)

	conn := dialWatcher(t, srv, "room-1/u-1")
	client := <-clients

	cancel()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Done after the hub stopped")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the watcher socket to close")
	}

	hub.Broadcast("room-1/u-1", "status", "CLOSED")
}
