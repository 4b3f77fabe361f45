// Package websocket provides the client transport used by the game session
// and lobby feed.
//
// The package implements:
//   - A browser-style Socket: it starts CONNECTING, reports open, message,
//     error and close through a Handler, and closes with a handshake
//   - GorillaDialer, the gorilla/websocket implementation
//   - Backoff, the shared reconnect policy (3s doubling, five attempts)
//   - Loop, a single-goroutine task runner that serializes socket callbacks
//     and timers
//   - Clock and Timer, so reconnect and idle timers can be driven by tests
//
// Architecture:
//
// Each socket owns one reader goroutine that delivers callbacks in arrival
// order. Owners post those callbacks onto a Loop together with their timer
// callbacks, so all bookkeeping for a set of connections runs on one
// goroutine:
//
//	loop := websocket.NewLoop(256)
//	go loop.Run(ctx)
//
//	sock := websocket.NewGorillaDialer().Open(url, handler)
//
// Close semantics:
//
// A close is Clean when a close frame was received from the peer. Network
// failures, dial failures and read timeouts are reported with code 1006 and
// Clean set to false, which is what the reconnect policy keys on.
//
// Testing:
//
// The wstest subpackage provides a fake Dialer whose sockets are driven by
// the test, and a manual Clock.
package websocket
