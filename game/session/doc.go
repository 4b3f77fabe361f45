// Package session provides the shared per-room game sessions of the client.
//
// The session package implements:
//   - One socket per (room, user) key, shared by any number of subscribers
//   - Parsing of server lines into status, theme and role updates
//   - Reconnection with exponential backoff and a bounded attempt count
//   - Idle closing after the last subscriber leaves
//
// Core Types:
//
// Registry owns every Connection and is the only entry point. Connection
// holds one socket and the state derived from it. Subscriber receives the
// notifications for a key; Funcs adapts plain functions to it.
//
// Concurrency:
//
// A Registry runs all socket callbacks, timers and subscription changes on
// one loop goroutine started by Run. Subscribers are called from that
// goroutine in subscription order and must not block. Send, State and Keys
// may be called from any goroutine.
//
// Usage:
//
//	reg := session.NewRegistry("ws://localhost:8080", session.WithLogger(logger))
//	go reg.Run(ctx)
//
//	key := session.Key{RoomID: roomID, UserID: userID}
//	unsubscribe := reg.Subscribe(key, session.Funcs{
//		Status: func(s protocol.Status) { log.Printf("status: %s", s) },
//	}, session.WithRoleHint(role.HintJoiner))
//	defer unsubscribe()
//
//	if err := reg.Send(key, "my answer"); err != nil {
//		log.Printf("send failed: %v", err)
//	}
//
// Lifecycle:
//
// The first Subscribe for a key dials. Unclean closes are retried after 3s,
// 6s, 12s, 24s and 48s; after that the connection reports ErrReconnectLimit
// until a new subscriber arrives. When the last subscriber leaves, the socket
// stays open for a five second grace period. Close ends a session at once.
package session
