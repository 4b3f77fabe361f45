// Package lobby provides the rooms monitor feed.
//
// Feed is a single shared connection to /ws/rooms. It parses the
// "{roomId} : {ACTION}" lines the server broadcasts, forwards each event to
// its listeners and keeps a lobby list of open rooms. Reconnects follow the
// same backoff as room sessions, and while the socket is open a ping frame
// is sent every 30 seconds.
//
//	feed, err := lobby.NewFeed("ws://localhost:8080")
//	if err != nil {
//		return err
//	}
//	go feed.Run(ctx)
//
//	unsubscribe := feed.Subscribe(lobby.Funcs{
//		RoomEvent: func(ev protocol.RoomEvent) { log.Printf("%s %s", ev.RoomID, ev.Type) },
//	})
//	defer unsubscribe()
package lobby
