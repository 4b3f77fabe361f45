// Package service provides the application layer of the party client.
//
// The service package implements:
//   - Creating and joining rooms over REST, then attaching their sockets
//   - Per-session state combining the socket snapshot and a transcript
//   - Sending answers, themes and the continue reply
//   - Room operations (force start, close, results, stats) and the lobby list
//
// Core Interfaces:
//
// PartyService is the interface the CLI, the MCP tools and the local HTTP API
// are written against. Sessions, RoomsAPI and Lobby are its collaborators;
// session.Registry, rest.Client and lobby.Feed implement them.
//
// Architecture:
//
// The service sits between the outer surfaces and the session core. It never
// parses server lines for state itself; status, theme and role come from the
// registry's snapshots. It keeps only what the registry does not: the last
// server lines of each session and whether the continue prompt is pending.
//
// Usage:
//
//	reg := session.NewRegistry(cfg.WSURL)
//	go reg.Run(ctx)
//
//	svc := service.NewPartyService(reg, rest.NewClient(cfg.ServerURL))
//	info, err := svc.CreateRoom(ctx, "alice")
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = svc.SendMessage(ctx, info.RoomID, info.UserID, "Zombie outbreak")
//
// Theme fallback:
//
// A session that joins mid-round may see a status that implies a scenario
// before the socket has delivered one. GetSession then asks the REST theme
// endpoint and reports ThemeSource "rest".
//
// Persistence:
//
// With WithPersistence every membership is written to a SessionPersistence
// (FilePersistence keeps one JSON file per room and user). Leave and
// CloseRoom delete the record, Close keeps it, and Restore attaches to every
// stored membership after a restart.
package service
