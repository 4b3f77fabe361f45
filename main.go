// Command gpt-party is a terminal client for the GPT Party game server.
//
// It supports five commands:
//  1. "play" joins or creates a room and runs an interactive session
//  2. "rooms" watches the live rooms feed
//  3. "serve" runs a local HTTP API, a WebSocket watcher endpoint and an /mcp endpoint
//  4. "mcp" runs an MCP stdio server so an assistant can play
//  5. "invite" prints a room link and writes it as a QR code
//
// Settings come from an optional config file, PARTY_* environment variables
// (a .env file is loaded first) and the global flags, in increasing priority.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/gpt-party/game/config"
	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "GPT Party"
)

// main builds the command tree and runs it.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("Warning: %v", err)
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "gpt-party",
		Usage:   AppName + " terminal client",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml, json or toml)",
				Sources: cli.EnvVars("PARTY_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "server-url",
				Usage: "game server base URL, e.g. http://localhost:8080",
			},
			&cli.StringFlag{
				Name:  "ws-url",
				Usage: "game server websocket base URL (derived from --server-url when empty)",
			},
			&cli.StringFlag{
				Name:    "nickname",
				Aliases: []string{"n"},
				Usage:   "nickname used when creating or joining a room",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			playCommand(),
			roomsCommand(),
			serveCommand(),
			mcpCommand(),
			inviteCommand(),
		},
	}
}

// loadConfig layers the global flags over the file and environment settings
// and validates the result.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("server-url") {
		cfg.ServerURL = cmd.String("server-url")
		// a ws url derived from the old server url no longer applies
		if !cmd.IsSet("ws-url") {
			cfg.WSURL = ""
		}
	}
	if cmd.IsSet("ws-url") {
		cfg.WSURL = cmd.String("ws-url")
	}
	if cmd.IsSet("nickname") {
		cfg.Nickname = cmd.String("nickname")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger configures the std logger used by main and returns the structured
// logger handed to the session layer. Interactive commands keep it quiet
// unless debugging.
func newLogger(cfg *config.Config, quiet bool) *slog.Logger {
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}

	level := slog.LevelInfo
	switch {
	case cfg.Debug:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initializeServices wires the room registry, the lobby feed and the REST
// client into a party service. The registry and feed run until ctx is done;
// nothing is dialed until a session or the feed is subscribed.
func initializeServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...service.Option) (service.PartyService, error) {
	registry := session.NewRegistry(cfg.WSURL,
		session.WithBackoff(cfg.Backoff()),
		session.WithIdleGrace(cfg.IdleGrace),
		session.WithLogger(logger),
	)
	go registry.Run(ctx)

	feed, err := lobby.NewFeed(cfg.WSURL,
		lobby.WithBackoff(cfg.Backoff()),
		lobby.WithIdleGrace(cfg.IdleGrace),
		lobby.WithPingInterval(cfg.PingInterval),
		lobby.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rooms feed: %w", err)
	}
	go feed.Run(ctx)

	client := rest.NewClient(cfg.ServerURL)

	opts = append([]service.Option{
		service.WithLobby(feed),
		service.WithLogger(logger),
		service.WithTranscriptSize(cfg.TranscriptSize),
	}, opts...)

	party := service.NewPartyService(registry, client, opts...)
	return party, nil
}

// initializePersistentServices is initializeServices plus the membership
// store when a sessions directory is configured. Stored rooms are attached
// again before it returns.
func initializePersistentServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.PartyService, error) {
	var opts []service.Option
	if cfg.SessionsDir != "" {
		persistence, err := service.NewFilePersistence(cfg.SessionsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create session persistence: %w", err)
		}
		opts = append(opts, service.WithPersistence(persistence))
	}

	party, err := initializeServices(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	restored, err := party.Restore(ctx)
	if err != nil {
		log.Printf("Warning: Failed to restore sessions: %v", err)
	} else if restored > 0 {
		log.Printf("Restored %d sessions from %s", restored, cfg.SessionsDir)
	}
	return party, nil
}

// roomLink is the browser link for a room on the game server.
func roomLink(serverURL, roomID string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL + "/?room=" + url.QueryEscape(roomID)
	}
	u.RawQuery = url.Values{"room": {roomID}}.Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// shutdownTimeout bounds graceful shutdown of the local HTTP server.
const shutdownTimeout = 10 * time.Second
