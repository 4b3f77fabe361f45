package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/gpt-party/api"
	"github.com/wricardo/gpt-party/game/config"
	"github.com/wricardo/gpt-party/transport/mcp"
	"github.com/wricardo/gpt-party/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local HTTP API with the WebSocket watcher and /mcp endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on (default from config, localhost:8090)",
			},
			&cli.StringFlag{
				Name:  "sessions-dir",
				Usage: "directory that keeps joined rooms across restarts",
			},
			&cli.BoolFlag{
				Name:  "ngrok",
				Usage: "expose the API through an ngrok tunnel",
			},
			&cli.StringFlag{
				Name:  "ngrok-auth",
				Usage: "ngrok auth token (or use NGROK_AUTHTOKEN env var)",
			},
			&cli.StringFlag{
				Name:  "ngrok-domain",
				Usage: "custom ngrok domain (optional)",
			},
		},
		Action: runServe,
	}
}

// runServe starts the local API and, if enabled, an ngrok tunnel serving the
// same handler. It blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("listen") {
		cfg.Listen = cmd.String("listen")
	}
	if cmd.IsSet("sessions-dir") {
		cfg.SessionsDir = cmd.String("sessions-dir")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}
	logger := newLogger(cfg, false)

	log.Printf("Starting %s v%s (game server: %s)", AppName, Version, cfg.ServerURL)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	party, err := initializePersistentServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer party.Close()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	mcpServer := mcp.NewServer(party)
	handler := api.NewServer(party, hub,
		api.WithMCPServer(mcpServer.GetMCPServer()),
		api.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("HTTP server listening on %s", cfg.Listen)
		log.Printf("REST API: http://%s/api", cfg.Listen)
		log.Printf("WebSocket: ws://%s/ws?room=<room_id>&user=<user_id>", cfg.Listen)
		log.Printf("MCP endpoint: http://%s/mcp", cfg.Listen)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
			cancel()
		}
	}()

	if cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg.Ngrok, handler)
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("Server stopped")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler) {
	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		log.Printf("Using custom ngrok domain: %s", cfg.Domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws?room=<room_id>&user=<user_id>", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "run an MCP stdio server so an assistant can create, join and play rooms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "sessions-dir",
				Usage: "directory that keeps joined rooms across restarts",
			},
		},
		Action: runMCP,
	}
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("sessions-dir") {
		cfg.SessionsDir = cmd.String("sessions-dir")
	}
	// stdout carries the protocol, logs go to stderr
	logger := newLogger(cfg, true)
	log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	party, err := initializePersistentServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer party.Close()

	log.Printf("MCP stdio server ready (game server: %s)", cfg.ServerURL)
	if err := mcp.NewServer(party).RunStdio(); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:      "invite",
		Usage:     "print a room's invite link and save it as a QR code",
		UsageText: "gpt-party invite [--output FILE] [--size PX] ROOM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "PNG file to write (default room-<id>.png)",
			},
			&cli.IntFlag{
				Name:  "size",
				Value: 256,
				Usage: "QR code size in pixels",
			},
		},
		Action: runInvite,
	}
}

func runInvite(ctx context.Context, cmd *cli.Command) error {
	roomID := cmd.Args().First()
	if roomID == "" {
		return errors.New("room id is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "" {
		output = "room-" + roomID + ".png"
	}

	link := roomLink(cfg.ServerURL, roomID)
	if err := writeInviteQR(link, int(cmd.Int("size")), output); err != nil {
		return err
	}

	fmt.Printf("Invite link: %s\n", link)
	fmt.Printf("QR code saved to %s\n", output)
	return nil
}

// writeInviteQR encodes link as a PNG QR code at path.
func writeInviteQR(link string, size int, path string) error {
	if size <= 0 {
		return fmt.Errorf("invalid QR code size %d", size)
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}
	return nil
}
