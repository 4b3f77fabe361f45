package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/transport/mcp"
	"github.com/wricardo/gpt-party/transport/rest"
)

const playHelp = `Commands:
  /continue   answer the continue prompt
  /start      start the game without waiting for more players (admin)
  /close      close the room (admin)
  /results    show the round results
  /stats      show the scoreboard
  /state      show the session state
  /quit       leave the room
Anything else is sent to the room.`

func playCommand() *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "join a room (or create one) and play from the terminal",
		UsageText: "gpt-party --nickname NAME play [--room ID]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "room",
				Aliases: []string{"r"},
				Usage:   "room to join; a new room is created when empty",
			},
		},
		Action: runPlay,
	}
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, true)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	party, err := initializeServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer party.Close()

	if cfg.Nickname == "" {
		return fmt.Errorf("%w: use --nickname or PARTY_NICKNAME", service.ErrNicknameRequired)
	}

	var info *service.SessionInfo
	if room := cmd.String("room"); room != "" {
		info, err = party.JoinRoom(ctx, room, cfg.Nickname)
	} else {
		info, err = party.CreateRoom(ctx, cfg.Nickname)
	}
	if err != nil {
		return err
	}

	out := &syncWriter{w: os.Stdout}
	if info.Created {
		fmt.Fprintf(out, "Created room %s as %s\n", info.RoomID, info.Nickname)
		fmt.Fprintf(out, "Invite link: %s\n", roomLink(cfg.ServerURL, info.RoomID))
	} else {
		fmt.Fprintf(out, "Joined room %s as %s\n", info.RoomID, info.Nickname)
	}
	fmt.Fprintln(out, playHelp)

	stop, err := party.Watch(ctx, info.RoomID, info.UserID, func(u service.Update) {
		if line := formatUpdate(u); line != "" {
			fmt.Fprintln(out, line)
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	err = playLoop(ctx, party, info, os.Stdin, out)

	if leaveErr := party.Leave(context.Background(), info.RoomID, info.UserID); leaveErr != nil && !errors.Is(leaveErr, service.ErrSessionNotFound) {
		logger.Warn("leave failed", "room", info.RoomID, "error", leaveErr)
	}
	return err
}

// playLoop reads commands until /quit, end of input or ctx is done.
func playLoop(ctx context.Context, party service.PartyService, info *service.SessionInfo, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runPlayCommand(ctx, party, info, strings.TrimSpace(line), out)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func runPlayCommand(ctx context.Context, party service.PartyService, info *service.SessionInfo, line string, out io.Writer) (bool, error) {
	room, user := info.RoomID, info.UserID

	switch line {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, playHelp)
	case "/continue":
		return false, party.AnswerContinue(ctx, room, user)
	case "/start":
		if err := party.ForceStart(ctx, room, user); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Start requested.")
	case "/close":
		if err := party.CloseRoom(ctx, room, user); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Room closed.")
		return true, nil
	case "/results":
		results, err := party.RoundResults(ctx, room)
		if err != nil {
			return false, err
		}
		fmt.Fprint(out, mcp.FormatResults(results))
	case "/stats":
		stats, err := party.RoomStats(ctx, room)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, mcp.FormatStats(stats))
	case "/state":
		current, err := party.GetSession(ctx, room, user)
		if err != nil {
			return false, err
		}
		fmt.Fprint(out, mcp.FormatSession(current))
	default:
		if strings.HasPrefix(line, "/") {
			return false, fmt.Errorf("unknown command %s (try /help)", line)
		}
		return false, party.SendMessage(ctx, room, user, line)
	}
	return false, nil
}

// formatUpdate renders one session change as a terminal line.
func formatUpdate(u service.Update) string {
	switch u.Event {
	case "connection":
		if connected, _ := u.Data.(bool); connected {
			return "* connected"
		}
		return "* disconnected"
	case "status":
		status, _ := u.Data.(string)
		if protocol.Status(status) == protocol.StatusUnknown {
			return ""
		}
		return fmt.Sprintf("* status: %s", status)
	case "theme":
		if theme, _ := u.Data.(string); theme != "" {
			return fmt.Sprintf("* theme: %s", theme)
		}
	case "error":
		if msg, _ := u.Data.(string); msg != "" {
			return fmt.Sprintf("! %s", msg)
		}
	case "message":
		if entry, ok := u.Data.(service.TranscriptEntry); ok {
			if entry.AdminDetected {
				return "> " + entry.Text + "  (you are the admin)"
			}
			return "> " + entry.Text
		}
	}
	return ""
}

func roomsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "list rooms and watch the live rooms feed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "print the room list and exit",
			},
		},
		Action: runRooms,
	}
}

func runRooms(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, true)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	overview := &service.RoomsOverview{}
	rooms, err := rest.NewClient(cfg.ServerURL).Rooms(ctx)
	if err != nil {
		overview.ServerError = err.Error()
	}
	overview.Server = rooms
	if cmd.Bool("once") {
		fmt.Print(mcp.FormatRooms(overview))
		return err
	}
	fmt.Printf("Server rooms (%d):\n", len(overview.Server))
	for _, r := range overview.Server {
		fmt.Printf("- %s: %d players, %s\n", r.ID, r.Players, r.Status)
	}
	if err != nil {
		fmt.Printf("(server list unavailable: %v)\n", err)
	}

	feed, err := lobby.NewFeed(cfg.WSURL,
		lobby.WithBackoff(cfg.Backoff()),
		lobby.WithIdleGrace(cfg.IdleGrace),
		lobby.WithPingInterval(cfg.PingInterval),
		lobby.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	go feed.Run(ctx)

	out := &syncWriter{w: os.Stdout}
	fmt.Fprintln(out, "\nWatching rooms feed (Ctrl-C to stop)...")
	unsubscribe := feed.Subscribe(lobby.Funcs{
		Connection: func(connected bool) {
			fmt.Fprintf(out, "* feed connected=%v\n", connected)
		},
		Error: func(err error) {
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		},
		RoomEvent: func(ev protocol.RoomEvent) {
			fmt.Fprintln(out, formatRoomEvent(ev))
		},
	})
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

func formatRoomEvent(ev protocol.RoomEvent) string {
	if ev.Player != "" {
		return fmt.Sprintf("%s: %s (%s)", ev.RoomID, ev.Type, ev.Player)
	}
	return fmt.Sprintf("%s: %s", ev.RoomID, ev.Type)
}

// syncWriter serializes writes from the session loop and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
