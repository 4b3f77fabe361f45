package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
	"github.com/wricardo/gpt-party/transport/websocket"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNicknameRequired = errors.New("nickname is required")
	ErrRoomRequired     = errors.New("room id is required")
	ErrUserRequired     = errors.New("user id is required")
	ErrEmptyMessage     = errors.New("message is empty")
)

// partyServiceImpl implements the PartyService interface
type partyServiceImpl struct {
	sessions Sessions
	api      RoomsAPI
	lobby    Lobby
	store    SessionPersistence
	logger   *slog.Logger

	transcriptSize int
	now            func() time.Time

	mu      sync.RWMutex
	tracked map[session.Key]*tracker

	lobbyOnce        sync.Once
	lobbyUnsubscribe func()
}

type Option func(*partyServiceImpl)

// WithLobby lets ListRooms include the live rooms feed.
func WithLobby(l Lobby) Option {
	return func(s *partyServiceImpl) { s.lobby = l }
}

// WithPersistence stores memberships so Restore can attach to them after a
// restart. Leave and CloseRoom remove the stored record; Close keeps it.
func WithPersistence(p SessionPersistence) Option {
	return func(s *partyServiceImpl) { s.store = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *partyServiceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTranscriptSize(n int) Option {
	return func(s *partyServiceImpl) {
		if n > 0 {
			s.transcriptSize = n
		}
	}
}

// WithNow replaces the clock used to stamp transcript lines.
func WithNow(now func() time.Time) Option {
	return func(s *partyServiceImpl) { s.now = now }
}

// NewPartyService creates a new party service instance
func NewPartyService(sessions Sessions, api RoomsAPI, opts ...Option) PartyService {
	s := &partyServiceImpl{
		sessions:       sessions,
		api:            api,
		logger:         slog.Default(),
		transcriptSize: DefaultTranscriptSize,
		now:            time.Now,
		tracked:        make(map[session.Key]*tracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom creates a room on the server and joins its socket as the creator
func (s *partyServiceImpl) CreateRoom(ctx context.Context, nickname string) (*SessionInfo, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, ErrNicknameRequired
	}

	m, err := s.api.CreateRoom(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if m.Nickname == "" {
		m.Nickname = nickname
	}

	tr := s.track(m, role.HintCreator, s.now())
	s.persist(tr)
	return s.info(ctx, tr), nil
}

// JoinRoom joins an existing room on the server and connects its socket
func (s *partyServiceImpl) JoinRoom(ctx context.Context, roomID, nickname string) (*SessionInfo, error) {
	roomID = strings.TrimSpace(roomID)
	nickname = strings.TrimSpace(nickname)
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if nickname == "" {
		return nil, ErrNicknameRequired
	}

	m, err := s.api.JoinRoom(ctx, roomID, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to join room %s: %w", roomID, err)
	}
	if m.Nickname == "" {
		m.Nickname = nickname
	}

	tr := s.track(m, role.HintJoiner, s.now())
	s.persist(tr)
	return s.info(ctx, tr), nil
}

// Attach connects to a room the user is already a member of
func (s *partyServiceImpl) Attach(ctx context.Context, roomID, userID, hint string) (*SessionInfo, error) {
	key, err := s.key(roomID, userID)
	if err != nil {
		return nil, err
	}

	h := role.ParseHint(hint)
	tr := s.track(&rest.Membership{RoomID: key.RoomID, UserID: key.UserID, Created: h == role.HintCreator}, h, s.now())
	s.persist(tr)
	return s.info(ctx, tr), nil
}

// Leave disconnects from the room; the server membership is untouched
func (s *partyServiceImpl) Leave(ctx context.Context, roomID, userID string) error {
	key, err := s.key(roomID, userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	tr, exists := s.tracked[key]
	delete(s.tracked, key)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(key.RoomID, key.UserID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("failed to delete stored session", "room", key.RoomID, "user", key.UserID, "error", err)
		}
	}

	if !exists {
		return ErrSessionNotFound
	}

	tr.unsubscribe()
	s.sessions.Close(key)
	s.logger.Info("left room", "room", key.RoomID, "user", key.UserID)
	return nil
}

// GetSession returns the current state of one session
func (s *partyServiceImpl) GetSession(ctx context.Context, roomID, userID string) (*SessionInfo, error) {
	tr, err := s.get(roomID, userID)
	if err != nil {
		return nil, err
	}
	return s.info(ctx, tr), nil
}

// ListSessions returns every session, oldest first
func (s *partyServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	s.mu.RLock()
	trackers := make([]*tracker, 0, len(s.tracked))
	for _, tr := range s.tracked {
		trackers = append(trackers, tr)
	}
	s.mu.RUnlock()

	sort.Slice(trackers, func(i, j int) bool {
		if trackers[i].joinedAt.Equal(trackers[j].joinedAt) {
			return trackers[i].roomID+trackers[i].userID < trackers[j].roomID+trackers[j].userID
		}
		return trackers[i].joinedAt.Before(trackers[j].joinedAt)
	})

	infos := make([]*SessionInfo, 0, len(trackers))
	for _, tr := range trackers {
		infos = append(infos, s.info(ctx, tr))
	}
	return infos, nil
}

// Transcript returns up to limit recent server lines; limit <= 0 means all kept lines
func (s *partyServiceImpl) Transcript(ctx context.Context, roomID, userID string, limit int) ([]TranscriptEntry, error) {
	tr, err := s.get(roomID, userID)
	if err != nil {
		return nil, err
	}
	return tr.recent(limit), nil
}

// Watch calls fn for every change on a joined session, starting with its
// current state. fn runs on the registry's event loop and must not block.
func (s *partyServiceImpl) Watch(ctx context.Context, roomID, userID string, fn func(Update)) (func(), error) {
	tr, err := s.get(roomID, userID)
	if err != nil {
		return nil, err
	}

	key := session.Key{RoomID: tr.roomID, UserID: tr.userID}
	return s.sessions.Subscribe(key, session.Funcs{
		Connection: func(connected bool) { fn(Update{Event: "connection", Data: connected}) },
		ReadyState: func(state websocket.ReadyState) { fn(Update{Event: "ready_state", Data: state.String()}) },
		Error: func(err error) {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			fn(Update{Event: "error", Data: msg})
		},
		Status: func(status protocol.Status) { fn(Update{Event: "status", Data: string(status)}) },
		Theme:  func(theme string) { fn(Update{Event: "theme", Data: theme}) },
		SystemMessage: func(msg string, adminDetected bool) {
			fn(Update{Event: "message", Data: TranscriptEntry{At: s.now(), Text: msg, AdminDetected: adminDetected}})
		},
	}), nil
}

// SendMessage sends an answer or theme as a plain text frame
func (s *partyServiceImpl) SendMessage(ctx context.Context, roomID, userID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	tr, err := s.get(roomID, userID)
	if err != nil {
		return err
	}

	if err := s.sessions.Send(session.Key{RoomID: tr.roomID, UserID: tr.userID}, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// AnswerContinue accepts the server's "continue?" prompt
func (s *partyServiceImpl) AnswerContinue(ctx context.Context, roomID, userID string) error {
	tr, err := s.get(roomID, userID)
	if err != nil {
		return err
	}

	if err := s.sessions.Send(session.Key{RoomID: tr.roomID, UserID: tr.userID}, protocol.ContinueReply); err != nil {
		return fmt.Errorf("failed to answer continue prompt: %w", err)
	}
	tr.continueAnswered()
	return nil
}

// ListRooms returns the live lobby list and the server's room summaries.
// A failing REST call is reported in the overview when the feed is available.
func (s *partyServiceImpl) ListRooms(ctx context.Context) (*RoomsOverview, error) {
	overview := &RoomsOverview{Live: []lobby.Room{}}

	if s.lobby != nil {
		s.watchLobby()
		overview.Live = s.lobby.Rooms()
		overview.FeedConnected = s.lobby.State().Connected
	}

	summaries, err := s.api.Rooms(ctx)
	if err != nil {
		if s.lobby == nil {
			return nil, fmt.Errorf("failed to list rooms: %w", err)
		}
		overview.ServerError = err.Error()
	}
	overview.Server = summaries

	return overview, nil
}

// ForceStart starts the room's game without waiting for more players
func (s *partyServiceImpl) ForceStart(ctx context.Context, roomID, userID string) error {
	key, err := s.key(roomID, userID)
	if err != nil {
		return err
	}
	return s.api.ForceStart(ctx, key.RoomID, key.UserID)
}

// CloseRoom closes the room on the server and drops the local session if any
func (s *partyServiceImpl) CloseRoom(ctx context.Context, roomID, userID string) error {
	key, err := s.key(roomID, userID)
	if err != nil {
		return err
	}
	if err := s.api.CloseRoom(ctx, key.RoomID, key.UserID); err != nil {
		return err
	}

	if err := s.Leave(ctx, key.RoomID, key.UserID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// RoundResults returns the evaluated answers of the last round
func (s *partyServiceImpl) RoundResults(ctx context.Context, roomID string) (*rest.RoundResults, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, ErrRoomRequired
	}
	return s.api.Results(ctx, roomID)
}

// RoomStats returns the room's scoreboard
func (s *partyServiceImpl) RoomStats(ctx context.Context, roomID string) ([]rest.PlayerStats, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, ErrRoomRequired
	}
	return s.api.Stats(ctx, roomID)
}

func (s *partyServiceImpl) Close() {
	s.mu.Lock()
	tracked := s.tracked
	s.tracked = make(map[session.Key]*tracker)
	s.mu.Unlock()

	for key, tr := range tracked {
		tr.unsubscribe()
		s.sessions.Close(key)
	}

	if s.lobbyUnsubscribe != nil {
		s.lobbyUnsubscribe()
	}
}

// Restore attaches to every stored membership that is not tracked yet and
// returns how many were attached.
func (s *partyServiceImpl) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	stored, err := s.store.ListAll()
	if err != nil {
		return 0, fmt.Errorf("failed to list stored sessions: %w", err)
	}

	restored := 0
	for _, p := range stored {
		key := session.Key{RoomID: p.RoomID, UserID: p.UserID}

		s.mu.RLock()
		_, exists := s.tracked[key]
		s.mu.RUnlock()
		if exists {
			continue
		}

		joinedAt := p.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = s.now()
		}
		s.track(&rest.Membership{RoomID: p.RoomID, UserID: p.UserID, Nickname: p.Nickname, Created: p.Created}, role.ParseHint(p.Hint), joinedAt)
		restored++
	}

	if restored > 0 {
		s.logger.Info("restored stored sessions", "count", restored)
	}
	return restored, nil
}

func (s *partyServiceImpl) persist(tr *tracker) {
	if s.store == nil {
		return
	}

	err := s.store.Save(&PersistedSession{
		RoomID:   tr.roomID,
		UserID:   tr.userID,
		Nickname: tr.nickname,
		Created:  tr.created,
		Hint:     tr.hint.String(),
		JoinedAt: tr.joinedAt,
	})
	if err != nil {
		s.logger.Warn("failed to store session", "room", tr.roomID, "user", tr.userID, "error", err)
	}
}

func (s *partyServiceImpl) watchLobby() {
	s.lobbyOnce.Do(func() {
		s.lobbyUnsubscribe = s.lobby.Subscribe(lobby.Funcs{
			RoomEvent: func(ev protocol.RoomEvent) {
				s.logger.Debug("room event", "room", ev.RoomID, "type", ev.Type, "player", ev.Player)
			},
		})
	})
}

func (s *partyServiceImpl) key(roomID, userID string) (session.Key, error) {
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" {
		return session.Key{}, ErrRoomRequired
	}
	if userID == "" {
		return session.Key{}, ErrUserRequired
	}
	return session.Key{RoomID: roomID, UserID: userID}, nil
}

func (s *partyServiceImpl) get(roomID, userID string) (*tracker, error) {
	key, err := s.key(roomID, userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	tr, exists := s.tracked[key]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return tr, nil
}

// track subscribes to the membership's socket unless it is already tracked.
func (s *partyServiceImpl) track(m *rest.Membership, hint role.Hint, joinedAt time.Time) *tracker {
	key := session.Key{RoomID: m.RoomID, UserID: m.UserID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tr, exists := s.tracked[key]; exists {
		return tr
	}

	tr := &tracker{
		roomID:   m.RoomID,
		userID:   m.UserID,
		nickname: m.Nickname,
		created:  m.Created,
		hint:     hint,
		joinedAt: joinedAt,
		size:     s.transcriptSize,
		now:      s.now,
	}
	tr.unsubscribe = s.sessions.Subscribe(key, tr, session.WithRoleHint(hint))
	s.tracked[key] = tr

	s.logger.Info("tracking room session", "room", m.RoomID, "user", m.UserID, "created", m.Created)
	return tr
}

// info merges the connection snapshot with what the tracker knows. When the
// round has a scenario the socket has not delivered, the theme is fetched
// over REST.
func (s *partyServiceImpl) info(ctx context.Context, tr *tracker) *SessionInfo {
	key := session.Key{RoomID: tr.roomID, UserID: tr.userID}

	info := &SessionInfo{
		RoomID:     tr.roomID,
		UserID:     tr.userID,
		Nickname:   tr.nickname,
		Created:    tr.created,
		JoinedAt:   tr.joinedAt,
		ReadyState: websocket.Connecting.String(),
		Status:     protocol.StatusUnknown,
	}

	if snap, ok := s.sessions.State(key); ok {
		info.Connected = snap.Connected
		info.ReadyState = snap.ReadyState.String()
		info.Status = snap.Status
		info.Theme = snap.Theme
		info.Role = snap.Role
		info.AdminDetected = snap.AdminDetected
		info.LastMessage = snap.LastMessage
		info.ReconnectAttempts = snap.Attempts
		if snap.Err != nil {
			info.Error = snap.Err.Error()
		}
	}
	info.AwaitingContinue = tr.continuePending()

	switch {
	case info.Theme != "":
		info.ThemeSource = "socket"
	case scenarioExpected(info.Status):
		theme, err := s.api.Theme(ctx, tr.roomID)
		if err != nil {
			s.logger.Warn("theme fallback failed", "room", tr.roomID, "error", err)
		} else if theme != "" {
			info.Theme = theme
			info.ThemeSource = "rest"
		}
	}

	return info
}

// scenarioExpected reports whether a round in this status has a theme.
func scenarioExpected(st protocol.Status) bool {
	switch st {
	case protocol.StatusScenarioPresented,
		protocol.StatusWaitingForPlayerMessageAfterPrompt,
		protocol.StatusWaitingForGPT,
		protocol.StatusWaitingForAllAnswersFromGPT,
		protocol.StatusResultsReady:
		return true
	default:
		return false
	}
}
