package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/gpt-party/game/lobby"
	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/game/service"
	"github.com/wricardo/gpt-party/game/session"
	"github.com/wricardo/gpt-party/transport/rest"
	"github.com/wricardo/gpt-party/transport/websocket/wstest"
)

// MockRoomsAPI implements service.RoomsAPI for testing
type MockRoomsAPI struct {
	mu         sync.Mutex
	rooms      int
	theme      string
	themeCalls int
	started    []string
	closed     []string
	joinErr    error
	roomsErr   error
}

func (m *MockRoomsAPI) CreateRoom(ctx context.Context, nickname string) (*rest.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms++
	return &rest.Membership{RoomID: fmt.Sprintf("room-%d", m.rooms), UserID: "u-" + nickname, Created: true}, nil
}

func (m *MockRoomsAPI) JoinRoom(ctx context.Context, roomID, nickname string) (*rest.Membership, error) {
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	return &rest.Membership{RoomID: roomID, UserID: "u-" + nickname, Nickname: nickname}, nil
}

func (m *MockRoomsAPI) Theme(ctx context.Context, roomID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themeCalls++
	return m.theme, nil
}

func (m *MockRoomsAPI) ForceStart(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, roomID+"/"+userID)
	return nil
}

func (m *MockRoomsAPI) CloseRoom(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, roomID+"/"+userID)
	return nil
}

func (m *MockRoomsAPI) Results(ctx context.Context, roomID string) (*rest.RoundResults, error) {
	return &rest.RoundResults{Theme: "Zombie outbreak"}, nil
}

func (m *MockRoomsAPI) Stats(ctx context.Context, roomID string) ([]rest.PlayerStats, error) {
	return []rest.PlayerStats{{Nickname: "alice", Score: 4}}, nil
}

func (m *MockRoomsAPI) Rooms(ctx context.Context) ([]rest.RoomSummary, error) {
	if m.roomsErr != nil {
		return nil, m.roomsErr
	}
	return []rest.RoomSummary{{ID: "room-1", Players: 2}}, nil
}

type testEnv struct {
	svc    service.PartyService
	api    *MockRoomsAPI
	reg    *session.Registry
	dialer *wstest.Dialer
}

func newTestEnv(t *testing.T, opts ...service.Option) *testEnv {
	t.Helper()

	env := &testEnv{api: &MockRoomsAPI{}, dialer: wstest.NewDialer()}
	env.reg = session.NewRegistry("ws://game.test",
		session.WithDialer(env.dialer),
		session.WithClock(wstest.NewClock()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.reg.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env.svc = service.NewPartyService(env.reg, env.api, opts...)
	return env
}

func TestPartyService_CreateRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateRoom(ctx, "  ")
	assert.ErrorIs(t, err, service.ErrNicknameRequired)

	info, err := env.svc.CreateRoom(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "room-1", info.RoomID)
	assert.Equal(t, "u-alice", info.UserID)
	assert.Equal(t, "alice", info.Nickname)
	assert.True(t, info.Created)

	env.reg.Flush()
	assert.Equal(t, 1, env.dialer.Count())

	info, err = env.svc.GetSession(ctx, "room-1", "u-alice")
	require.NoError(t, err)
	assert.Equal(t, role.Admin, info.Role, "room creators start as admin")
	assert.Equal(t, "CONNECTING", info.ReadyState)
}

func TestPartyService_JoinRoomErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.JoinRoom(ctx, "", "bob")
	assert.ErrorIs(t, err, service.ErrRoomRequired)

	env.api.joinErr = &rest.APIError{StatusCode: 404, Message: "room not found"}
	_, err = env.svc.JoinRoom(ctx, "nope", "bob")
	assert.True(t, rest.IsNotFound(err))
	assert.Equal(t, 0, env.dialer.Count())
}

func TestPartyService_SessionFollowsServer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.JoinRoom(ctx, "room-9", "bob")
	require.NoError(t, err)
	env.reg.Flush()

	sock := env.dialer.Last()
	sock.Accept()
	sock.Receive("[SYSTEM]: Главный игрок вводит тему")
	sock.Receive("[SYSTEM]: Ситуация: Zombie outbreak")
	env.reg.Flush()

	info, err := env.svc.GetSession(ctx, "room-9", "u-bob")
	require.NoError(t, err)
	assert.True(t, info.Connected)
	assert.Equal(t, protocol.StatusWaitingForPlayerMessageAfterPrompt, info.Status)
	assert.Equal(t, "Zombie outbreak", info.Theme)
	assert.Equal(t, "socket", info.ThemeSource)
	assert.Equal(t, role.Player, info.Role)
	assert.Zero(t, env.api.themeCalls)

	require.NoError(t, env.svc.SendMessage(ctx, "room-9", "u-bob", "hide in the mall"))
	assert.Equal(t, []string{"hide in the mall"}, sock.Sent())

	lines, err := env.svc.Transcript(ctx, "room-9", "u-bob", 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "[SYSTEM]: Ситуация: Zombie outbreak", lines[0].Text)
}

func TestPartyService_ThemeFallback(t *testing.T) {
	env := newTestEnv(t)
	env.api.theme = "Alien invasion"
	ctx := context.Background()

	_, err := env.svc.JoinRoom(ctx, "room-9", "bob")
	require.NoError(t, err)
	env.reg.Flush()

	sock := env.dialer.Last()
	sock.Accept()
	sock.Receive("[SYSTEM]: Ответ сохранён")
	env.reg.Flush()

	info, err := env.svc.GetSession(ctx, "room-9", "u-bob")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusWaitingForGPT, info.Status)
	assert.Equal(t, "Alien invasion", info.Theme)
	assert.Equal(t, "rest", info.ThemeSource)
	assert.Equal(t, 1, env.api.themeCalls)
}

func TestPartyService_ContinuePrompt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.JoinRoom(ctx, "room-9", "bob")
	require.NoError(t, err)
	env.reg.Flush()

	sock := env.dialer.Last()
	sock.Accept()
	sock.Receive("[ALL_STATS]: bob 1")
	sock.Receive("[SYSTEM]: Вы хотите продолжить? [YES/NO]")
	env.reg.Flush()

	info, err := env.svc.GetSession(ctx, "room-9", "u-bob")
	require.NoError(t, err)
	assert.True(t, info.AwaitingContinue)

	require.NoError(t, env.svc.AnswerContinue(ctx, "room-9", "u-bob"))
	assert.Equal(t, []string{protocol.ContinueReply}, sock.Sent())

	info, err = env.svc.GetSession(ctx, "room-9", "u-bob")
	require.NoError(t, err)
	assert.False(t, info.AwaitingContinue)
}

func TestPartyService_TranscriptIsBounded(t *testing.T) {
	env := newTestEnv(t, service.WithTranscriptSize(3))
	ctx := context.Background()

	_, err := env.svc.Attach(ctx, "room-1", "u-1", "joiner")
	require.NoError(t, err)
	env.reg.Flush()

	sock := env.dialer.Last()
	sock.Accept()
	for i := 0; i < 5; i++ {
		sock.Receive(fmt.Sprintf("line %d", i))
	}
	env.reg.Flush()

	lines, err := env.svc.Transcript(ctx, "room-1", "u-1", 0)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "line 2", lines[0].Text)
	assert.Equal(t, "line 4", lines[2].Text)
}

func TestPartyService_SendErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.svc.SendMessage(ctx, "room-1", "u-1", " "), service.ErrEmptyMessage)
	assert.ErrorIs(t, env.svc.SendMessage(ctx, "room-1", "u-1", "hi"), service.ErrSessionNotFound)

	_, err := env.svc.Attach(ctx, "room-1", "u-1", "")
	require.NoError(t, err)
	env.reg.Flush()

	assert.ErrorIs(t, env.svc.SendMessage(ctx, "room-1", "u-1", "hi"), session.ErrNotOpen)
}

func TestPartyService_LeaveAndList(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, service.WithNow(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	_, err := env.svc.CreateRoom(ctx, "alice")
	require.NoError(t, err)
	_, err = env.svc.JoinRoom(ctx, "room-7", "bob")
	require.NoError(t, err)

	sessions, err := env.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "room-1", sessions[0].RoomID)
	assert.Equal(t, "room-7", sessions[1].RoomID)

	env.reg.Flush()
	sock := env.dialer.Socket(0)
	sock.Accept()
	env.reg.Flush()

	require.NoError(t, env.svc.Leave(ctx, "room-1", "u-alice"))
	env.reg.Flush()

	require.Len(t, sock.Closes(), 1)
	_, err = env.svc.GetSession(ctx, "room-1", "u-alice")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
	assert.ErrorIs(t, env.svc.Leave(ctx, "room-1", "u-alice"), service.ErrSessionNotFound)

	sessions, err = env.svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestPartyService_RoomOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateRoom(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, env.svc.ForceStart(ctx, "room-1", "u-alice"))
	assert.Equal(t, []string{"room-1/u-alice"}, env.api.started)

	res, err := env.svc.RoundResults(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Zombie outbreak", res.Theme)

	stats, err := env.svc.RoomStats(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, stats, 1)

	_, err = env.svc.RoomStats(ctx, "")
	assert.ErrorIs(t, err, service.ErrRoomRequired)

	require.NoError(t, env.svc.CloseRoom(ctx, "room-1", "u-alice"))
	assert.Equal(t, []string{"room-1/u-alice"}, env.api.closed)
	_, err = env.svc.GetSession(ctx, "room-1", "u-alice")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestPartyService_ListRooms(t *testing.T) {
	t.Run("server only", func(t *testing.T) {
		env := newTestEnv(t)
		overview, err := env.svc.ListRooms(context.Background())
		require.NoError(t, err)
		assert.Len(t, overview.Server, 1)
		assert.Empty(t, overview.Live)

		env.api.roomsErr = errors.New("boom")
		_, err = env.svc.ListRooms(context.Background())
		assert.Error(t, err)
	})

	t.Run("with live feed", func(t *testing.T) {
		dialer := wstest.NewDialer()
		feed, err := lobby.NewFeed("ws://game.test", lobby.WithDialer(dialer), lobby.WithClock(wstest.NewClock()))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go feed.Run(ctx)

		env := newTestEnv(t, service.WithLobby(feed))
		env.api.roomsErr = errors.New("server down")

		_, err = env.svc.ListRooms(ctx)
		require.NoError(t, err)
		feed.Flush()

		sock := dialer.Last()
		require.NotNil(t, sock)
		sock.Accept()
		sock.Receive("room-3 : CREATED\nroom-3 : PLAYER_JOINED (carol)")
		feed.Flush()

		overview, err := env.svc.ListRooms(ctx)
		require.NoError(t, err)
		assert.True(t, overview.FeedConnected)
		require.Len(t, overview.Live, 1)
		assert.Equal(t, []string{"carol"}, overview.Live[0].Players)
		assert.Equal(t, "server down", overview.ServerError)
		assert.Equal(t, 1, dialer.Count(), "the feed is subscribed once")
	})
}

func TestPartyService_Watch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Watch(ctx, "room-1", "u-1", func(service.Update) {})
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = env.svc.Attach(ctx, "room-1", "u-1", "joiner")
	require.NoError(t, err)
	env.reg.Flush()

	var (
		mu      sync.Mutex
		updates []service.Update
	)
	stop, err := env.svc.Watch(ctx, "room-1", "u-1", func(u service.Update) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	})
	require.NoError(t, err)
	env.reg.Flush()

	sock := env.dialer.Last()
	sock.Accept()
	sock.Receive("[SYSTEM]: Статус — THEME_INPUT")
	env.reg.Flush()

	stop()
	env.reg.Flush()
	sock.Receive("[SYSTEM]: Статус — SCENARIO_PRESENTED")
	env.reg.Flush()

	mu.Lock()
	defer mu.Unlock()

	events := make([]string, 0, len(updates))
	for _, u := range updates {
		events = append(events, u.Event)
	}
	assert.Contains(t, events, "connection")
	assert.Contains(t, events, "message")
	assert.Contains(t, updates, service.Update{Event: "status", Data: "THEME_INPUT"})
	assert.NotContains(t, updates, service.Update{Event: "status", Data: "SCENARIO_PRESENTED"})

	info, err := env.svc.GetSession(ctx, "room-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusScenarioPresented, info.Status, "the session outlives its watchers")
}

func TestPartyService_Restore(t *testing.T) {
	store, err := service.NewFilePersistence(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := newTestEnv(t, service.WithPersistence(store))
	_, err = first.svc.CreateRoom(ctx, "alice")
	require.NoError(t, err)
	_, err = first.svc.JoinRoom(ctx, "room-7", "bob")
	require.NoError(t, err)
	require.NoError(t, first.svc.Leave(ctx, "room-7", "u-bob"))
	first.svc.Close()

	assert.True(t, store.Exists("room-1", "u-alice"), "Close keeps stored sessions")
	assert.False(t, store.Exists("room-7", "u-bob"), "Leave forgets the session")

	second := newTestEnv(t, service.WithPersistence(store))
	n, err := second.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := second.svc.GetSession(ctx, "room-1", "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Nickname)
	assert.True(t, info.Created)
	assert.Equal(t, role.Admin, info.Role, "restored creators keep their hint")

	second.reg.Flush()
	assert.Equal(t, 1, second.dialer.Count())

	n, err = second.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "tracked sessions are not restored twice")
}

func TestPartyService_RestoreWithoutPersistence(t *testing.T) {
	env := newTestEnv(t)

	n, err := env.svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
