package service

import (
	"sync"
	"time"

	"github.com/wricardo/gpt-party/game/protocol"
	"github.com/wricardo/gpt-party/game/role"
	"github.com/wricardo/gpt-party/transport/websocket"
)

// DefaultTranscriptSize is how many server lines are kept per session.
const DefaultTranscriptSize = 50

// tracker subscribes to one session and keeps what the snapshot does not:
// recent lines and whether the continue prompt is pending.
type tracker struct {
	roomID   string
	userID   string
	nickname string
	created  bool
	hint     role.Hint
	joinedAt time.Time

	unsubscribe func()

	mu               sync.Mutex
	lines            []TranscriptEntry
	size             int
	awaitingContinue bool
	now              func() time.Time
}

func (t *tracker) OnConnectionChange(bool) {}
func (t *tracker) OnReadyStateChange(websocket.ReadyState) {}
func (t *tracker) OnError(error) {}
func (t *tracker) OnStatusChange(protocol.Status) {}
func (t *tracker) OnThemeChange(string) {}

func (t *tracker) OnSystemMessage(msg string, adminDetected bool) {
	ev := protocol.Parse(msg)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.awaitingContinue = ev.ContinuePrompt
	t.lines = append(t.lines, TranscriptEntry{At: t.now(), Text: msg, AdminDetected: adminDetected})
	if over := len(t.lines) - t.size; over > 0 {
		t.lines = append(t.lines[:0], t.lines[over:]...)
	}
}

// recent returns up to limit most recent lines; limit <= 0 means all.
func (t *tracker) recent(limit int) []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return append([]TranscriptEntry(nil), lines...)
}

func (t *tracker) continuePending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaitingContinue
}

func (t *tracker) continueAnswered() {
	t.mu.Lock()
	t.awaitingContinue = false
	t.mu.Unlock()
}
