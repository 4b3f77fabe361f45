package lobby

import (
	"sort"

	"github.com/wricardo/gpt-party/game/protocol"
)

// Room is the lobby's view of one room, built from feed events.
type Room struct {
	ID        string                 `json:"id"`
	Players   []string               `json:"players"`
	Started   bool                   `json:"started"`
	Rounds    int                    `json:"rounds"`
	LastEvent protocol.RoomEventType `json:"last_event"`
	// LastAction is the raw action text of the last event.
	LastAction string `json:"last_action"`
}

// Rooms returns the rooms seen on the feed that have not closed, sorted by id.
func (f *Feed) Rooms() []Room {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		cp := *r
		cp.Players = append([]string(nil), r.Players...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Feed) applyRoomEvent(ev protocol.RoomEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev.Type == protocol.RoomClosed {
		delete(f.rooms, ev.RoomID)
		return
	}

	r, ok := f.rooms[ev.RoomID]
	if !ok {
		r = &Room{ID: ev.RoomID}
		f.rooms[ev.RoomID] = r
	}
	r.LastEvent = ev.Type
	r.LastAction = ev.Action

	switch ev.Type {
	case protocol.RoomPlayerJoined:
		for _, p := range r.Players {
			if p == ev.Player {
				return
			}
		}
		r.Players = append(r.Players, ev.Player)
	case protocol.RoomForceStarted:
		r.Started = true
	case protocol.RoomAnswersEvaluated:
		r.Rounds++
	}
}

func (f *Feed) resetRooms() {
	f.mu.Lock()
	f.rooms = make(map[string]*Room)
	f.mu.Unlock()
}
