package protocol

import (
	"errors"
	"strings"
)

// RoomEventType tags an event from the rooms monitor feed.
type RoomEventType string

const (
	RoomCreated          RoomEventType = "CREATED"
	RoomPlayerJoined     RoomEventType = "PLAYER_JOINED"
	RoomForceStarted     RoomEventType = "FORCE_STARTED"
	RoomAnswersEvaluated RoomEventType = "ANSWERS_EVALUATED"
	RoomContinued        RoomEventType = "CONTINUED"
	RoomClosed           RoomEventType = "CLOSED"

	// RoomEventUnknown carries actions the client does not recognize. The
	// original action text is kept in RoomEvent.Action.
	RoomEventUnknown RoomEventType = "UNKNOWN"
)

const roomLineSeparator = " : "

var ErrMalformedRoomLine = errors.New("malformed room event line")

var simpleRoomActions = map[string]RoomEventType{
	string(RoomCreated):          RoomCreated,
	string(RoomForceStarted):     RoomForceStarted,
	string(RoomAnswersEvaluated): RoomAnswersEvaluated,
	string(RoomContinued):        RoomContinued,
	string(RoomClosed):           RoomClosed,
}

// RoomEvent is one lifecycle event for a room. Player is set only for
// RoomPlayerJoined.
type RoomEvent struct {
	RoomID string        `json:"room_id"`
	Type   RoomEventType `json:"type"`
	Player string        `json:"player,omitempty"`
	Action string        `json:"action"`
}

// ParseRoomLine parses "{roomId} : {ACTION}".
func ParseRoomLine(line string) (RoomEvent, error) {
	line = strings.TrimSpace(line)
	idx := strings.Index(line, roomLineSeparator)
	if idx <= 0 {
		return RoomEvent{}, ErrMalformedRoomLine
	}

	roomID := strings.TrimSpace(line[:idx])
	action := strings.TrimSpace(line[idx+len(roomLineSeparator):])
	if roomID == "" || action == "" {
		return RoomEvent{}, ErrMalformedRoomLine
	}

	ev := RoomEvent{RoomID: roomID, Action: action}

	if t, ok := simpleRoomActions[action]; ok {
		ev.Type = t
		return ev, nil
	}

	if player, ok := joinedPlayer(action); ok {
		ev.Type = RoomPlayerJoined
		ev.Player = player
		return ev, nil
	}

	ev.Type = RoomEventUnknown
	return ev, nil
}

// ParseRoomFrame splits a frame into lines and parses each non-empty one.
// Malformed lines are returned separately so callers can log them.
func ParseRoomFrame(frame string) (events []RoomEvent, malformed []string) {
	for _, line := range strings.Split(frame, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := ParseRoomLine(line)
		if err != nil {
			malformed = append(malformed, line)
			continue
		}
		events = append(events, ev)
	}
	return events, malformed
}

// joinedPlayer extracts the nickname from "PLAYER_JOINED (nickname)".
func joinedPlayer(action string) (string, bool) {
	rest, ok := strings.CutPrefix(action, string(RoomPlayerJoined))
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", false
	}
	player := strings.TrimSpace(rest[1 : len(rest)-1])
	if player == "" {
		return "", false
	}
	return player, true
}
