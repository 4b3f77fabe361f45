// Package role infers whether the local user is the round's admin (the main
// player who supplies the situation) from the server's system lines.
//
// The server never states the role explicitly, so the inference lives behind
// the Detector interface and can be swapped for a field-based check once the
// protocol carries one.
package role

import "github.com/wricardo/gpt-party/game/protocol"

// Role is the inferred role of the local user in the current round.
type Role int

const (
	Unknown Role = iota
	Player
	Admin
)

func (r Role) String() string {
	switch r {
	case Player:
		return "player"
	case Admin:
		return "admin"
	default:
		return "unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "player":
		*r = Player
	case "admin":
		*r = Admin
	default:
		*r = Unknown
	}
	return nil
}

// Hint is the role suggested by how the session was established.
type Hint int

const (
	HintNone Hint = iota
	// HintCreator is used when the local user created the room.
	HintCreator
	// HintJoiner is used when the local user joined an existing room.
	HintJoiner
)

// ParseHint reads "creator" or "joiner"; anything else is HintNone.
func ParseHint(s string) Hint {
	switch s {
	case "creator", "create", "admin":
		return HintCreator
	case "joiner", "join", "player":
		return HintJoiner
	default:
		return HintNone
	}
}

func (h Hint) String() string {
	switch h {
	case HintCreator:
		return "creator"
	case HintJoiner:
		return "joiner"
	default:
		return ""
	}
}

func (h Hint) role() Role {
	switch h {
	case HintCreator:
		return Admin
	case HintJoiner:
		return Player
	default:
		return Unknown
	}
}

// Detector reconciles role signals. Observe must be called for every parsed
// server line, since the admin can rotate between rounds.
type Detector interface {
	Observe(ev protocol.Event) Role
	Role() Role
	SetHint(h Hint)
	Reset()
}

// PhraseDetector infers the role from the two fixed phrases the server sends
// at the start of a round. Precedence, highest first:
//  1. the admin phrase seen this round (sticky until the round resets)
//  2. the non-admin phrase seen this round
//  3. the establishment hint
type PhraseDetector struct {
	hint     Hint
	admin    bool
	nonAdmin bool
}

var _ Detector = (*PhraseDetector)(nil)

func NewPhraseDetector(hint Hint) *PhraseDetector {
	return &PhraseDetector{hint: hint}
}

// Observe folds one event into the detector and returns the resulting role.
func (d *PhraseDetector) Observe(ev protocol.Event) Role {
	if ev.Status.StartsRound() {
		d.admin = false
		d.nonAdmin = false
	}
	if ev.AdminDetected {
		d.admin = true
	}
	if ev.NonAdminDetected {
		d.nonAdmin = true
	}
	return d.Role()
}

func (d *PhraseDetector) Role() Role {
	switch {
	case d.admin:
		return Admin
	case d.nonAdmin:
		return Player
	default:
		return d.hint.role()
	}
}

// SetHint replaces the establishment hint. HintNone leaves the current hint.
func (d *PhraseDetector) SetHint(h Hint) {
	if h != HintNone {
		d.hint = h
	}
}

// Reset drops everything learned from the socket. The hint is kept.
func (d *PhraseDetector) Reset() {
	d.admin = false
	d.nonAdmin = false
}
