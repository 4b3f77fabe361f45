package rest

import "time"

// Membership is the result of creating or joining a room. The ids are what
// the room socket expects in its query string.
type Membership struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`

	// Created is set by CreateRoom; it seeds the session's role hint.
	Created bool `json:"-"`
}

type Player struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// RoomInfo describes one room as the server sees it.
type RoomInfo struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	AdminID string   `json:"adminId,omitempty"`
	Round   int      `json:"round"`
	Started bool     `json:"started"`
	Players []Player `json:"players"`
}

type PlayerStats struct {
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	Wins     int    `json:"wins"`
}

type Answer struct {
	Nickname string `json:"nickname"`
	Answer   string `json:"answer"`
	Outcome  string `json:"outcome"`
	Score    int    `json:"score"`
}

type RoundResults struct {
	Theme   string   `json:"theme"`
	Results []Answer `json:"results"`
}

type RoomSummary struct {
	ID        string    `json:"id"`
	Players   int       `json:"players"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
