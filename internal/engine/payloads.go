package engine

import (
	"github.com/DoyleJ11/tambola-backend/internal/claim"
	"github.com/DoyleJ11/tambola-backend/internal/ticket"
)

// Outbound payloads. Field names are the wire names.

type SessionCreated struct {
	RoomCode string `json:"roomCode"`
}

type PlayerAdded struct {
	PlayerCode string `json:"playerCode"`
	PlayerName string `json:"playerName"`
}

type RosterEntry struct {
	PlayerCode    string `json:"playerCode"`
	PlayerName    string `json:"playerName"`
	Status        Status `json:"status"`
	TicketCount   int    `json:"ticketCount"`
	AllowAutoMark bool   `json:"allowAutoMark"`
}

type Roster struct {
	Players []RosterEntry `json:"players"`
}

type AutoMarkPermission struct {
	Allowed bool `json:"allowed"`
}

type PlayerRemoved struct {
	PlayerCode string `json:"playerCode"`
}

type TicketAssigned struct {
	PlayerCode  string `json:"playerCode"`
	TicketCount int    `json:"ticketCount"`
}

type TicketsUpdated struct {
	Tickets []ticket.Ticket `json:"tickets"`
}

type NumberCalled struct {
	Number int   `json:"number"`
	Called []int `json:"called"`
}

type SessionReset struct {
	RoomCode string `json:"roomCode"`
}

type Joined struct {
	RoomCode      string                `json:"roomCode"`
	PlayerCode    string                `json:"playerCode"`
	PlayerName    string                `json:"playerName"`
	Tickets       []ticket.Ticket       `json:"tickets"`
	Called        []int                 `json:"called"`
	Current       int                   `json:"current,omitempty"`
	Claims        map[claim.Kind]string `json:"claims"`
	Chat          []ChatEntry           `json:"chat"`
	AllowAutoMark bool                  `json:"allowAutoMark"`
}

type JoinError struct {
	Message string `json:"message"`
}

const (
	LogoutSuperseded = "superseded"
	LogoutRemoved    = "removed"
)

type ForceLogout struct {
	Reason string `json:"reason"`
}

type ClaimAccepted struct {
	ClaimType  claim.Kind `json:"claimType"`
	Winner     string     `json:"winner"`
	PlayerCode string     `json:"playerCode"`
}

type ClaimRejected struct {
	ClaimType string `json:"claimType"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type Stats struct {
	RoomCode string                `json:"roomCode"`
	Players  int                   `json:"players"`
	Online   int                   `json:"online"`
	Called   int                   `json:"called"`
	Current  int                   `json:"current,omitempty"`
	Claims   map[claim.Kind]string `json:"claims"`
}
