// Package types holds the JSON envelopes exchanged over the websocket.
//
// Client -> Server, one object per frame:
//
//	{"type": "add_player", "roomCode": "Q7K2ZD", "playerName": "Asha"}
//
// Server -> Client:
//
//	{"type": "number_called", "data": {"number": 42, "called": [7, 42]}}
package types

type ClientMessage struct {
	Type       string `json:"type"`
	RoomCode   string `json:"roomCode,omitempty"`
	PlayerCode string `json:"playerCode,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Allowed    bool   `json:"allowed,omitempty"`
	Count      int    `json:"count,omitempty"`
	ClaimType  string `json:"claimType,omitempty"`
	Message    string `json:"message,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound event names that are handled outside a room.
const (
	CreateSession = "create_session"
	JoinWithCode  = "join_with_code"
)
