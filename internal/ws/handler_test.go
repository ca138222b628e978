package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/hub"
	"github.com/DoyleJ11/tambola-backend/internal/types"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) string {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := hub.NewHub(context.Background(), hub.Options{Logger: log})
	t.Cleanup(h.Shutdown)

	srv := httptest.NewServer(Handler(h, Options{Logger: log, OriginPatterns: []string{"*"}}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, m types.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, m))
}

func read(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f frame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

func expect[T any](t *testing.T, c *websocket.Conn, typ engine.EventType) T {
	t.Helper()
	f := read(t, c)
	require.Equal(t, string(typ), f.Type, "data: %s", f.Data)
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestGateway_HostAndPlayerRound(t *testing.T) {
	url := newTestServer(t)
	host := dial(t, url)
	player := dial(t, url)

	send(t, host, types.ClientMessage{Type: types.CreateSession})
	created := expect[engine.SessionCreated](t, host, engine.EvtSessionCreated)
	require.Len(t, created.RoomCode, hub.RoomCodeLen)
	room := created.RoomCode

	send(t, host, types.ClientMessage{Type: "add_player", RoomCode: room, PlayerName: "Asha"})
	added := expect[engine.PlayerAdded](t, host, engine.EvtPlayerAdded)
	assert.Equal(t, "Asha", added.PlayerName)
	expect[engine.Roster](t, host, engine.EvtRoster)

	// Lower-case codes are accepted.
	send(t, player, types.ClientMessage{Type: types.JoinWithCode, PlayerCode: strings.ToLower(added.PlayerCode)})
	joined := expect[engine.Joined](t, player, engine.EvtJoined)
	assert.Equal(t, room, joined.RoomCode)
	assert.Equal(t, "Asha", joined.PlayerName)
	require.NotNil(t, joined.Tickets)
	assert.Empty(t, joined.Tickets)
	assert.NotNil(t, joined.Called)
	expect[engine.Roster](t, player, engine.EvtRoster)
	roster := expect[engine.Roster](t, host, engine.EvtRoster)
	require.Len(t, roster.Players, 1)
	assert.Equal(t, engine.StatusOnline, roster.Players[0].Status)

	send(t, host, types.ClientMessage{Type: "assign_tickets", RoomCode: room, PlayerCode: added.PlayerCode, Count: 2})
	assigned := expect[engine.TicketAssigned](t, host, engine.EvtTicketAssigned)
	assert.Equal(t, 2, assigned.TicketCount)
	expect[engine.TicketAssigned](t, player, engine.EvtTicketAssigned)
	updated := expect[engine.TicketsUpdated](t, player, engine.EvtTicketsUpdated)
	assert.Len(t, updated.Tickets, 2)

	send(t, host, types.ClientMessage{Type: "call_number", RoomCode: room})
	called := expect[engine.NumberCalled](t, host, engine.EvtNumberCalled)
	assert.Equal(t, []int{called.Number}, called.Called)
	assert.Equal(t, called, expect[engine.NumberCalled](t, player, engine.EvtNumberCalled))

	send(t, player, types.ClientMessage{Type: "send_chat", RoomCode: room, PlayerCode: added.PlayerCode, Message: "  hi  "})
	chat := expect[engine.ChatEntry](t, host, engine.EvtChatMessage)
	assert.Equal(t, "Asha", chat.Author)
	assert.Equal(t, "hi", chat.Message)

	require.NoError(t, player.Close(websocket.StatusNormalClosure, ""))
	offline := expect[engine.Roster](t, host, engine.EvtRoster)
	assert.Equal(t, engine.StatusOffline, offline.Players[0].Status)
}

func TestGateway_ErrorsStayPrivate(t *testing.T) {
	url := newTestServer(t)
	c := dial(t, url)

	send(t, c, types.ClientMessage{Type: types.JoinWithCode, PlayerCode: "ZZZZ"})
	je := expect[engine.JoinError](t, c, engine.EvtJoinError)
	assert.Equal(t, "Invalid player code", je.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	bad := expect[engine.ErrorMessage](t, c, engine.EvtError)
	assert.Equal(t, "bad json", bad.Message)

	// Commands for an unknown room produce nothing, so the next frame is the
	// reply to the unknown type that follows.
	send(t, c, types.ClientMessage{Type: "call_number", RoomCode: "NOPE00"})
	send(t, c, types.ClientMessage{Type: "shuffle"})
	unknown := expect[engine.ErrorMessage](t, c, engine.EvtError)
	assert.Equal(t, "unknown type", unknown.Message)
}

func TestToEngineCommand(t *testing.T) {
	cmd, ok := toEngineCommand("c1", types.ClientMessage{Type: "submit_claim", PlayerCode: "AB12", ClaimType: "first_five"})
	require.True(t, ok)
	assert.Equal(t, engine.Command{Type: engine.CmdSubmitClaim, ConnID: "c1", PlayerCode: "AB12", ClaimKind: "first_five"}, cmd)

	cmd, ok = toEngineCommand("c1", types.ClientMessage{Type: "toggle_auto_mark", PlayerCode: "AB12", Allowed: true})
	require.True(t, ok)
	assert.True(t, cmd.Allowed)

	_, ok = toEngineCommand("c1", types.ClientMessage{Type: types.CreateSession})
	assert.False(t, ok)
}
