package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/lobby"
)

type chanSink struct {
	id string
	ch chan engine.Event
}

func (s *chanSink) ID() string { return s.id }

func (s *chanSink) Deliver(e engine.Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func recv(t *testing.T, ch <-chan engine.Event) engine.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return engine.Event{}
	}
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	h := NewHub(context.Background(), opts)
	t.Cleanup(h.Shutdown)
	return h
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{})

	lb1, err := h.Create(ctx, "host")
	require.NoError(t, err)
	assert.Len(t, lb1.Code(), RoomCodeLen)

	lb2, err := h.Get(ctx, lb1.Code())
	require.NoError(t, err)
	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}

	_, err = h.Get(ctx, "NOPE00")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHub_CreateRegeneratesOnCollision(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{})
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	h.genCode = func(int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := h.Create(ctx, "h1")
	require.NoError(t, err)
	second, err := h.Create(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.Code())
	assert.Equal(t, "BBBBBB", second.Code())
}

func addPlayer(t *testing.T, lb *lobby.Lobby, host *chanSink) string {
	t.Helper()
	require.NoError(t, lb.Post(lobby.Attach{Sink: host}))
	require.NoError(t, lb.Post(lobby.FromClient{Sink: host, Cmd: engine.Command{Type: engine.CmdAddPlayer, ConnID: host.id, PlayerName: "Asha"}}))
	added := recv(t, host.ch)
	require.Equal(t, engine.EvtPlayerAdded, added.Type)
	recv(t, host.ch) // roster
	return added.Payload.(engine.PlayerAdded).PlayerCode
}

func TestHub_FindPlayerAcrossRooms(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{})
	host := &chanSink{id: "host", ch: make(chan engine.Event, 16)}

	a, err := h.Create(ctx, "host")
	require.NoError(t, err)
	b, err := h.Create(ctx, "host")
	require.NoError(t, err)

	codeA := addPlayer(t, a, host)
	codeB := addPlayer(t, b, host)
	assert.NotEqual(t, codeA, codeB)
	assert.Len(t, codeA, PlayerCodeLen)

	found, err := h.FindPlayer(ctx, codeB)
	require.NoError(t, err)
	assert.Same(t, b, found)

	_, err = h.FindPlayer(ctx, "ZZZZ")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHub_DisconnectMarksPlayerOffline(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{})
	host := &chanSink{id: "host", ch: make(chan engine.Event, 16)}
	player := &chanSink{id: "c1", ch: make(chan engine.Event, 16)}

	lb, err := h.Create(ctx, "host")
	require.NoError(t, err)
	code := addPlayer(t, lb, host)
	require.NoError(t, lb.Post(lobby.FromClient{Sink: player, Cmd: engine.Command{Type: engine.CmdJoinWithCode, ConnID: "c1", PlayerCode: code}}))
	recv(t, host.ch) // roster with player online

	require.NoError(t, h.Disconnect(ctx, "c1"))
	roster := recv(t, host.ch)
	require.Equal(t, engine.EvtRoster, roster.Type)
	assert.Equal(t, engine.StatusOffline, roster.Payload.(engine.Roster).Players[0].Status)
}

func TestHub_SweepRemovesIdleRoomsAndCodes(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{IdleTTL: time.Hour})
	host := &chanSink{id: "host", ch: make(chan engine.Event, 16)}

	idle, err := h.Create(ctx, "host")
	require.NoError(t, err)
	code := addPlayer(t, idle, host)
	require.NoError(t, idle.Post(lobby.Leave{ConnID: host.id}))
	_, err = idle.State(ctx)
	require.NoError(t, err)

	busy, err := h.Create(ctx, "host2")
	require.NoError(t, err)
	require.NoError(t, busy.Post(lobby.Attach{Sink: &chanSink{id: "host2", ch: make(chan engine.Event, 4)}}))
	_, err = busy.State(ctx)
	require.NoError(t, err)

	swept, err := h.SweepNow(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{idle.Code()}, swept)

	_, err = h.Get(ctx, idle.Code())
	assert.True(t, errors.Is(err, ErrNotFound))
	_, ok := h.Directory().Lookup(code)
	assert.False(t, ok)

	select {
	case <-idle.Done():
	case <-time.After(time.Second):
		t.Fatal("swept lobby still running")
	}

	_, err = h.Get(ctx, busy.Code())
	assert.NoError(t, err)
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	h := NewHub(context.Background(), Options{Logger: zaptest.NewLogger(t)})
	lb, err := h.Create(context.Background(), "host")
	require.NoError(t, err)

	h.Shutdown()
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatal("lobby still running after hub shutdown")
	}
	_, err = h.Create(context.Background(), "host")
	assert.True(t, errors.Is(err, ErrStopped))
	h.Shutdown()
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	codes := []string{"AAAA", "AAAA", "BBBB"}
	d.gen = func(int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	a, err := d.Allocate("R1")
	require.NoError(t, err)
	b, err := d.Allocate("R2")
	require.NoError(t, err)
	assert.Equal(t, "AAAA", a)
	assert.Equal(t, "BBBB", b)

	room, ok := d.Lookup("BBBB")
	assert.True(t, ok)
	assert.Equal(t, "R2", room)

	d.Release("AAAA")
	d.ReleaseRoom("R2")
	assert.Zero(t, d.Len())

	codes = []string{engine.HostAuthor, "DDDD"}
	d.gen = func(int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	skipped, err := d.Allocate("R1")
	require.NoError(t, err)
	assert.Equal(t, "DDDD", skipped)
	d.Release(skipped)

	d.gen = func(int) (string, error) { return "CCCC", nil }
	_, err = d.Allocate("R1")
	require.NoError(t, err)
	_, err = d.Allocate("R1")
	assert.True(t, errors.Is(err, ErrCodeSpaceExhausted))
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(RoomCodeLen)
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
}

func TestHub_RebindReleasesPlayerInOtherRooms(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, Options{})
	host := &chanSink{id: "host", ch: make(chan engine.Event, 32)}
	player := &chanSink{id: "c1", ch: make(chan engine.Event, 32)}

	a, err := h.Create(ctx, "host")
	require.NoError(t, err)
	b, err := h.Create(ctx, "host")
	require.NoError(t, err)
	codeA := addPlayer(t, a, host)
	addPlayer(t, b, host)

	require.NoError(t, a.Post(lobby.FromClient{Sink: player, Cmd: engine.Command{Type: engine.CmdJoinWithCode, ConnID: "c1", PlayerCode: codeA}}))
	recv(t, host.ch) // roster with player online in a

	require.NoError(t, h.Rebind(ctx, "c1", b))
	roster := recv(t, host.ch)
	require.Equal(t, engine.EvtRoster, roster.Type)
	assert.Equal(t, engine.StatusOffline, roster.Payload.(engine.Roster).Players[0].Status)

	view, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.NumClients)
	assert.Equal(t, 0, view.Stats.Online)

	viewB, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, viewB.Stats.Online)
}
