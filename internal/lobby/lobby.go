package lobby

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/feed"
)

// Sink is one connection's outbound side. Deliver must not block; returning
// false means the connection is gone or too slow and should be detached.
type Sink interface {
	ID() string
	Deliver(engine.Event) bool
}

type Msg interface{ isLobbyMsg() }

// Attach joins a connection to the room broadcast.
type Attach struct {
	Sink Sink
}

func (Attach) isLobbyMsg() {}

// FromClient carries a command. Sink receives any reply addressed to the
// sender, attached or not.
type FromClient struct {
	Sink Sink
	Cmd  engine.Command
}

func (FromClient) isLobbyMsg() {}

// Leave detaches a connection and unbinds any player linked to it.
type Leave struct{ ConnID string }

func (Leave) isLobbyMsg() {}

// Unbind releases the player linked to a connection that has moved to
// another room. The host connection stays attached.
type Unbind struct{ ConnID string }

func (Unbind) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Version    int
	NumClients int
	Stats      engine.Stats
}

var ErrClosed = errors.New("lobby closed")

type Lobby struct {
	inbox   chan Msg
	session *engine.Session
	version int
	clients map[string]Sink
	results feed.Publisher
	log     *zap.Logger
	now     func() time.Time

	lastActive atomic.Int64
	numClients atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Results feed.Publisher
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewLobby(parent context.Context, session *engine.Session, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Results == nil {
		opts.Results = feed.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		session: session,
		clients: make(map[string]Sink),
		results: opts.Results,
		log:     opts.Logger.Named("lobby").With(zap.String("room", session.Code)),
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.touch()

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.session.Code }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Attach:
				l.touch()
				l.attach(msg.Sink)

			case Leave:
				l.detach(msg.ConnID)
				l.apply(nil, engine.Command{Type: engine.CmdDisconnect, ConnID: msg.ConnID})

			case Unbind:
				if _, bound := l.session.BoundPlayer(msg.ConnID); bound {
					if !l.session.IsHost(msg.ConnID) {
						l.detach(msg.ConnID)
					}
					l.apply(nil, engine.Command{Type: engine.CmdDisconnect, ConnID: msg.ConnID})
				}

			case FromClient:
				l.touch()
				l.apply(msg.Sink, msg.Cmd)

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					Stats:      l.session.Stats(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) apply(sender Sink, cmd engine.Command) {
	events, err := l.session.Apply(cmd)
	if err != nil {
		// Dropped commands are silent to the caller.
		l.log.Debug("command dropped",
			zap.String("cmd", string(cmd.Type)),
			zap.String("conn", cmd.ConnID),
			zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}
	l.version++
	for _, e := range events {
		l.dispatch(sender, e)
		l.publish(e)
	}
}

func (l *Lobby) dispatch(sender Sink, e engine.Event) {
	if e.To == engine.ToRoom {
		l.broadcast(e)
		return
	}

	sink, ok := l.clients[e.ConnID]
	if !ok && sender != nil && sender.ID() == e.ConnID {
		sink, ok = sender, true
	}
	if !ok {
		return
	}
	if e.Type == engine.EvtJoined {
		l.attach(sink)
	}
	if !sink.Deliver(e) {
		l.detach(sink.ID())
		return
	}
	if e.Type == engine.EvtForceLogout {
		l.detach(sink.ID())
	}
}

func (l *Lobby) broadcast(e engine.Event) {
	for id, sink := range l.clients {
		if !sink.Deliver(e) {
			// Client is slow/full - drop them.
			l.log.Warn("dropping slow client", zap.String("conn", id))
			l.detach(id)
		}
	}
}

func (l *Lobby) publish(e engine.Event) {
	switch p := e.Payload.(type) {
	case engine.ClaimAccepted:
		l.results.Publish(feed.Result{
			Kind:       feed.ClaimAwarded,
			RoomCode:   l.session.Code,
			ClaimType:  string(p.ClaimType),
			Winner:     p.Winner,
			PlayerCode: p.PlayerCode,
			Called:     len(l.session.Called()),
			At:         l.now(),
		})
	case engine.SessionReset:
		l.results.Publish(feed.Result{
			Kind:     feed.RoundReset,
			RoomCode: l.session.Code,
			At:       l.now(),
		})
	}
}

func (l *Lobby) attach(s Sink) {
	l.clients[s.ID()] = s
	l.numClients.Store(int32(len(l.clients)))
}

func (l *Lobby) detach(id string) {
	delete(l.clients, id)
	l.numClients.Store(int32(len(l.clients)))
}

func (l *Lobby) touch() { l.lastActive.Store(l.now().UnixNano()) }

func (l *Lobby) shutdown() {
	clear(l.clients)
	l.numClients.Store(0)
	l.cancel()
}

// Inbox exposes the lobby's message queue. Prefer Post, which gives up once
// the lobby has stopped.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Post enqueues m unless the lobby has stopped.
func (l *Lobby) Post(m Msg) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// State asks the lobby for a consistent view of its room.
func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Post(GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Idle reports whether the room has no connections and has seen no traffic
// for at least ttl. Safe to call from any goroutine.
func (l *Lobby) Idle(now time.Time, ttl time.Duration) bool {
	if l.numClients.Load() > 0 {
		return false
	}
	return now.Sub(time.Unix(0, l.lastActive.Load())) >= ttl
}

func (l *Lobby) Done() <-chan struct{} { return l.done }
