package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/feed"
	"github.com/DoyleJ11/tambola-backend/internal/lobby"
	"github.com/DoyleJ11/tambola-backend/internal/ticket"
)

var ErrNotFound = errors.New("room not found")
var ErrStopped = errors.New("hub stopped")

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	HostConnID string
	Reply      chan CreateResult
}

type CreateResult struct {
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type ListLobbies struct {
	Reply chan []*lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

// Sweep shuts down rooms that have been idle for longer than the TTL.
type Sweep struct {
	Now   time.Time
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (ListLobbies) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Logger        *zap.Logger
	Results       feed.Publisher
	Limits        engine.Limits
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// NewRand seeds the random source of each new room.
	NewRand func() *rand.Rand
	Now     func() time.Time
}

// Hub is the room registry. All map access happens on its own goroutine;
// each room's state lives in that room's lobby.
type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	dir     *Directory
	opts    Options
	log     *zap.Logger
	genCode func(n int) (string, error)
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Results == nil {
		opts.Results = feed.Discard
	}
	if opts.Limits == (engine.Limits{}) {
		opts.Limits = engine.DefaultLimits()
	}
	if opts.NewRand == nil {
		opts.NewRand = func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		dir:     NewDirectory(),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		genCode: GenerateCode,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Directory() *Directory { return h.dir }

func (h *Hub) loop() {
	defer close(h.done)

	var tick <-chan time.Time
	if h.opts.SweepInterval > 0 && h.opts.IdleTTL > 0 {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-tick:
			h.sweep(h.opts.Now())

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				lb, err := h.create(msg.HostConnID)
				msg.Reply <- CreateResult{Lobby: lb, Err: err}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case ListLobbies:
				out := make([]*lobby.Lobby, 0, len(h.lobbies))
				for _, lb := range h.lobbies {
					out = append(out, lb)
				}
				msg.Reply <- out

			case RemoveLobby:
				h.remove(msg.Code)

			case Sweep:
				swept := h.sweep(msg.Now)
				if msg.Reply != nil {
					msg.Reply <- swept
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(hostConnID string) (*lobby.Lobby, error) {
	var code string
	for range maxCodeTries {
		c, err := h.genCode(RoomCodeLen)
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if h.lobbies[c] == nil {
			code = c
			break
		}
		h.log.Debug("collision on room code, regenerating", zap.String("code", c))
	}
	if code == "" {
		return nil, ErrCodeSpaceExhausted
	}

	rng := h.opts.NewRand()
	session := engine.NewSession(code, hostConnID, engine.Deps{
		Tickets: ticket.NewGenerator(rng),
		Codes:   h.dir,
		Rand:    rng,
		Now:     h.opts.Now,
		Limits:  h.opts.Limits,
	})
	lb := lobby.NewLobby(h.ctx, session, lobby.Options{
		Results: h.opts.Results,
		Logger:  h.opts.Logger,
		Now:     h.opts.Now,
	})
	h.lobbies[code] = lb
	h.log.Info("room created", zap.String("room", code), zap.Int("rooms", len(h.lobbies)))
	return lb, nil
}

func (h *Hub) remove(code string) {
	lb := h.lobbies[code]
	if lb == nil {
		return
	}
	delete(h.lobbies, code)
	h.dir.ReleaseRoom(code)
	_ = lb.Post(lobby.Shutdown{})
}

func (h *Hub) sweep(now time.Time) []string {
	var swept []string
	for code, lb := range h.lobbies {
		if lb.Idle(now, h.opts.IdleTTL) {
			h.remove(code)
			swept = append(swept, code)
		}
	}
	if len(swept) > 0 {
		h.log.Info("swept idle rooms", zap.Strings("rooms", swept), zap.Int("remaining", len(h.lobbies)))
	}
	return swept
}

func (h *Hub) shutdown() {
	for code := range h.lobbies {
		h.remove(code)
	}
	h.cancel()
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Create registers a new room hosted by hostConnID.
func (h *Hub) Create(ctx context.Context, hostConnID string) (*lobby.Lobby, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateLobby{HostConnID: hostConnID, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	return res.Lobby, res.Err
}

func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, GetLobby{Code: engine.NormalizeCode(code), Reply: reply}); err != nil {
		return nil, err
	}
	lb, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, ErrNotFound
	}
	return lb, nil
}

// FindPlayer returns the room holding playerCode.
func (h *Hub) FindPlayer(ctx context.Context, playerCode string) (*lobby.Lobby, error) {
	room, ok := h.dir.Lookup(engine.NormalizeCode(playerCode))
	if !ok {
		return nil, ErrNotFound
	}
	return h.Get(ctx, room)
}

func (h *Hub) Lobbies(ctx context.Context) ([]*lobby.Lobby, error) {
	reply := make(chan []*lobby.Lobby, 1)
	if err := h.send(ctx, ListLobbies{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h, reply)
}

// Disconnect tells every room that connID has gone. Rooms that never saw the
// connection ignore it.
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	lobbies, err := h.Lobbies(ctx)
	if err != nil {
		return err
	}
	for _, lb := range lobbies {
		if err := lb.Post(lobby.Leave{ConnID: connID}); err != nil && !errors.Is(err, lobby.ErrClosed) {
			return err
		}
	}
	return nil
}

// Rebind unlinks connID from players in every room except target, so a
// connection joining target speaks for one player process-wide.
func (h *Hub) Rebind(ctx context.Context, connID string, target *lobby.Lobby) error {
	lobbies, err := h.Lobbies(ctx)
	if err != nil {
		return err
	}
	for _, lb := range lobbies {
		if lb == target {
			continue
		}
		if err := lb.Post(lobby.Unbind{ConnID: connID}); err != nil && !errors.Is(err, lobby.ErrClosed) {
			return err
		}
	}
	return nil
}

// SweepNow runs an idle sweep immediately and returns the removed codes.
func (h *Hub) SweepNow(ctx context.Context, now time.Time) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, Sweep{Now: now, Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h, reply)
}

// Shutdown stops every room and the hub itself, then waits for the loop.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) Done() <-chan struct{} { return h.done }
