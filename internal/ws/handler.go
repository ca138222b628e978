package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tambola-backend/internal/engine"
	"github.com/DoyleJ11/tambola-backend/internal/hub"
	"github.com/DoyleJ11/tambola-backend/internal/lobby"
	"github.com/DoyleJ11/tambola-backend/internal/types"
)

const (
	outboxSize    = 64
	readLimit     = 8 << 10
	writeTimeout  = 3 * time.Second
	pingInterval  = 15 * time.Second
	hubCallWindow = 5 * time.Second
)

type Options struct {
	Logger *zap.Logger
	// OriginPatterns are host patterns accepted for cross-origin upgrades.
	OriginPatterns []string
}

// client is one websocket link. Its id is stable for the life of the link.
type client struct {
	id   string
	out  chan engine.Event
	kick context.CancelFunc
}

func (c *client) ID() string { return c.id }

// Deliver queues e for the writer. A full queue kicks the link.
func (c *client) Deliver(e engine.Event) bool {
	select {
	case c.out <- e:
		return true
	default:
		c.kick()
		return false
	}
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		c := &client{id: uuid.NewString(), out: make(chan engine.Event, outboxSize), kick: cancel}
		clog := log.With(zap.String("conn", c.id))
		clog.Debug("connected", zap.String("remote", r.RemoteAddr))

		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), hubCallWindow)
			defer dcancel()
			if err := h.Disconnect(dctx, c.id); err != nil {
				clog.Warn("disconnect fan-out failed", zap.Error(err))
			}
			clog.Debug("disconnected")
		}()

		// Writer goroutine
		go writeLoop(ctx, conn, c, clog)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (hub.Disconnect in defer):
				clog.Debug("read failed", zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.Deliver(errorEvent(c.id, "bad json"))
				continue
			}
			route(ctx, h, c, cm, clog)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, c *client, log *zap.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.out:
			payload, err := json.Marshal(types.ServerMessage{Type: string(e.Type), Data: e.Payload})
			if err != nil {
				log.Error("encode event", zap.String("event", string(e.Type)), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.String("event", string(e.Type)), zap.Error(err))
				c.kick()
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				c.kick()
				return
			}
		}
	}
}

func route(ctx context.Context, h *hub.Hub, c *client, cm types.ClientMessage, log *zap.Logger) {
	hctx, cancel := context.WithTimeout(ctx, hubCallWindow)
	defer cancel()

	switch cm.Type {
	case types.CreateSession:
		lb, err := h.Create(hctx, c.id)
		if err != nil {
			log.Warn("create session failed", zap.Error(err))
			c.Deliver(errorEvent(c.id, "could not create session"))
			return
		}
		if err := lb.Post(lobby.Attach{Sink: c}); err != nil {
			return
		}
		c.Deliver(engine.Event{
			Type:    engine.EvtSessionCreated,
			To:      engine.ToConn,
			ConnID:  c.id,
			Payload: engine.SessionCreated{RoomCode: lb.Code()},
		})

	case types.JoinWithCode:
		lb, err := h.FindPlayer(hctx, cm.PlayerCode)
		if err != nil {
			c.Deliver(engine.Event{
				Type:    engine.EvtJoinError,
				To:      engine.ToConn,
				ConnID:  c.id,
				Payload: engine.JoinError{Message: "Invalid player code"},
			})
			return
		}
		if err := h.Rebind(hctx, c.id, lb); err != nil {
			log.Warn("rebind failed", zap.Error(err))
		}
		post(lb, c, engine.Command{Type: engine.CmdJoinWithCode, ConnID: c.id, PlayerCode: cm.PlayerCode}, log)

	default:
		cmd, ok := toEngineCommand(c.id, cm)
		if !ok {
			c.Deliver(errorEvent(c.id, "unknown type"))
			return
		}
		lb, err := h.Get(hctx, cm.RoomCode)
		if err != nil {
			// Unknown rooms are dropped without a reply.
			log.Debug("command for unknown room", zap.String("cmd", cm.Type), zap.String("room", cm.RoomCode))
			return
		}
		post(lb, c, cmd, log)
	}
}

func post(lb *lobby.Lobby, c *client, cmd engine.Command, log *zap.Logger) {
	if err := lb.Post(lobby.FromClient{Sink: c, Cmd: cmd}); err != nil {
		log.Debug("room closed", zap.String("room", lb.Code()), zap.Error(err))
	}
}

func errorEvent(connID, msg string) engine.Event {
	return engine.Event{Type: engine.EvtError, To: engine.ToConn, ConnID: connID, Payload: engine.ErrorMessage{Message: msg}}
}
