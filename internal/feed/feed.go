// Package feed carries game results (claim awards, round resets) out of the
// rooms to slower destinations such as the archive and the broker. Rooms
// never wait on a sink.
package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	ClaimAwarded Kind = "claim.awarded"
	RoundReset   Kind = "round.reset"
)

type Result struct {
	Kind       Kind      `json:"kind"`
	RoomCode   string    `json:"roomCode"`
	ClaimType  string    `json:"claimType,omitempty"`
	Winner     string    `json:"winner,omitempty"`
	PlayerCode string    `json:"playerCode,omitempty"`
	Called     int       `json:"called"`
	At         time.Time `json:"at"`
}

// Publisher accepts results without blocking.
type Publisher interface {
	Publish(Result)
}

// Sink is a destination for results.
type Sink interface {
	Name() string
	Record(ctx context.Context, r Result) error
}

type discard struct{}

func (discard) Publish(Result) {}

// Discard drops every result.
var Discard Publisher = discard{}

// Dispatcher buffers results and hands them to every sink from a single
// goroutine started by Run.
type Dispatcher struct {
	in      chan Result
	sinks   []Sink
	log     *zap.Logger
	timeout time.Duration
}

func NewDispatcher(log *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		in:      make(chan Result, buffer),
		sinks:   sinks,
		log:     log.Named("feed"),
		timeout: 5 * time.Second,
	}
}

// Publish enqueues r, dropping it when the buffer is full.
func (d *Dispatcher) Publish(r Result) {
	select {
	case d.in <- r:
	default:
		d.log.Warn("result dropped, buffer full", zap.String("kind", string(r.Kind)), zap.String("room", r.RoomCode))
	}
}

// Run delivers results until ctx is cancelled, then drains what is already
// buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case r := <-d.in:
					d.deliver(ctx, r)
				default:
					return nil
				}
			}
		case r := <-d.in:
			d.deliver(ctx, r)
		}
	}
}

// deliver gives each sink its own deadline; shutdown does not cut a delivery
// short.
func (d *Dispatcher) deliver(ctx context.Context, r Result) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := s.Record(sctx, r); err != nil {
			d.log.Warn("sink failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(r.Kind)),
				zap.String("room", r.RoomCode),
				zap.Error(err))
		}
		cancel()
	}
}
