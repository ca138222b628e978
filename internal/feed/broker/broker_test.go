package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tambola-backend/internal/feed"
)

func TestPublishingFor(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	r := feed.Result{Kind: feed.ClaimAwarded, RoomCode: "ROOM01", ClaimType: "FIRST_LINE", Winner: "Asha", Called: 20, At: at}

	msg, err := publishingFor(r)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "claim.awarded", msg.Type)
	assert.Equal(t, at, msg.Timestamp)

	var back feed.Result
	require.NoError(t, json.Unmarshal(msg.Body, &back))
	assert.Equal(t, r, back)
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	closed bool
	fail   error
	sent   []published
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisher_Record(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{exchange: "tambola.results", ch: ch}

	err := p.Record(context.Background(), feed.Result{Kind: feed.RoundReset, RoomCode: "ROOM01"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "tambola.results", ch.sent[0].exchange)
	assert.Equal(t, "round.reset", ch.sent[0].key)
	assert.False(t, ch.sent[0].msg.Timestamp.IsZero())
}

func TestPublisher_RecordReconnectsClosedChannel(t *testing.T) {
	stale := &fakeChannel{closed: true}
	fresh := &fakeChannel{}
	dials := 0
	p := &Publisher{
		exchange: "tambola.results",
		ch:       stale,
		dial: func(string, string) (io.Closer, channel, error) {
			dials++
			return nil, fresh, nil
		},
	}

	require.NoError(t, p.Record(context.Background(), feed.Result{Kind: feed.ClaimAwarded, RoomCode: "ROOM01"}))
	assert.Equal(t, 1, dials)
	assert.Empty(t, stale.sent)
	require.Len(t, fresh.sent, 1)
	assert.Equal(t, "claim.awarded", fresh.sent[0].key)

	require.NoError(t, p.Close())
	assert.True(t, fresh.closed)
}

func TestPublisher_RecordErrors(t *testing.T) {
	boom := errors.New("boom")
	p := &Publisher{exchange: "x", ch: &fakeChannel{fail: boom}}
	err := p.Record(context.Background(), feed.Result{Kind: feed.ClaimAwarded})
	assert.ErrorIs(t, err, boom)

	p = &Publisher{
		exchange: "x",
		dial: func(string, string) (io.Closer, channel, error) {
			return nil, nil, boom
		},
	}
	err = p.Record(context.Background(), feed.Result{Kind: feed.ClaimAwarded})
	assert.ErrorIs(t, err, boom)
}
