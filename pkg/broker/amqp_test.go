package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/broker"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	if !durable {
		return errors.New("exchange must be durable")
	}
	return nil
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	c.keys = append(c.keys, exchange+"/"+key)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type fakeConnection struct {
	channel *fakeChannel
	closed  bool
}

func (c *fakeConnection) Channel() (broker.AMQPChannel, error) { return c.channel, nil }
func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conns   []*fakeConnection
	dialErr error
	dials   int
}

func (d *fakeDialer) Dial(url string) (broker.AMQPConnection, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeConnection{channel: &fakeChannel{}}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func TestAMQPPublisher_DeclaresTopicExchange(t *testing.T) {
	dialer := &fakeDialer{}
	_, err := broker.NewAMQPPublisherWithDialer("amqp://test", dialer, time.Second)
	require.NoError(t, err)
	require.Len(t, dialer.conns, 1)
	assert.Equal(t, []string{"risk_events/topic"}, dialer.conns[0].channel.declared)
}

func TestAMQPPublisher_PublishPersistentWithHeader(t *testing.T) {
	dialer := &fakeDialer{}
	pub, err := broker.NewAMQPPublisherWithDialer("amqp://test", dialer, time.Second)
	require.NoError(t, err)

	msg := broker.Message{
		EventID:       "e1",
		TenantID:      "t1",
		CorrelationID: "corr-1",
		EventType:     "RiskEvent",
		Status:        "received",
	}
	require.NoError(t, pub.Publish(context.Background(), "risk.created", msg, "key-1"))

	ch := dialer.conns[0].channel
	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"risk_events/risk.created"}, ch.keys)

	p := ch.published[0]
	assert.Equal(t, uint8(amqp.Persistent), p.DeliveryMode)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, "key-1", p.Headers["idempotency_key"])

	var decoded broker.Message
	require.NoError(t, json.Unmarshal(p.Body, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestAMQPPublisher_PublishErrorRedialsNextCall(t *testing.T) {
	dialer := &fakeDialer{}
	pub, err := broker.NewAMQPPublisherWithDialer("amqp://test", dialer, time.Second)
	require.NoError(t, err)

	dialer.conns[0].channel.publishErr = errors.New("connection reset")
	err = pub.Publish(context.Background(), "risk.created", broker.Message{EventID: "e1"}, "k")
	require.ErrorIs(t, err, broker.ErrPublish)
	assert.True(t, dialer.conns[0].closed, "broken connection must be torn down")

	require.NoError(t, pub.Publish(context.Background(), "risk.created", broker.Message{EventID: "e2"}, "k"))
	assert.Equal(t, 2, dialer.dials, "second publish must redial")
	assert.Len(t, dialer.conns[1].channel.published, 1)
}

func TestBus_RecordsAndFails(t *testing.T) {
	bus := broker.NewBus()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, "compliance.created", broker.Message{EventID: "e1"}, "k1"))

	bus.FailWith("broker down")
	err := bus.Publish(ctx, "risk.created", broker.Message{EventID: "e2"}, "k2")
	require.ErrorIs(t, err, broker.ErrPublish)

	bus.FailWith("")
	require.NoError(t, bus.Publish(ctx, "risk.created", broker.Message{EventID: "e3"}, "k3"))

	got := bus.PublishedMessages()
	require.Len(t, got, 2)
	assert.Equal(t, "compliance.created", got[0].RoutingKey)
	assert.Equal(t, "k1", got[0].IdempotencyKey)
	assert.Equal(t, "e3", got[1].Message.EventID)
}
