package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AMQPConnection abstracts the broker connection for dependency injection.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPChannel abstracts the channel operations the publisher needs.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDialer dials broker connections. Injected so tests never need a broker.
type AMQPDialer interface {
	Dial(url string) (AMQPConnection, error)
}

type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *realConnection) Close() error { return r.conn.Close() }

// RealDialer dials with the streadway client.
type RealDialer struct{}

func (RealDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}

// AMQPPublisher publishes persistent JSON messages to the risk_events topic
// exchange. The connection is long-lived; a failed publish tears it down so
// the next call redials.
type AMQPPublisher struct {
	url        string
	dialer     AMQPDialer
	opTimeout  time.Duration
	mu         sync.Mutex
	connection AMQPConnection
	channel    AMQPChannel
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	return NewAMQPPublisherWithDialer(url, RealDialer{}, 5*time.Second)
}

// NewAMQPPublisherWithDialer allows injecting a dialer for tests.
func NewAMQPPublisherWithDialer(url string, dialer AMQPDialer, opTimeout time.Duration) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, dialer: dialer, opTimeout: opTimeout}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := p.dialer.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	p.connection = conn
	p.channel = ch
	return nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.connection != nil {
		_ = p.connection.Close()
		p.connection = nil
	}
}

// Publish sends msg with persistent delivery and the idempotency_key header.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, msg Message, idempotencyKey string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPublish, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrPublish, err)
		}
	}

	err = p.channel.Publish(Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"idempotency_key": idempotencyKey},
		Body:         body,
	})
	if err != nil {
		p.dropLocked()
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked()
	return nil
}
