package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// connectFunc opens a connection and a channel with the exchange declared.
type connectFunc func() (io.Closer, channel, error)

// Publisher sends booking events to a durable topic exchange.  The routing
// key is the event type, so consumers can bind to "booking.*" or to a
// single transition.  A channel lost to a broker restart is reopened on
// the next publish.
type Publisher struct {
	mu       sync.Mutex
	connect  connectFunc
	conn     io.Closer
	ch       channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	p := &Publisher{exchange: exchange, connect: dialer(url, exchange)}
	if err := p.reconnect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialer(url, exchange string) connectFunc {
	return func() (io.Closer, channel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("declare exchange: %w", err)
		}
		return conn, ch, nil
	}
}

// reconnect replaces the connection and channel.  Callers hold p.mu.
func (p *Publisher) reconnect() error {
	p.closeLocked()
	conn, ch, err := p.connect()
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// PublishJSON marshals v and publishes it as a persistent message.  A
// closed channel is reopened and the publish is tried once more.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.reconnect(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	log.Warn().Str("exchange", p.exchange).Msg("publisher: channel closed, reconnecting")
	if err := p.reconnect(); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
}

// PublishBookingEvent publishes ev under its type.
func (p *Publisher) PublishBookingEvent(ctx context.Context, ev BookingEvent) error {
	return p.PublishJSON(ctx, ev.Type, ev)
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}
