// Package rabbitmq publishes lifecycle events to a durable RabbitMQ topic
// exchange. The event topic is used as the routing key.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// DefaultExchange is used when no exchange name is configured.
const DefaultExchange = "ragcrawler.events"

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dial connects to the broker and opens a test channel within ctx.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			err = ch.Close()
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel: %w", err)
		}
	}
	return conn, nil
}

// Publisher implements crawler.Publisher over one channel.
type Publisher struct {
	mu       sync.Mutex
	ch       channel
	exchange string
	ids      crawler.IDGenerator
	clock    crawler.Clock
}

// New opens a channel on conn and declares the exchange.
func New(conn *amqp.Connection, exchange string, ids crawler.IDGenerator, clock crawler.Clock) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("rabbitmq connection is required")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	pub, err := newPublisher(ch, exchange, ids, clock)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return pub, nil
}

func newPublisher(ch channel, exchange string, ids crawler.IDGenerator, clock crawler.Clock) (*Publisher, error) {
	if ids == nil || clock == nil {
		return nil, errors.New("rabbitmq publisher needs an id generator and clock")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, ids: ids, clock: clock}, nil
}

// Publish sends payload as a persistent JSON message routed by topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.clock.Now(),
		Type:         topic,
		Body:         body,
		Headers:      traceHeaders(ctx),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", topic, err)
	}
	return id, nil
}

// Close closes the channel. The caller owns the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

// traceHeaders carries the trace context as message headers.
func traceHeaders(ctx context.Context) amqp.Table {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	headers := make(amqp.Table, len(carrier))
	for k, v := range carrier {
		headers[k] = v
	}
	return headers
}
