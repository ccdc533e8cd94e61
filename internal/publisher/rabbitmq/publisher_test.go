package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/usyd/webcrawler-rag/internal/clock/system"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	durable    bool
	declareErr error
	publishErr error
	sent       []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kinds = append(f.kinds, kind)
	f.durable = durable
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "msg-" + string(rune('0'+s.n)), nil
}

func TestPublisherDeclaresAndPublishes(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	pub, err := newPublisher(ch, "", &seqIDs{}, system.NewManual(now))
	require.NoError(t, err)
	require.Equal(t, []string{DefaultExchange}, ch.declared)
	require.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)
	require.True(t, ch.durable)

	id, err := pub.Publish(context.Background(), "vectordb.ready", map[string]any{"db_id": "d1"})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	require.Equal(t, DefaultExchange, sent.exchange)
	require.Equal(t, "vectordb.ready", sent.key)
	require.Equal(t, "application/json", sent.msg.ContentType)
	require.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	require.Equal(t, "msg-1", sent.msg.MessageId)
	require.Equal(t, "vectordb.ready", sent.msg.Type)
	require.True(t, sent.msg.Timestamp.Equal(now))

	var body map[string]string
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	require.Equal(t, "d1", body["db_id"])

	require.NoError(t, pub.Close())
	require.True(t, ch.closed)
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Now())

	_, err := newPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "events", &seqIDs{}, clock)
	require.ErrorContains(t, err, "declare exchange events")

	_, err = newPublisher(&fakeChannel{}, "events", nil, clock)
	require.Error(t, err)

	pub, err := newPublisher(&fakeChannel{publishErr: errors.New("channel closed")}, "events", &seqIDs{}, clock)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "scrape.failed", map[string]any{})
	require.ErrorContains(t, err, "publish scrape.failed")

	_, err = pub.Publish(context.Background(), "scrape.failed", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = New(nil, "events", &seqIDs{}, clock)
	require.Error(t, err)
}

func TestPublisherCarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	ch := &fakeChannel{}
	pub, err := newPublisher(ch, "", &seqIDs{}, system.NewManual(time.Now()))
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "scrape.completed", map[string]any{"job_id": "j1"})
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", ch.sent[0].msg.Headers["traceparent"])

	_, err = pub.Publish(context.Background(), "scrape.completed", map[string]any{})
	require.NoError(t, err)
	require.Nil(t, ch.sent[1].msg.Headers)
}
