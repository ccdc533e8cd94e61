package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "scrape.completed", map[string]string{"job_id": "j1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "scrape.failed", "boom")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"job_id":"j1"}`, string(msgs[0].Payload))
	require.Equal(t, `"boom"`, string(msgs[1].Payload))
	require.Len(t, pub.Topic("scrape.failed"), 1)
	require.Empty(t, pub.Topic("vectordb.ready"))

	msgs[0].Topic = "modified"
	require.Equal(t, "scrape.completed", pub.Messages()[0].Topic)
}

func TestPublisherRejectsUnencodable(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "x", make(chan int))
	require.Error(t, err)
	require.Empty(t, New().Messages())
}
