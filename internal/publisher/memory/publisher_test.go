package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagerender/internal/scrape"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	event := scrape.RefreshEvent{URL: "https://example.com", FetchedAt: time.Unix(10, 0).UTC(), ContentLength: 5, ContentHash: "abc"}

	id, err := pub.Publish(context.Background(), "page-refreshed", event)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "page-refreshed", msgs[0].Topic)
	require.Equal(t, event, msgs[0].Payload)

	msgs[0].Topic = "modified"
	require.Equal(t, "page-refreshed", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "t", "x")
	require.ErrorIs(t, err, context.Canceled)

	_, err = pub.Publish(context.Background(), "t", "x")
	require.NoError(t, err)
}
