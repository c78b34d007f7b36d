package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "records", crawler.Notification{RunID: "r1", ItemType: record.TypeRanking})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "records", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "records", pub.Messages()[0].Topic)

	notes := pub.Notifications("records")
	require.Len(t, notes, 1)
	require.Equal(t, record.TypeRanking, notes[0].ItemType)
	require.Empty(t, pub.Notifications("other"))
}
