package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/dispatcher"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), dispatcher.Job{RunID: "run-1", Site: "news"}))
	require.Equal(t, 1, q.Len())

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", job.RunID)
	require.Equal(t, 0, q.Len())
}

func TestQueueEnqueueHonorsContextWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), dispatcher.Job{RunID: "first"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, dispatcher.Job{RunID: "second"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, dispatcher.ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), dispatcher.Job{}), dispatcher.ErrQueueClosed)
}
