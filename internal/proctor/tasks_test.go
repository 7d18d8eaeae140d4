package proctor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueRunsAndReports(t *testing.T) {
	q := NewTaskQueue(4, time.Second, nopLogger())

	results := make(chan error, 2)
	require.True(t, q.Enqueue("ok", func(context.Context) error { return nil }, func(err error) { results <- err }))
	require.True(t, q.Enqueue("fail", func(context.Context) error { return errOffline }, func(err error) { results <- err }))

	assert.NoError(t, <-results)
	assert.ErrorIs(t, <-results, errOffline)

	q.Close(context.Background())
}

func TestTaskQueueDropsWhenFull(t *testing.T) {
	q := NewTaskQueue(1, time.Second, nopLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	require.True(t, q.Enqueue("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}, nil))
	<-started
	require.True(t, q.Enqueue("queued", func(context.Context) error { return nil }, nil))

	var dropped atomic.Bool
	ok := q.Enqueue("overflow", func(context.Context) error { return nil }, func(err error) {
		dropped.Store(err == ErrSessionClosed)
	})
	assert.False(t, ok)
	assert.True(t, dropped.Load())

	close(release)
	q.Close(context.Background())

	assert.False(t, q.Enqueue("late", func(context.Context) error { return nil }, nil))
}
