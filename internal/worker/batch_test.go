package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "test_queue"

type testItem struct {
	ID int `json:"id"`
}

type sink struct {
	mu        sync.Mutex
	bulkCalls int
	written   []int
	bulkErr   error
	failIDs   map[int]error
}

func (s *sink) bulk(_ context.Context, items []testItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	for _, it := range items {
		s.written = append(s.written, it.ID)
	}
	return nil
}

func (s *sink) single(_ context.Context, it testItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failIDs[it.ID]; err != nil {
		return err
	}
	s.written = append(s.written, it.ID)
	return nil
}

func (s *sink) ids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.written...)
}

func newTestBatcher(t *testing.T) (*miniredis.Miniredis, *redis.Client, *batcher[testItem], *sink) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := &sink{failIDs: map[int]error{}}
	b := newBatcher[testItem](rdb, testQueue, zerolog.Nop())
	b.bulk = s.bulk
	b.single = s.single
	b.size = 2
	b.timeout = 10 * time.Millisecond
	b.backoff = 0
	return mr, rdb, b, s
}

func push(t *testing.T, rdb *redis.Client, raws ...string) {
	t.Helper()
	for _, raw := range raws {
		require.NoError(t, rdb.RPush(context.Background(), testQueue, raw).Err())
	}
}

func TestBatcherWritesInBatches(t *testing.T) {
	_, rdb, b, s := newTestBatcher(t)
	push(t, rdb, `{"id":1}`, `{"id":2}`, `not json`, `{"id":3}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(s.ids()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, s.ids())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBatcherFallsBackAndRequeues(t *testing.T) {
	_, rdb, b, s := newTestBatcher(t)
	s.bulkErr = errors.New("deadlock detected")
	s.failIDs[2] = errors.New("connection reset")
	s.failIDs[3] = fmt.Errorf("%w: bad id", errMalformed)

	var persisted []testItem
	b.persisted = func(_ context.Context, items []testItem) { persisted = append(persisted, items...) }

	requeued := b.flush(context.Background(), []testItem{{ID: 1}, {ID: 2}, {ID: 3}})

	assert.Equal(t, 1, requeued)
	assert.Equal(t, []int{1}, s.ids())
	assert.Equal(t, []testItem{{ID: 1}}, persisted)

	raws, err := rdb.LRange(context.Background(), testQueue, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":2}`}, raws)
}

func TestBatcherWithoutSingleRequeuesWholeBatch(t *testing.T) {
	_, rdb, b, s := newTestBatcher(t)
	s.bulkErr = errors.New("database is down")
	b.single = nil

	assert.Equal(t, 2, b.flush(context.Background(), []testItem{{ID: 1}, {ID: 2}}))
	n, err := rdb.LLen(context.Background(), testQueue).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestBatcherDrainsQueueOnShutdown(t *testing.T) {
	_, rdb, b, s := newTestBatcher(t)
	push(t, rdb, `{"id":1}`, `{"id":2}`, `{"id":3}`, `{"id":4}`, `{"id":5}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.ids())
	assert.Equal(t, 3, s.bulkCalls)
	n, err := rdb.LLen(context.Background(), testQueue).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBatcherStopsDrainWhenWritesFail(t *testing.T) {
	_, rdb, b, s := newTestBatcher(t)
	s.bulkErr = errors.New("database is down")
	s.failIDs[1] = errors.New("database is down")
	s.failIDs[2] = errors.New("database is down")
	push(t, rdb, `{"id":1}`, `{"id":2}`, `{"id":3}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	// The first chunk fails and goes back to the tail; draining stops there.
	raws, err := rdb.LRange(context.Background(), testQueue, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":3}`, `{"id":1}`, `{"id":2}`}, raws)
	assert.Empty(t, s.ids())
}
