package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/observability"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis

	requeueBackoff = 2 * time.Second
	shutdownBudget = 5 * time.Second
)

// errMalformed marks an item that can never be written. It is dropped
// instead of requeued.
var errMalformed = errors.New("malformed queue item")

// batcher drains one Redis list into PostgreSQL. Items are written in
// batches; when the bulk write fails each item is retried on its own and
// the ones that still fail go back to the tail of the list.
type batcher[T any] struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger

	// bulk writes the whole batch in one round trip. Nil goes straight to single.
	bulk func(ctx context.Context, items []T) error
	// single writes one item. Nil requeues the whole batch when bulk fails.
	single func(ctx context.Context, item T) error
	// persisted runs after items were written.
	persisted func(ctx context.Context, items []T)

	size    int
	timeout time.Duration
	backoff time.Duration
}

func newBatcher[T any](rdb *redis.Client, queue string, log zerolog.Logger) *batcher[T] {
	return &batcher[T]{
		rdb:     rdb,
		queue:   queue,
		log:     log,
		size:    BatchSize,
		timeout: BatchTimeout,
		backoff: requeueBackoff,
	}
}

// Run consumes the queue until ctx is cancelled, then flushes the buffer
// and drains whatever is still queued.
func (b *batcher[T]) Run(ctx context.Context) {
	b.log.Info().Str("queue", b.queue).Msg("Worker started")

	buffer := make([]T, 0, b.size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= b.size || time.Since(lastFlush) >= b.timeout) {
			if requeued := b.flush(ctx, buffer); requeued > 0 {
				// Avoid thrashing while the database is down.
				sleepCtx(ctx, b.backoff)
			}
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		if ctx.Err() != nil {
			b.shutdown(buffer)
			return
		}

		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msg("Redis connection error, backing off")
			sleepCtx(ctx, b.backoff)
			continue
		}
		if len(result) < 2 {
			continue
		}
		if item, ok := b.decode(result[1]); ok {
			buffer = append(buffer, item)
		}
	}
}

func (b *batcher[T]) decode(raw string) (T, bool) {
	var item T
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		// Malformed JSON cannot be retried.
		b.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
		b.count("dropped", 1)
		return item, false
	}
	return item, true
}

// flush writes items and returns how many were requeued.
func (b *batcher[T]) flush(ctx context.Context, items []T) int {
	if len(items) == 0 {
		return 0
	}

	if b.bulk != nil {
		err := b.bulk(ctx, items)
		if err == nil {
			b.done(ctx, items)
			return 0
		}
		b.log.Warn().Err(err).Int("count", len(items)).Msg("Bulk write failed, retrying item by item")
	}

	if b.single == nil {
		b.requeue(items)
		return len(items)
	}

	written := make([]T, 0, len(items))
	var failed []T
	for _, item := range items {
		err := b.single(ctx, item)
		switch {
		case err == nil:
			written = append(written, item)
		case errors.Is(err, errMalformed):
			b.log.Error().Err(err).Msg("Dropping item that cannot be written")
			b.count("dropped", 1)
		default:
			b.log.Error().Err(err).Msg("Write failed, requeueing")
			failed = append(failed, item)
		}
	}

	b.done(ctx, written)
	b.requeue(failed)
	return len(failed)
}

func (b *batcher[T]) done(ctx context.Context, items []T) {
	if len(items) == 0 {
		return
	}
	if b.persisted != nil {
		b.persisted(ctx, items)
	}
	b.count("persisted", len(items))
}

// requeue pushes items back with a fresh context so a cancelled worker
// still returns them.
func (b *batcher[T]) requeue(items []T) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	pipe := b.rdb.Pipeline()
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, b.queue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		b.count("lost", len(items))
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	b.count("requeued", len(items))
}

// shutdown flushes the buffer, then drains the queue until it is empty, a
// write fails, or the budget runs out.
func (b *batcher[T]) shutdown(buffer []T) {
	b.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	if b.flush(ctx, buffer) > 0 {
		return
	}

	drained := 0
	for ctx.Err() == nil {
		raws, err := b.rdb.LPopCount(ctx, b.queue, b.size).Result()
		if err != nil || len(raws) == 0 {
			break
		}
		items := make([]T, 0, len(raws))
		for _, raw := range raws {
			if item, ok := b.decode(raw); ok {
				items = append(items, item)
			}
		}
		if b.flush(ctx, items) > 0 {
			break
		}
		drained += len(items)
	}

	if drained > 0 {
		b.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
	b.log.Info().Msg("Worker stopped")
}

func (b *batcher[T]) count(result string, n int) {
	observability.WorkerItems().WithLabelValues(b.queue, result).Add(float64(n))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
