package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/workflow"
)

var (
	_ job.Store      = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// maxTxRetries bounds optimistic retries under WATCH contention.
const maxTxRetries = 16

var errContention = errors.New("orquesta/redis: too much contention")

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op; Redis is schemaless.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// load decodes the record at key, or returns nil if it does not exist.
func load[T any](ctx context.Context, c getter, key string) (*T, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// loadMany decodes the records at keys, skipping missing ones.
func loadMany[T any](ctx context.Context, c goredis.Cmdable, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(vals))
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := msgpack.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// mutate applies fn to the record at key under WATCH and writes the
// result. fn receives nil when the key does not exist and returns nil to
// skip the write. extra runs inside the same MULTI.
func mutate[T any](ctx context.Context, client goredis.UniversalClient, key string,
	fn func(cur *T) (*T, error), extra func(goredis.Pipeliner, *T),
) (bool, error) {
	var wrote bool
	txf := func(tx *goredis.Tx) error {
		wrote = false
		cur, err := load[T](ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return err
		}
		b, err := msgpack.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			if extra != nil {
				extra(p, next)
			}
			return nil
		})
		if err == nil {
			wrote = true
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return wrote, err
	}
	return false, errContention
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// page applies offset and limit.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// leaseScript sets KEYS[1] to ARGV[1] for ARGV[2] ms if the key is free
// or already holds ARGV[1].
var leaseScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0`)

// renewScript extends KEYS[1] only while it holds ARGV[1].
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0`)

// releaseScript deletes KEYS[1] only while it holds ARGV[1].
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)
