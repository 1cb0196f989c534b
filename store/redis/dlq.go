package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/id"
)

// PushDLQ adds a failed run to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	dID := entry.ID.String()
	b, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode dlq: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(dID), b, 0)
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: score(entry.FailedAt), Member: dID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list dlq: %w", err)
	}
	keys := make([]string, len(ids))
	for i, dID := range ids {
		keys[i] = dlqKey(dID)
	}
	all, err := loadMany[dlq.Entry](ctx, s.client, keys)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list dlq: %w", err)
	}
	out := make([]*dlq.Entry, 0, len(all))
	for _, e := range all {
		if opts.WorkflowID != "" && e.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	e, err := load[dlq.Entry](ctx, s.client, dlqKey(entryID.String()))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get dlq: %w", err)
	}
	if e == nil {
		return nil, orquesta.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	wrote, err := mutate(ctx, s.client, dlqKey(entryID.String()), func(cur *dlq.Entry) (*dlq.Entry, error) {
		if cur == nil {
			return nil, nil
		}
		now := time.Now().UTC()
		cur.ReplayedAt = &now
		return cur, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("orquesta/redis: replay dlq: %w", err)
	}
	if !wrote {
		return orquesta.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("orquesta/redis: purge dlq: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, dID := range ids {
		keys[i] = dlqKey(dID)
		members[i] = dID
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	removed := pipe.ZRem(ctx, dlqIndexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("orquesta/redis: purge dlq: %w", err)
	}
	return removed.Val(), nil
}

// CountDLQ returns the number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("orquesta/redis: count dlq: %w", err)
	}
	return n, nil
}
