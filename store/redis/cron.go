package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/id"
)

// RegisterCron persists a new entry. The name index is claimed with
// HSETNX so two engines cannot register the same name.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	cID := entry.ID.String()
	ok, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, cID).Result()
	if err != nil {
		return fmt.Errorf("orquesta/redis: register cron: %w", err)
	}
	if !ok {
		return orquesta.ErrDuplicateCron
	}
	b, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode cron: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, cronKey(cID), b, 0)
	pipe.SAdd(ctx, cronIDsKey, cID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	e, err := load[cron.Entry](ctx, s.client, cronKey(entryID.String()))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get cron: %w", err)
	}
	if e == nil {
		return nil, orquesta.ErrCronNotFound
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list crons: %w", err)
	}
	keys := make([]string, len(ids))
	for i, cID := range ids {
		keys[i] = cronKey(cID)
	}
	out, err := loadMany[cron.Entry](ctx, s.client, keys)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list crons: %w", err)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ClaimCronTick advances NextRunAt under WATCH while it still equals
// expected.
func (s *Store) ClaimCronTick(ctx context.Context, entryID id.CronID, expected, next time.Time) (bool, error) {
	var found bool
	won, err := mutate(ctx, s.client, cronKey(entryID.String()), func(cur *cron.Entry) (*cron.Entry, error) {
		found = cur != nil
		if cur == nil || cur.NextRunAt == nil || !cur.NextRunAt.Equal(expected) {
			return nil, nil
		}
		last, nxt := expected.UTC(), next.UTC()
		cur.LastRunAt = &last
		cur.NextRunAt = &nxt
		cur.UpdatedAt = time.Now().UTC()
		return cur, nil
	}, nil)
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: claim cron tick: %w", err)
	}
	if !found {
		return false, orquesta.ErrCronNotFound
	}
	return won, nil
}

// UpdateCronEntry overwrites a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	wrote, err := mutate(ctx, s.client, cronKey(entry.ID.String()), func(cur *cron.Entry) (*cron.Entry, error) {
		if cur == nil {
			return nil, nil
		}
		next := *entry
		next.UpdatedAt = time.Now().UTC()
		return &next, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("orquesta/redis: update cron: %w", err)
	}
	if !wrote {
		return orquesta.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry and frees its name.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	cID := entryID.String()
	e, err := load[cron.Entry](ctx, s.client, cronKey(cID))
	if err != nil {
		return fmt.Errorf("orquesta/redis: delete cron: %w", err)
	}
	if e == nil {
		return orquesta.ErrCronNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, cronKey(cID))
	pipe.SRem(ctx, cronIDsKey, cID)
	pipe.HDel(ctx, cronNamesKey, e.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: delete cron: %w", err)
	}
	return nil
}
