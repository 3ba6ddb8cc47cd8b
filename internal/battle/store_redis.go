package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMutateRetries = 8

// RedisBattleStore keeps each battle as one JSON document and serializes
// writers with WATCH/MULTI optimistic transactions.
type RedisBattleStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBattleStore(rdb *redis.Client, ttl time.Duration) *RedisBattleStore {
	return &RedisBattleStore{rdb: rdb, ttl: ttl}
}

func (s *RedisBattleStore) key(battleID string) string {
	return fmt.Sprintf("battle:%s:state", battleID)
}

func (s *RedisBattleStore) userKey(userID string) string {
	return fmt.Sprintf("user:%s:battles", userID)
}

func (s *RedisBattleStore) Create(ctx context.Context, b Battle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal battle: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(b.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx battle %s: %w", b.ID, err)
	}
	if !ok {
		return precondition("battle %s already exists", b.ID)
	}
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range b.PlayerIDs {
			pipe.SAdd(ctx, s.userKey(userID), b.ID)
			pipe.Expire(ctx, s.userKey(userID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis index battle %s: %w", b.ID, err)
	}
	return nil
}

func (s *RedisBattleStore) Load(ctx context.Context, battleID string) (Battle, error) {
	return s.get(ctx, s.rdb, battleID)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisBattleStore) get(ctx context.Context, c redisGetter, battleID string) (Battle, error) {
	val, err := c.Get(ctx, s.key(battleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Battle{}, notFound("battle %s not found", battleID)
	}
	if err != nil {
		return Battle{}, fmt.Errorf("redis get battle %s: %w", battleID, err)
	}
	var b Battle
	if err := json.Unmarshal(val, &b); err != nil {
		return Battle{}, fmt.Errorf("unmarshal battle %s: %w", battleID, err)
	}
	return b, nil
}

func (s *RedisBattleStore) Mutate(ctx context.Context, battleID string, fn MutateFunc) (Battle, error) {
	key := s.key(battleID)
	for attempt := 0; attempt < redisMutateRetries; attempt++ {
		var result Battle
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.get(ctx, tx, battleID)
			if err != nil {
				return err
			}
			next, changed, err := fn(cur)
			if err != nil {
				return err
			}
			if !changed {
				result = cur
				return nil
			}
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal battle: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				if next.Status == StatusFinished {
					for _, userID := range next.PlayerIDs {
						pipe.SRem(ctx, s.userKey(userID), battleID)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Battle{}, err
		}
		return result, nil
	}
	return Battle{}, fmt.Errorf("mutate battle %s: %w", battleID, ErrConflict)
}

func (s *RedisBattleStore) ListActiveByUser(ctx context.Context, userID string) ([]Battle, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list battles of %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget battles: %w", err)
	}

	var out []Battle
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired; drop the stale index entry
			s.rdb.SRem(ctx, s.userKey(userID), ids[i])
			continue
		}
		var b Battle
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("unmarshal battle %s: %w", ids[i], err)
		}
		if b.Status == StatusActive && b.IsParticipant(userID) {
			out = append(out, b)
		}
	}
	sortByCreated(out)
	return out, nil
}
