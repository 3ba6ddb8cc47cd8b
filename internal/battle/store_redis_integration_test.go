//go:build integration

package battle

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, rdb.Ping(ctx).Err(), "redis is not reachable")
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisBattleStore_SurvivesServiceRestart(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisClient(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())

	store := NewRedisBattleStore(rdb, time.Hour)
	env := testEnv(t0)
	now := t0
	deps := func() Deps {
		return Deps{
			Store:   store,
			Catalog: fakeCatalog{c: env.Catalog},
			Decks:   fakeDecks(env.Decks),
			Rand:    NewLockedRand(1, 1),
			Now:     func() time.Time { return now },
		}
	}

	svc1 := NewService(Config{Budgets: DefaultBudgets()}, deps())
	id, err := svc1.CreateBattle(ctx, "u1", []string{"u1", "u2"}, []string{"d1", "d2"})
	require.NoError(t, err)
	now = now.Add(6 * time.Second)
	timedOut, err := svc1.CheckPhaseTimeout(ctx, "u1", id)
	require.NoError(t, err)
	require.True(t, timedOut)
	require.NoError(t, svc1.SetPlayerReady(ctx, "u1", id, "u1"))

	// a fresh service sees the same state
	svc2 := NewService(Config{Budgets: DefaultBudgets()}, deps())
	b, err := svc2.GetBattle(ctx, "u2", id)
	require.NoError(t, err)
	assert.Equal(t, PhasePlayerAction, b.Phase)
	assert.True(t, b.Players[0].IsReady)
	assert.False(t, b.Players[1].IsReady)

	list, err := svc2.GetUserBattles(ctx, "u2", "u2")
	require.NoError(t, err)
	require.Len(t, list, 1)

	ttl, err := rdb.TTL(ctx, store.key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisBattleStore_MutateUnderContention(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisClient(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())

	store := NewRedisBattleStore(rdb, time.Hour)
	require.NoError(t, store.Create(ctx, storedBattle("b1", t0, "u1", "u2")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "b1", func(cur Battle) (Battle, bool, error) {
				cur.Round++
				return cur, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, b.Round)
}

func TestRedisBattleStore_FinishedLeavesUserIndex(t *testing.T) {
	ctx := context.Background()
	rdb := newRedisClient(t)
	require.NoError(t, rdb.FlushDB(ctx).Err())

	store := NewRedisBattleStore(rdb, time.Hour)
	require.NoError(t, store.Create(ctx, storedBattle("b1", t0, "u1", "u2")))

	_, err := store.Mutate(ctx, "b1", func(cur Battle) (Battle, bool, error) {
		cur.Status = StatusFinished
		return cur, true, nil
	})
	require.NoError(t, err)

	members, err := rdb.SMembers(ctx, store.userKey("u1")).Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
