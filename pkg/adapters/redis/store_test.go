package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver/pkg/adapters/redis"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newTestClient(t)
	ports.RunStateStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Minute), redis.WithPrefix("t:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", flow.NewContext("demo", "start")))
	require.True(t, mr.Exists("t:s1"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ports.ErrSessionNotFound)

	// The index prunes lazily on List.
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "s1")
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newTestClient(t)
	locker := redis.NewLocker(client, "t:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "session-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("t:lock:session-1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("t:lock:session-1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := newTestClient(t)
	locker := redis.NewLocker(client, "t:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "busy", 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = unlock(ctx) }()

	// Second holder times out while the first holds the lock.
	short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "busy", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_StaleUnlockIsNoop(t *testing.T) {
	mr, client := newTestClient(t)
	locker := redis.NewLocker(client, "t:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "s", 50*time.Millisecond)
	require.NoError(t, err)

	// Lock expires and someone else acquires it.
	mr.FastForward(time.Second)
	unlock2, err := locker.Lock(ctx, "s", 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = unlock2(ctx) }()

	// The first holder's unlock must not release the new lock.
	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("t:lock:s"))
}
