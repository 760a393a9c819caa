package duel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playquickdraw/backend/internal/models"
)

func setupStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, 50, 100), client
}

func storedMatch(id string) *models.Match {
	now := time.Now().UnixMilli()
	return &models.Match{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Stake:     5000,
		FeeBps:    250,
		PlayerA:   "alice",
		PaidA:     true,
		TxA:       "tx-create",
		Phase:     models.PhaseLobby,
	}
}

func TestStoreGetUnknownID(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.Get(context.Background(), "NOSUCH")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCreateAndGet(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	m := storedMatch("MATCH1")
	require.NoError(t, s.Create(ctx, m))

	got, err := s.Get(ctx, "MATCH1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Stake, got.Stake)
	assert.Equal(t, m.UpdatedAt, got.UpdatedAt)

	// Creation also indexes the match as open and in the creator's history.
	ids, err := s.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"MATCH1"}, ids)

	hist, err := s.HistoryIDs(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"MATCH1"}, hist)
}

func TestStoreCreateDuplicate(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, storedMatch("MATCH1")))
	err := s.Create(ctx, storedMatch("MATCH1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStoreCompareAndSwap(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	m := storedMatch("MATCH1")
	require.NoError(t, s.Create(ctx, m))

	prev := m.UpdatedAt
	m.ReadyA = true
	m.UpdatedAt = prev + 1
	require.NoError(t, s.CompareAndSwap(ctx, m, prev))

	got, err := s.Get(ctx, "MATCH1")
	require.NoError(t, err)
	assert.True(t, got.ReadyA)
	assert.Equal(t, prev+1, got.UpdatedAt)
}

func TestStoreCASConflictLosesExactlyOnce(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	m := storedMatch("MATCH1")
	require.NoError(t, s.Create(ctx, m))
	prev := m.UpdatedAt

	// Two writers race from the same snapshot version.
	w1 := *m
	w1.ReadyA = true
	w1.UpdatedAt = prev + 1

	w2 := *m
	w2.ReadyB = true
	w2.UpdatedAt = prev + 2

	require.NoError(t, s.CompareAndSwap(ctx, &w1, prev))
	err := s.CompareAndSwap(ctx, &w2, prev)
	assert.ErrorIs(t, err, ErrVersionConflict, "second writer against a stale version must lose")

	// The loser re-reads and retries against the new version.
	fresh, err := s.Get(ctx, "MATCH1")
	require.NoError(t, err)
	fresh.ReadyB = true
	prev = fresh.UpdatedAt
	fresh.UpdatedAt = prev + 1
	require.NoError(t, s.CompareAndSwap(ctx, fresh, prev))

	got, err := s.Get(ctx, "MATCH1")
	require.NoError(t, err)
	assert.True(t, got.ReadyA, "first writer's mutation survives")
	assert.True(t, got.ReadyB, "retried mutation lands on top")
}

func TestStoreCASMissingRecord(t *testing.T) {
	s, _ := setupStore(t)
	m := storedMatch("GHOST")
	err := s.CompareAndSwap(context.Background(), m, m.UpdatedAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreOpenIndexOrderAndRemoval(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	older := storedMatch("OLD1")
	older.UpdatedAt = 1000
	newer := storedMatch("NEW1")
	newer.UpdatedAt = 2000
	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newer))

	ids, err := s.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW1", "OLD1"}, ids, "newest first")

	s.RemoveOpen(ctx, "NEW1")
	ids, err = s.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD1"}, ids)
}

func TestStoreHistoryIsBounded(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewStore(client, 3, 100)
	ctx := context.Background()

	for _, id := range []string{"M1", "M2", "M3", "M4", "M5"} {
		s.pushHistory(ctx, "alice", id)
	}

	ids, err := s.HistoryIDs(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"M5", "M4", "M3"}, ids, "trimmed to capacity, newest first")
}

func TestStoreGetManySkipsMissing(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, storedMatch("MATCH1")))

	matches, err := s.GetMany(ctx, []string{"MATCH1", "GONE"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "MATCH1", matches[0].ID)
}

func TestSettleLockMutualExclusion(t *testing.T) {
	_, client := setupStore(t)
	ctx := context.Background()

	lock, err := AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	require.NoError(t, err)

	_, err = AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	assert.ErrorIs(t, err, ErrLockBusy)

	// A different match is unaffected.
	other, err := AcquireSettleLock(ctx, client, "MATCH2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))

	// Released lock is reacquirable.
	again, err := AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestSettleLockReleaseIsGuarded(t *testing.T) {
	_, client := setupStore(t)
	ctx := context.Background()

	lock, err := AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	require.NoError(t, err)

	// Simulate expiry plus takeover by another settler.
	require.NoError(t, client.Del(ctx, lockKeyPrefix+"MATCH1").Err())
	takeover, err := AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	require.NoError(t, err)

	// The stale holder must not free the new holder's lock.
	assert.Error(t, lock.Release(ctx))
	_, err = AcquireSettleLock(ctx, client, "MATCH1", time.Minute)
	assert.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, takeover.Release(ctx))
}
