package continuum

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/continuum/kvstore"
	"github.com/zero-day-ai/continuum/level"
	"github.com/zero-day-ai/continuum/vectorstore"
)

func newRedisStore(t *testing.T, mr *miniredis.Miniredis) *kvstore.RedisStore {
	t.Helper()
	store, err := kvstore.NewRedisStore(kvstore.RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 200 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
		WriteTimeout:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	return store
}

func newChromemStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemOptions{})
	require.NoError(t, err)
	return store
}

func TestPersistence_BackendSelection(t *testing.T) {
	mr := miniredis.RunT(t)
	sys := newTestSystem(t, DefaultLevels(),
		WithKVStore(newRedisStore(t, mr)),
		WithVectorStore(newChromemStore(t)),
	)

	kinds := map[string]level.Kind{}
	for _, name := range sys.Levels() {
		lvl, _ := sys.Level(name)
		kinds[name] = lvl.Kind()
	}
	assert.Equal(t, map[string]level.Kind{
		"session":    level.KindKV,
		"daily":      level.KindKV,
		"historical": level.KindVector,
		"domain":     level.KindVector,
	}, kinds)
}

func TestPersistence_Rehydration(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	vectors := newChromemStore(t)

	first, err := New[string](ctx, testDims, DefaultLevels(), newTestEncoder(),
		WithKVStore(newRedisStore(t, mr)),
		WithVectorStore(vectors),
		WithNamespace("test"),
	)
	require.NoError(t, err)

	require.NoError(t, first.Store(ctx, "session", "s1", "login from 10.0.0.5", nil))
	require.NoError(t, first.Store(ctx, "domain", "d1", "CVE-2024-3094 xz backdoor", nil))
	require.NoError(t, first.Store(ctx, "domain", "d2", "CVE-2021-44228 log4shell", nil))
	assert.True(t, mr.Exists("test:session:s1"))

	second := newTestSystem(t, DefaultLevels(),
		WithKVStore(newRedisStore(t, mr)),
		WithVectorStore(vectors),
		WithNamespace("test"),
	)

	stats := second.Stats()
	assert.Equal(t, 3, stats.IndexSize)
	assert.Equal(t, 1, stats.Levels["session"].MemorySize)
	assert.Equal(t, 2, stats.Levels["domain"].MemorySize)

	hits, err := second.Retrieve(ctx, "CVE-2021-44228 log4shell", "domain", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].Key)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, "CVE-2021-44228 log4shell", hits[0].Entry.Payload)
}

func TestPersistence_OutageDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	sys := newTestSystem(t, DefaultLevels(), WithKVStore(newRedisStore(t, mr)))

	require.NoError(t, sys.Store(ctx, "session", "before", "x", nil))
	mr.Close()

	require.NoError(t, sys.Store(ctx, "session", "during", "y", nil))
	ok, err := sys.UpdateLevel(ctx, "session", "gated", "z", 0.9)
	require.NoError(t, err)
	assert.True(t, ok)

	hits, err := sys.Retrieve(ctx, "y", "session", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "during", hits[0].Key)

	status := sys.Health(ctx)
	assert.True(t, status.IsDegraded())
}

func TestPersistence_UnreachableAtStartup(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newRedisStore(t, mr)
	mr.Close()

	sys := newTestSystem(t, DefaultLevels(), WithKVStore(store))
	assert.Equal(t, 0, sys.Stats().IndexSize)
	require.NoError(t, sys.Store(context.Background(), "daily", "k", "x", nil))
}
