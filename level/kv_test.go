package level

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/kvstore"
)

func setupKVStore(t *testing.T) (*kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kvstore.NewRedisStore(kvstore.RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 200 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
		WriteTimeout:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func newKVLevel(t *testing.T, cfg Config, store kvstore.Store) Level[string] {
	t.Helper()
	lvl, err := NewKV[string](cfg, testDims, encoder.NewHash[string](testDims, cfg.Name), store, WithClock(tickClock()))
	require.NoError(t, err)
	return lvl
}

func TestKVLevel_WriteThrough(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	lvl := newKVLevel(t, NewConfig("session", 1, 0.1), store)
	assert.Equal(t, KindKV, lvl.Kind())

	res, err := lvl.Update(ctx, "a", "alpha", 0.9)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	assert.True(t, mr.Exists("cms:session:a"))
	assert.Equal(t, time.Hour, mr.TTL("cms:session:a"))
	assert.True(t, lvl.Health(ctx).IsHealthy())
}

func TestKVLevel_TTL(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	daily := newKVLevel(t, NewConfig("daily", 1, 0.1), store)
	_, err := daily.Put(ctx, "a", "x", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, mr.TTL("cms:daily:a"))

	cfg := NewConfig("hourly", 1, 0.1)
	cfg.TTL = 5 * time.Minute
	hourly := newKVLevel(t, cfg, store)
	_, err = hourly.Put(ctx, "a", "x", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, mr.TTL("cms:hourly:a"))
}

func TestKVLevel_GetFallsThrough(t *testing.T) {
	ctx := context.Background()
	store, _ := setupKVStore(t)
	cfg := NewConfig("session", 1, 0.1)

	writer := newKVLevel(t, cfg, store)
	_, err := writer.Put(ctx, "a", "alpha", nil, 0.3)
	require.NoError(t, err)
	want, _ := writer.Get(ctx, "a")

	reader := newKVLevel(t, cfg, store)
	assert.Equal(t, 0, reader.Len())
	before := reader.Stats()

	got, ok := reader.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, want, got)

	entry, ok := reader.Metadata(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "alpha", entry.Payload)
	assert.Equal(t, 0.3, entry.Surprise)

	assert.Equal(t, before, reader.Stats(), "backend reads leave the level unchanged")
	assert.Equal(t, 0, reader.Len())
	assert.Empty(t, reader.Keys(ctx))
}

func TestKVLevel_UnserialisablePayloadKeepsBackend(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	lvl, err := NewKV[any](NewConfig("session", 1, 0.1), testDims, encoder.NewHash[any](testDims, ""), store,
		WithLogger(logger))
	require.NoError(t, err)

	emb := make([]float32, testDims)
	emb[0] = 1

	res, err := lvl.Put(ctx, "bad", make(chan int), emb, 0)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, mr.Exists("cms:session:bad"))

	_, err = lvl.Put(ctx, "good", "fine", emb, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cms:session:good"))

	assert.Contains(t, logs.String(), "write skipped")
	assert.NotContains(t, logs.String(), "degrading to memory")
	assert.Equal(t, 2, lvl.Len())
}

func TestKVLevel_EvictionDeletesFromBackend(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	cfg := NewConfig("session", 1, 0.1)
	cfg.Capacity = 1
	lvl := newKVLevel(t, cfg, store)

	_, err := lvl.Put(ctx, "a", "x", nil, 0)
	require.NoError(t, err)
	res, err := lvl.Put(ctx, "b", "y", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, res.Evicted)
	assert.False(t, mr.Exists("cms:session:a"))
	assert.True(t, mr.Exists("cms:session:b"))
}

func TestKVLevel_Rehydrate(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	cfg := NewConfig("session", 1, 0.1)
	writer := newKVLevel(t, cfg, store)
	for _, key := range []string{"a", "b", "c"} {
		_, err := writer.Put(ctx, key, key, nil, 0)
		require.NoError(t, err)
	}

	cfg.Capacity = 2
	reader := newKVLevel(t, cfg, store)
	recovered := reader.Rehydrate(ctx)

	require.Len(t, recovered, 2)
	assert.Equal(t, "b", recovered[0].Key)
	assert.Equal(t, "c", recovered[1].Key)
	assert.Len(t, recovered[0].Embedding, testDims)
	assert.Equal(t, []string{"b", "c"}, reader.Keys(ctx))
	assert.False(t, mr.Exists("cms:session:a"), "oldest record is dropped from the backend")
}

func TestKVLevel_ClearRemovesBackendCopies(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)

	other := newKVLevel(t, NewConfig("daily", 1, 0.1), store)
	_, err := other.Put(ctx, "keep", "x", nil, 0)
	require.NoError(t, err)

	lvl := newKVLevel(t, NewConfig("session", 1, 0.1), store)
	_, err = lvl.Put(ctx, "a", "x", nil, 0)
	require.NoError(t, err)
	lvl.Clear(ctx)

	assert.False(t, mr.Exists("cms:session:a"))
	assert.True(t, mr.Exists("cms:daily:keep"))
}

func TestKVLevel_SurvivesOutage(t *testing.T) {
	ctx := context.Background()
	store, mr := setupKVStore(t)
	lvl := newKVLevel(t, NewConfig("session", 1, 0.1), store)

	_, err := lvl.Put(ctx, "before", "x", nil, 0)
	require.NoError(t, err)

	mr.Close()

	res, err := lvl.Update(ctx, "during", "y", 0.9)
	require.NoError(t, err, "backend failures never surface")
	assert.True(t, res.Accepted)

	_, ok := lvl.Get(ctx, "during")
	assert.True(t, ok, "mirror keeps serving")
	_, ok = lvl.Get(ctx, "never-written")
	assert.False(t, ok)
	assert.True(t, lvl.Health(ctx).IsDegraded())

	require.NoError(t, mr.Restart())

	_, err = lvl.Put(ctx, "after", "z", nil, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cms:session:after"), "backend is probed again on the next call")
	assert.True(t, lvl.Health(ctx).IsHealthy())
}

func TestKVLevel_RehydrateUnreachable(t *testing.T) {
	store, mr := setupKVStore(t)
	lvl := newKVLevel(t, NewConfig("session", 1, 0.1), store)
	mr.Close()

	assert.Empty(t, lvl.Rehydrate(context.Background()))
}

func TestNewKV_RequiresStore(t *testing.T) {
	_, err := NewKV[string](NewConfig("session", 1, 0.1), testDims, encoder.NewHash[string](testDims, ""), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
