package continuum

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/level"
)

// newFusionSystem gives levels a and b distinct encoders so fused vectors
// differ from either input.
func newFusionSystem(t *testing.T, opts ...Option) *System[string] {
	t.Helper()
	configs := []level.Config{level.NewConfig("a", 1, 0.1), level.NewConfig("b", 1, 0.1)}
	opts = append(opts, WithLevelEncoder[string]("b", encoder.NewHash[string](testDims, "salt-b")))
	return newTestSystem(t, configs, opts...)
}

func encodeAt(t *testing.T, sys *System[string], name, data string, ec encoder.Context) []float32 {
	t.Helper()
	lvl, ok := sys.Level(name)
	require.True(t, ok)
	vec, err := lvl.Encode(context.Background(), data, ec)
	require.NoError(t, err)
	return vec
}

func TestEncodeMultiLevel_SingleWeight(t *testing.T) {
	sys := newFusionSystem(t)

	got, err := sys.EncodeMultiLevel(context.Background(), "payload", nil, map[string]float64{"a": 1, "b": 0})
	require.NoError(t, err)

	want := encodeAt(t, sys, "a", "payload", nil)
	require.Len(t, got, testDims)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
}

func TestEncodeMultiLevel_ZeroWeightsFallBackToEqual(t *testing.T) {
	sys := newFusionSystem(t)
	ctx := context.Background()

	zero, err := sys.EncodeMultiLevel(ctx, "payload", nil, map[string]float64{"a": 0, "b": 0})
	require.NoError(t, err)

	a := encodeAt(t, sys, "a", "payload", nil)
	b := encodeAt(t, sys, "b", "payload", nil)
	for i := range zero {
		assert.False(t, math.IsNaN(float64(zero[i])))
		assert.InDelta(t, (a[i]+b[i])/2, zero[i], 1e-6)
	}

	empty, err := sys.EncodeMultiLevel(ctx, "payload", nil, map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, zero, empty)
}

func TestEncodeMultiLevel_DefaultPolicy(t *testing.T) {
	sys := newFusionSystem(t)
	ctx := context.Background()

	byPolicy, err := sys.EncodeMultiLevel(ctx, "payload", nil, nil)
	require.NoError(t, err)
	explicit, err := sys.EncodeMultiLevel(ctx, "payload", nil, map[string]float64{"a": 2, "b": 2})
	require.NoError(t, err)

	for i := range byPolicy {
		assert.InDelta(t, explicit[i], byPolicy[i], 1e-6)
	}
}

func TestEncodeMultiLevel_ContextWeights(t *testing.T) {
	sys := newFusionSystem(t, WithWeightPolicy(ContextWeights{}))
	ctx := context.Background()

	ec := encoder.Context{LevelWeightsKey: map[string]any{"b": 1.0, "a": 0}}
	got, err := sys.EncodeMultiLevel(ctx, "payload", ec, nil)
	require.NoError(t, err)

	want := encodeAt(t, sys, "b", "payload", ec)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
}

func TestEncodeMultiLevel_InvalidWeights(t *testing.T) {
	sys := newFusionSystem(t)

	for name, w := range map[string]float64{"negative": -1, "nan": math.NaN(), "inf": math.Inf(1)} {
		t.Run(name, func(t *testing.T) {
			_, err := sys.EncodeMultiLevel(context.Background(), "x", nil, map[string]float64{"a": w})
			assert.True(t, errors.Is(err, ErrInvalidWeights))
			assert.True(t, errors.Is(err, &Error{Kind: KindValidation}))
		})
	}
}

func TestEncodeMultiLevel_UnknownLevelIgnored(t *testing.T) {
	sys := newFusionSystem(t)
	ctx := context.Background()

	got, err := sys.EncodeMultiLevel(ctx, "payload", nil, map[string]float64{"a": 1, "ghost": 5})
	require.NoError(t, err)

	want := encodeAt(t, sys, "a", "payload", nil)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
}

func TestWeightPolicies(t *testing.T) {
	levels := []string{"a", "b"}

	assert.Equal(t, map[string]float64{"a": 1, "b": 1}, EqualWeights{}.Weights(nil, levels))

	ec := encoder.Context{LevelWeightsKey: map[string]float64{"a": 0.25}}
	assert.Equal(t, map[string]float64{"a": 0.25}, ContextWeights{}.Weights(ec, levels))

	mixed := encoder.Context{LevelWeightsKey: map[string]any{"a": 2, "b": float32(0.5), "c": "skip"}}
	assert.Equal(t, map[string]float64{"a": 2, "b": 0.5}, ContextWeights{}.Weights(mixed, levels))

	fallback := ContextWeights{Fallback: staticPolicy{"b": 3}}
	assert.Equal(t, map[string]float64{"b": 3}, fallback.Weights(encoder.Context{}, levels))
	assert.Equal(t, map[string]float64{"a": 1, "b": 1}, ContextWeights{}.Weights(nil, levels))
}

type staticPolicy map[string]float64

func (p staticPolicy) Weights(encoder.Context, []string) map[string]float64 { return p }
