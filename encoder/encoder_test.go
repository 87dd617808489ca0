package encoder

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	ctx := context.Background()
	enc := NewHash[string](64, "fast")

	a, err := enc.Encode(ctx, "hello", nil)
	require.NoError(t, err)
	b, err := enc.Encode(ctx, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, 64, enc.Dimensions())
}

func TestHash_UnitLength(t *testing.T) {
	enc := NewHash[map[string]int](32, "")

	vec, err := enc.Encode(context.Background(), map[string]int{"a": 1, "b": 2}, nil)
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHash_SaltAndHintsChangeVector(t *testing.T) {
	ctx := context.Background()

	plain, err := NewHash[string](16, "a").Encode(ctx, "x", nil)
	require.NoError(t, err)

	salted, err := NewHash[string](16, "b").Encode(ctx, "x", nil)
	require.NoError(t, err)
	assert.NotEqual(t, plain, salted)

	hinted, err := NewHash[string](16, "a").Encode(ctx, "x", Context{"task": "review"})
	require.NoError(t, err)
	assert.NotEqual(t, plain, hinted)
}

func TestHash_DefaultDimensions(t *testing.T) {
	assert.Equal(t, 384, NewHash[string](0, "").Dimensions())
}

func TestHash_UnmarshalablePayload(t *testing.T) {
	enc := NewHash[func()](8, "")
	_, err := enc.Encode(context.Background(), func() {}, nil)
	require.Error(t, err)
}

func TestCached_ReusesEmbeddings(t *testing.T) {
	var calls atomic.Int32
	inner := Func[string]{
		Dims: 4,
		Fn: func(ctx context.Context, data string, ec Context) ([]float32, error) {
			calls.Add(1)
			return []float32{float32(len(data)), 0, 0, 1}, nil
		},
	}

	enc, err := NewCached[string](inner, 100)
	require.NoError(t, err)
	defer enc.Close()

	ctx := context.Background()
	first, err := enc.Encode(ctx, "abc", nil)
	require.NoError(t, err)
	enc.Wait()

	second, err := enc.Encode(ctx, "abc", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 4, enc.Dimensions())

	// Mutating a returned slice must not corrupt the cache
	second[0] = 99
	third, err := enc.Encode(ctx, "abc", nil)
	require.NoError(t, err)
	assert.Equal(t, float32(3), third[0])
}

func TestNewCached_NilInner(t *testing.T) {
	_, err := NewCached[string](nil, 10)
	require.Error(t, err)
}
