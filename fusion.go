package continuum

import (
	"math"

	"github.com/zero-day-ai/continuum/encoder"
)

// LevelWeightsKey is the encoder.Context key read by ContextWeights.
const LevelWeightsKey = "level_weights"

// WeightPolicy supplies fusion weights when EncodeMultiLevel is called
// without explicit weights.
type WeightPolicy interface {
	Weights(ec encoder.Context, levels []string) map[string]float64
}

// EqualWeights gives every level weight 1.
type EqualWeights struct{}

// Weights implements WeightPolicy.
func (EqualWeights) Weights(_ encoder.Context, levels []string) map[string]float64 {
	w := make(map[string]float64, len(levels))
	for _, name := range levels {
		w[name] = 1
	}
	return w
}

// ContextWeights reads weights from ec["level_weights"], accepting either
// map[string]float64 or map[string]any with numeric values. Without usable
// hints it defers to Fallback, or to EqualWeights when Fallback is nil.
type ContextWeights struct {
	Fallback WeightPolicy
}

// Weights implements WeightPolicy.
func (p ContextWeights) Weights(ec encoder.Context, levels []string) map[string]float64 {
	if w := weightsFromContext(ec); len(w) > 0 {
		return w
	}
	if p.Fallback != nil {
		return p.Fallback.Weights(ec, levels)
	}
	return EqualWeights{}.Weights(ec, levels)
}

func weightsFromContext(ec encoder.Context) map[string]float64 {
	switch raw := ec[LevelWeightsKey].(type) {
	case map[string]float64:
		return raw
	case map[string]any:
		w := make(map[string]float64, len(raw))
		for name, v := range raw {
			switch n := v.(type) {
			case float64:
				w[name] = n
			case float32:
				w[name] = float64(n)
			case int:
				w[name] = float64(n)
			case int64:
				w[name] = float64(n)
			}
		}
		return w
	}
	return nil
}

// validWeight rejects negative and NaN weights. Infinite weights are also
// refused since they cannot be normalised.
func validWeight(w float64) bool {
	return w >= 0 && !math.IsInf(w, 1)
}

// fuse returns sum(w_i * v_i) / sum(w_i). vecs and weights are parallel.
func fuse(dims int, vecs [][]float32, weights []float64) []float32 {
	var total float64
	for _, w := range weights {
		total += w
	}

	acc := make([]float64, dims)
	for i, vec := range vecs {
		for j, x := range vec {
			acc[j] += weights[i] * float64(x)
		}
	}

	out := make([]float32, dims)
	for j := range acc {
		out[j] = float32(acc[j] / total)
	}
	return out
}
