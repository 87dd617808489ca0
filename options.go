package continuum

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/index"
	"github.com/zero-day-ai/continuum/kvstore"
	"github.com/zero-day-ai/continuum/vectorstore"
)

// Option configures a System.
type Option func(*systemConfig)

// systemConfig holds construction-time settings for a System.
type systemConfig struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	backend       index.Backend
	overFetch     int
	kv            kvstore.Store
	vector        vectorstore.Store
	namespace     string
	policy        WeightPolicy
	clock         func() time.Time
	levelEncoders map[string]any
}

// WithLogger sets the logger used by the system, its levels and its index.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *systemConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *systemConfig) {
		c.tracer = tracer
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for the
// continuum.* instruments. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *systemConfig) {
		c.meterProvider = mp
	}
}

// WithIndexBackend selects the nearest-neighbour backend of the shared
// index. Defaults to an exact flat scan.
func WithIndexBackend(b index.Backend) Option {
	return func(c *systemConfig) {
		c.backend = b
	}
}

// WithOverFetch sets the index candidate multiplier applied before
// filtering. Defaults to 2.
func WithOverFetch(factor int) Option {
	return func(c *systemConfig) {
		c.overFetch = factor
	}
}

// WithKVStore enables key-value backed levels. The system takes ownership
// and closes the store in Close.
func WithKVStore(store kvstore.Store) Option {
	return func(c *systemConfig) {
		c.kv = store
	}
}

// WithVectorStore enables vector-store backed levels. The system takes
// ownership and closes the store in Close.
func WithVectorStore(store vectorstore.Store) Option {
	return func(c *systemConfig) {
		c.vector = store
	}
}

// WithNamespace prefixes persisted keys and collections. Defaults to "cms".
func WithNamespace(ns string) Option {
	return func(c *systemConfig) {
		c.namespace = ns
	}
}

// WithWeightPolicy sets the policy that supplies fusion weights when
// EncodeMultiLevel is called without explicit weights.
func WithWeightPolicy(p WeightPolicy) Option {
	return func(c *systemConfig) {
		c.policy = p
	}
}

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(c *systemConfig) {
		c.clock = now
	}
}

// WithLevelEncoder replaces the system encoder for one level. The payload
// type must match the System it is passed to; a mismatch fails New.
func WithLevelEncoder[T any](name string, enc encoder.Encoder[T]) Option {
	return func(c *systemConfig) {
		if c.levelEncoders == nil {
			c.levelEncoders = make(map[string]any)
		}
		c.levelEncoders[name] = enc
	}
}
