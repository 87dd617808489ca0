package continuum

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/zero-day-ai/continuum"

// telemetry holds the tracer and the metric instruments of one System.
type telemetry struct {
	tracer trace.Tracer

	// storeCount counts unconditional writes.
	storeCount metric.Int64Counter

	// updateAccepted and updateRejected split gated writes by outcome.
	updateAccepted metric.Int64Counter
	updateRejected metric.Int64Counter

	// retrieveCount counts per-level retrievals.
	retrieveCount metric.Int64Counter

	// retrieveResults records the number of hits per retrieval.
	retrieveResults metric.Int64Histogram
}

func newTelemetry(tracer trace.Tracer, mp metric.MeterProvider) (*telemetry, error) {
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tracer}
	var err error

	t.storeCount, err = meter.Int64Counter(
		"continuum.store.count",
		metric.WithDescription("Number of unconditional writes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store counter: %w", err)
	}

	t.updateAccepted, err = meter.Int64Counter(
		"continuum.update.accepted",
		metric.WithDescription("Number of gated updates kept by a level"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create accepted counter: %w", err)
	}

	t.updateRejected, err = meter.Int64Counter(
		"continuum.update.rejected",
		metric.WithDescription("Number of gated updates discarded by a level"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	t.retrieveCount, err = meter.Int64Counter(
		"continuum.retrieve.count",
		metric.WithDescription("Number of per-level retrievals"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieve counter: %w", err)
	}

	t.retrieveResults, err = meter.Int64Histogram(
		"continuum.retrieve.results",
		metric.WithDescription("Hits returned per retrieval"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create results histogram: %w", err)
	}

	return t, nil
}

func (t *telemetry) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// finish records err on the span, if any, and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func levelAttr(name string) attribute.KeyValue {
	return attribute.String("memory.level", name)
}
