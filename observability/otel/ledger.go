package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "moneymarket/lending"

// Ledger wraps ledger operations in spans and counts them on the global meter
// provider.
type Ledger struct {
	tracer     trace.Tracer
	operations metric.Int64Counter
	failures   metric.Int64Counter
}

// NewLedger resolves instruments from the currently installed global providers,
// so it must run after Init.
func NewLedger() (*Ledger, error) {
	meter := otel.Meter(instrumentationName)
	operations, err := meter.Int64Counter("lending.operations",
		metric.WithDescription("Ledger operations executed."))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("lending.operation.failures",
		metric.WithDescription("Ledger operations rejected with an error code."))
	if err != nil {
		return nil, err
	}
	return &Ledger{
		tracer:     otel.Tracer(instrumentationName),
		operations: operations,
		failures:   failures,
	}, nil
}

// Start opens a span for operation on pool. The returned finish function
// records the outcome; code is empty on success.
func (l *Ledger) Start(ctx context.Context, operation, pool string) (context.Context, func(code string)) {
	if l == nil {
		return ctx, func(string) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("lending.operation", operation),
	}
	if pool != "" {
		attrs = append(attrs, attribute.String("lending.pool", pool))
	}
	ctx, span := l.tracer.Start(ctx, "lending."+operation, trace.WithAttributes(attrs...))
	return ctx, func(code string) {
		l.operations.Add(ctx, 1, metric.WithAttributes(attrs...))
		if code != "" {
			span.SetAttributes(attribute.String("lending.error_code", code))
			l.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("lending.error_code", code))...))
		}
		span.End()
	}
}
