package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span attributes feeding metrics must stay bounded. Never add bucket names,
// object IDs, attribute names, transfer IDs or error messages as attributes;
// those belong in logs, which carry trace and span IDs for correlation.
//
// Bounded attributes used here:
// - direction ("upload", "download")
// - status ("success", "error", "cancelled")
// - transport ("memory", "s3", "putio")
// - component ("database", "transport", "transfer")

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := statusOf(err)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentTransportOperation instruments calls into a transport.
func (t *Telemetry) InstrumentTransportOperation(ctx context.Context, transport, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "transport_"+operation, "transport", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, "transport_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("transport.type", transport),
			attribute.String("transport.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordTransportOperation(transport, operation, statusOf(err))

	return err
}

// InstrumentTransfer instruments one transfer from start to terminal state.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, direction string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.AddActiveTransfers(direction, 1)
	defer t.AddActiveTransfers(direction, -1)

	err := t.InstrumentOperation(ctx, "transfer_"+direction, "transfer", fn)

	t.RecordTransfer(direction, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
