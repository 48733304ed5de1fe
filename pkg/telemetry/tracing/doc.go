// Package tracing provides OpenTelemetry tracing for the control plane.
//
// Spans are exported over OTLP gRPC. When tracing is disabled the package
// hands out a noop tracer, so instrumented code is identical either way.
//
// # Usage
//
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "controlplane.Resolve")
//	tracing.SetRequestAttributes(span, firmID, operationType)
//	defer span.End()
package tracing
