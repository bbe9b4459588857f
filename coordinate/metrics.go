package coordinate

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer and Meter singletons for this package.
var (
	tracer trace.Tracer
	meter  metric.Meter
)

// The instruments used in this package.
var (
	startupRetries  metric.Int64Counter
	shutdownOutcome metric.Int64Counter
)

// Attribute sets recorded on shutdownOutcome.
var (
	outcomeStopped     = metric.WithAttributes(attribute.String("outcome", "stopped"))
	outcomeDestroyed   = metric.WithAttributes(attribute.String("outcome", "destroyed"))
	outcomeLeftRunning = metric.WithAttributes(attribute.String("outcome", "left-running"))
)

// must is a panic-or-return helper for [init].
func must[T any](t T, err error) T {
	if err != nil {
		panic(err)
	}
	return t
}

func init() {
	tracer = otel.Tracer("github.com/quay/pgfixture/coordinate",
		trace.WithSchemaURL(semconv.SchemaURL),
	)
	meter = otel.Meter("github.com/quay/pgfixture/coordinate",
		metric.WithSchemaURL(semconv.SchemaURL),
	)
	startupRetries = must(meter.Int64Counter("pgfixture.coordinate.startup.retries",
		metric.WithDescription("Number of times the startup protocol found the resource neither locked nor running and retried after a jittered delay."),
	))
	shutdownOutcome = must(meter.Int64Counter("pgfixture.coordinate.shutdown.outcomes",
		metric.WithDescription("Shutdown protocol outcomes, by disposition of the resource."),
	))
}
