// Package otel wires OpenTelemetry tracing for ledger processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilnline/ledger/internal/platform/config"
)

// InstrumentationName is the tracer name used by ledger packages.
const InstrumentationName = "github.com/kilnline/ledger"

// Config selects the trace exporter. Fields load from KILNLINE_LEDGER_OTEL_*.
type Config struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
	Enabled  string `env:"OTEL_ENABLED"`
	// SampleRatio applies to root spans; children follow their parent.
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Validate checks the sample ratio range.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("otel sample ratio %v must be between 0 and 1", c.SampleRatio)
	}
	return nil
}

func (c Config) active() bool {
	return !strings.EqualFold(strings.TrimSpace(c.Enabled), "false") && strings.TrimSpace(c.Endpoint) != ""
}

// Setup registers a global tracer provider exporting over OTLP/HTTP.
// Without an endpoint, or with OTEL_ENABLED=false, it registers nothing and
// returns a shutdown that does nothing. Callers defer the returned shutdown
// so pending spans flush.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, config.EnvPrefix); err != nil {
		return noop, err
	}
	if !cfg.active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}

// Tracer returns the ledger tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
