// Package telemetry sets up OpenTelemetry tracing for the gateway's inbound
// HTTP surface and its outbound platform and provider clients.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP/gRPC collector address, host:port.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Provider owns the tracer provider. A disabled Provider hands out no-op
// tracers and leaves handlers and transports unwrapped.
type Provider struct {
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
	shutdown   func(context.Context) error
	enabled    bool
}

// Setup builds a Provider exporting to the configured OTLP collector and
// installs it as the global tracer provider.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	p := newProvider(cfg, sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(p.propagator)
	return p, nil
}

func Disabled() *Provider {
	return &Provider{
		tp:       noop.NewTracerProvider(),
		shutdown: func(context.Context) error { return nil },
	}
}

func newProvider(cfg Config, exporter sdktrace.TracerProviderOption) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "storegate"
	}
	tp := sdktrace.NewTracerProvider(
		exporter,
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	return &Provider{
		tp: tp,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		shutdown: tp.Shutdown,
		enabled:  true,
	}
}

func newResource(cfg Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentNameKey.String(cfg.Environment),
	)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0 || ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func (p *Provider) Enabled() bool { return p.enabled }

func (p *Provider) Tracer(name string) trace.Tracer { return p.tp.Tracer(name) }

// Handler wraps h so every inbound request gets a server span.
func (p *Provider) Handler(h http.Handler, operation string) http.Handler {
	if !p.enabled {
		return h
	}
	return otelhttp.NewHandler(h, operation,
		otelhttp.WithTracerProvider(p.tp),
		otelhttp.WithPropagators(p.propagator),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Transport wraps base so outbound calls get client spans and propagate
// trace context.
func (p *Provider) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !p.enabled {
		return base
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(p.tp),
		otelhttp.WithPropagators(p.propagator),
	)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}
