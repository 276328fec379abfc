// Package telemetry sets up an OpenTelemetry meter provider that exports
// engine metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultInterval is how often metrics are pushed to the collector.
const DefaultInterval = 10 * time.Second

// Config describes the collector and the reporting service.
type Config struct {
	// Endpoint is the collector address: grpc://host:port, grpcs://, http:// or
	// https://. A bare host:port means insecure gRPC.
	Endpoint string

	ServiceName    string
	ServiceVersion string
	InstanceID     string
	Interval       time.Duration
}

// Endpoint is a parsed collector address.
type Endpoint struct {
	Scheme string
	Host   string
}

// ParseEndpoint splits a collector address into scheme and host:port.
func ParseEndpoint(addr string) (Endpoint, error) {
	if addr == "" {
		return Endpoint{}, fmt.Errorf("empty collector address")
	}
	if !strings.Contains(addr, "://") {
		if !strings.Contains(addr, ":") || strings.Contains(addr, "/") {
			return Endpoint{}, fmt.Errorf("collector address %q is not host:port", addr)
		}
		return Endpoint{Scheme: "grpc", Host: addr}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to parse collector address %q: %w", addr, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("collector address %q is missing a host", addr)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "grpc", "grpcs", "http", "https":
	default:
		return Endpoint{}, fmt.Errorf("unsupported OTLP scheme %q in %s; use grpc, grpcs, http or https", u.Scheme, addr)
	}
	return Endpoint{Scheme: scheme, Host: u.Host}, nil
}

func newExporter(ctx context.Context, ep Endpoint) (sdkmetric.Exporter, error) {
	switch ep.Scheme {
	case "grpc":
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(ep.Host), otlpmetricgrpc.WithInsecure())
	case "grpcs":
		return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(ep.Host))
	case "http":
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(ep.Host), otlpmetrichttp.WithInsecure())
	default:
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(ep.Host))
	}
}

// NewProvider creates a meter provider pushing to cfg.Endpoint and installs it
// as the global provider. Callers shut it down to flush the last interval.
func NewProvider(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.ServiceInstanceID(cfg.InstanceID),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter (%s://%s): %w", ep.Scheme, ep.Host, err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}
