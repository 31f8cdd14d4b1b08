package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/cerebro/internal/config"
)

const namespace = "cerebro"

// Provider owns the tracer/meter providers and the Prometheus collectors.
// All recording methods are safe on a nil *Provider.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	backendLatencyHist *promreg.HistogramVec
	invocationCounter  *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("cerebro"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		if err := provider.registerMetrics(registry); err != nil {
			return nil, err
		}
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)
	}

	return provider, nil
}

// NewMetricsOnly registers the collectors on registry without touching the
// global OpenTelemetry providers. Used by tests and one-shot tools.
func NewMetricsOnly(registry *promreg.Registry) (*Provider, error) {
	p := &Provider{}
	if err := p.registerMetrics(registry); err != nil {
		return nil, err
	}
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return p, nil
}

func (p *Provider) registerMetrics(registry *promreg.Registry) error {
	latencyBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30}

	p.httpRequestCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	p.httpRequestLatency = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	p.backendLatencyHist = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of inference backend calls, retries included.",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "outcome"},
	)
	p.invocationCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Handler invocations by status code and error kind.",
		},
		[]string{"status", "kind"},
	)

	for _, c := range []promreg.Collector{p.httpRequestCounter, p.httpRequestLatency, p.backendLatencyHist, p.invocationCounter} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}
	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordBackendCall observes one backend call. outcome is "ok" or a backend error code.
func (p *Provider) RecordBackendCall(provider, outcome string, duration time.Duration) {
	if p == nil || p.backendLatencyHist == nil {
		return
	}
	p.backendLatencyHist.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordInvocation counts a finished handler invocation.
func (p *Provider) RecordInvocation(status int, kind string) {
	if p == nil || p.invocationCounter == nil {
		return
	}
	p.invocationCounter.WithLabelValues(strconv.Itoa(status), kind).Inc()
}
