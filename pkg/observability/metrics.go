package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider bridges OpenTelemetry instruments to a Prometheus
// registry and owns the engine's fill/slippage/routing counters.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	fillsTotal             metric.Int64Counter
	slippageBps            metric.Float64Histogram
	alertsTotal            metric.Int64Counter
	routeDecisionLatencySec metric.Float64Histogram
	venueReliability       metric.Float64Gauge
	ordersActive           metric.Int64UpDownCounter
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	return mp, nil
}

func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	mp.fillsTotal, err = mp.meter.Int64Counter(
		"executor_fills_total",
		metric.WithDescription("total fills dispatched, by venue and algorithm"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	mp.slippageBps, err = mp.meter.Float64Histogram(
		"executor_slippage_bps",
		metric.WithDescription("realized slippage in basis points"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return err
	}

	mp.alertsTotal, err = mp.meter.Int64Counter(
		"executor_alerts_total",
		metric.WithDescription("total telemetry alerts raised, by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	mp.routeDecisionLatencySec, err = mp.meter.Float64Histogram(
		"router_decision_latency_seconds",
		metric.WithDescription("time to produce a routing decision"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5),
	)
	if err != nil {
		return err
	}

	mp.venueReliability, err = mp.meter.Float64Gauge(
		"venue_reliability_score",
		metric.WithDescription("current EWMA reliability score per venue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	mp.ordersActive, err = mp.meter.Int64UpDownCounter(
		"orders_active",
		metric.WithDescription("parent orders currently in a non-terminal state"),
		metric.WithUnit("1"),
	)
	return err
}

// RecordHTTPRequest records an HTTP request metric
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	}
	mp.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFill records a single venue fill.
func (mp *MetricsProvider) RecordFill(ctx context.Context, venueID, algorithm string) {
	if mp.fillsTotal == nil {
		return
	}
	mp.fillsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venueID),
		attribute.String("algorithm", algorithm),
	))
}

// RecordSlippage records realized slippage in basis points for an order.
func (mp *MetricsProvider) RecordSlippage(ctx context.Context, symbol string, bps float64) {
	if mp.slippageBps == nil {
		return
	}
	mp.slippageBps.Record(ctx, bps, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordAlert increments the alert counter for the given alert kind.
func (mp *MetricsProvider) RecordAlert(ctx context.Context, kind string) {
	if mp.alertsTotal == nil {
		return
	}
	mp.alertsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRouteDecisionLatency records how long a routing decision took.
func (mp *MetricsProvider) RecordRouteDecisionLatency(ctx context.Context, d time.Duration) {
	if mp.routeDecisionLatencySec == nil {
		return
	}
	mp.routeDecisionLatencySec.Record(ctx, d.Seconds())
}

// SetVenueReliability publishes the current reliability score for a venue.
func (mp *MetricsProvider) SetVenueReliability(ctx context.Context, venueID string, score float64) {
	if mp.venueReliability == nil {
		return
	}
	mp.venueReliability.Record(ctx, score, metric.WithAttributes(attribute.String("venue", venueID)))
}

// IncrementActiveOrders adjusts the active-order gauge.
func (mp *MetricsProvider) IncrementActiveOrders(ctx context.Context, delta int64) {
	if mp.ordersActive == nil {
		return
	}
	mp.ordersActive.Add(ctx, delta)
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
