package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveStreams     metric.Int64UpDownCounter
	EngineOperations  metric.Int64Counter
	EngineDuration    metric.Float64Histogram
	Liquidations      metric.Int64Counter
	LiquidatedDebt    metric.Float64Counter
	BadDebt           metric.Float64Counter
	PriceUpdates      metric.Int64Counter
	UnhealthyAccounts metric.Int64ObservableGauge

	unhealthy atomic.Int64
}

// Setup registers the instruments with the default Prometheus registry.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// SetupWithRegistry is Setup against a caller-owned registry. It leaves the
// global meter provider untouched.
func SetupWithRegistry(serviceName string, reg *promclient.Registry) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"dsc_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"dsc_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"dsc_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"dsc_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveStreams, err = meter.Int64UpDownCounter(
		"dsc_event_streams",
		metric.WithDescription("Number of open event stream connections"),
	)
	if err != nil {
		return nil, err
	}

	m.EngineOperations, err = meter.Int64Counter(
		"dsc_engine_operations_total",
		metric.WithDescription("Engine operations by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.EngineDuration, err = meter.Float64Histogram(
		"dsc_engine_operation_duration_seconds",
		metric.WithDescription("Engine operation latency in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.Liquidations, err = meter.Int64Counter(
		"dsc_liquidations_total",
		metric.WithDescription("Total number of successful liquidations"),
	)
	if err != nil {
		return nil, err
	}

	m.LiquidatedDebt, err = meter.Float64Counter(
		"dsc_liquidated_debt_total",
		metric.WithDescription("DSC debt repaid by liquidators"),
	)
	if err != nil {
		return nil, err
	}

	m.BadDebt, err = meter.Float64Counter(
		"dsc_bad_debt_total",
		metric.WithDescription("DSC debt left uncovered after liquidations"),
	)
	if err != nil {
		return nil, err
	}

	m.PriceUpdates, err = meter.Int64Counter(
		"dsc_price_updates_total",
		metric.WithDescription("Price refreshes by asset and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.UnhealthyAccounts, err = meter.Int64ObservableGauge(
		"dsc_unhealthy_accounts",
		metric.WithDescription("Accounts below the minimum health factor at the last scan"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.unhealthy.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementStreams(ctx context.Context) {
	m.ActiveStreams.Add(ctx, 1)
}

func (m *Metrics) DecrementStreams(ctx context.Context) {
	m.ActiveStreams.Add(ctx, -1)
}

// RecordOperation counts one engine command. outcome is "OK" or an error code.
func (m *Metrics) RecordOperation(ctx context.Context, op, outcome string, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.EngineOperations.Add(ctx, 1, labels)
	m.EngineDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordLiquidation(ctx context.Context, repaid, badDebt *uint256.Int) {
	m.Liquidations.Add(ctx, 1)
	if repaid != nil {
		m.LiquidatedDebt.Add(ctx, wholeUnits(repaid))
	}
	if badDebt != nil && !badDebt.IsZero() {
		m.BadDebt.Add(ctx, wholeUnits(badDebt))
	}
}

func (m *Metrics) RecordPriceUpdate(ctx context.Context, symbol string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.PriceUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("asset", symbol),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) SetUnhealthyAccounts(n int) {
	m.unhealthy.Store(int64(n))
}

// wholeUnits converts an 18-decimal DSC amount for the float counters.
func wholeUnits(v *uint256.Int) float64 {
	f, _ := decimal.NewFromBigInt(v.ToBig(), -18).Float64()
	return f
}
