// Package metrics 基于 OpenTelemetry 提供指标能力，并通过 Prometheus 暴露。
//
// 组件只依赖 Meter 接口；未启用时 New 返回 noop 实现，调用方无需判空。
//
//	meter, _ := metrics.New(&metrics.Config{Enabled: true, Port: 9090})
//	defer meter.Shutdown(ctx)
//	counter, _ := meter.Counter("session_reconnects_total", "Number of scheduled reconnects")
//	counter.Inc(ctx, metrics.L("endpoint", "moderation"))
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/xerrors"
)

// ErrNilConfig 配置为空
var ErrNilConfig = xerrors.New("metrics: config is required")

// New 创建 Meter。Enabled 为 false 时返回 Discard()。
func New(cfg *Config, opts ...Option) (Meter, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if !cfg.Enabled {
		return Discard(), nil
	}
	cfg.setDefaults()

	o := &options{
		logger:     clog.Discard(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create resource")
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(o.registerer))
	if err != nil {
		return nil, xerrors.Wrap(err, "create prometheus exporter")
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m := &meterImpl{
		meter:    mp.Meter("github.com/ceyewan/modlink"),
		provider: mp,
		logger:   o.logger,
	}

	if cfg.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(cfg.Path, promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
		m.server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
		go func() {
			o.logger.Info("starting prometheus metrics server",
				clog.String("addr", m.server.Addr), clog.String("path", cfg.Path))
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				o.logger.Error("prometheus metrics server stopped", clog.Error(err))
			}
		}()
	}

	return m, nil
}

// Must 类似 New，但出错时 panic，仅用于初始化阶段
func Must(cfg *Config, opts ...Option) Meter {
	return xerrors.Must(New(cfg, opts...))
}

type meterImpl struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	server   *http.Server
	logger   clog.Logger
}

func (m *meterImpl) Counter(name string, desc string, opts ...MetricOption) (Counter, error) {
	mo := applyMetricOptions(opts)
	copts := []metric.Float64CounterOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		copts = append(copts, metric.WithUnit(mo.Unit))
	}
	c, err := m.meter.Float64Counter(name, copts...)
	if err != nil {
		return nil, err
	}
	return &counterImpl{c: c}, nil
}

func (m *meterImpl) Gauge(name string, desc string, opts ...MetricOption) (Gauge, error) {
	mo := applyMetricOptions(opts)
	gopts := []metric.Float64GaugeOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		gopts = append(gopts, metric.WithUnit(mo.Unit))
	}
	g, err := m.meter.Float64Gauge(name, gopts...)
	if err != nil {
		return nil, err
	}
	return &gaugeImpl{g: g, values: make(map[string]float64)}, nil
}

func (m *meterImpl) Histogram(name string, desc string, opts ...MetricOption) (Histogram, error) {
	mo := applyMetricOptions(opts)
	hopts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		hopts = append(hopts, metric.WithUnit(mo.Unit))
	}
	if len(mo.Buckets) > 0 {
		hopts = append(hopts, metric.WithExplicitBucketBoundaries(mo.Buckets...))
	}
	h, err := m.meter.Float64Histogram(name, hopts...)
	if err != nil {
		return nil, err
	}
	return &histogramImpl{h: h}, nil
}

func (m *meterImpl) Shutdown(ctx context.Context) error {
	var serverErr error
	if m.server != nil {
		serverErr = m.server.Shutdown(ctx)
	}
	return xerrors.Combine(serverErr, m.provider.Shutdown(ctx))
}

func applyMetricOptions(opts []MetricOption) *MetricOptions {
	mo := &MetricOptions{}
	for _, o := range opts {
		o(mo)
	}
	return mo
}

type counterImpl struct {
	c metric.Float64Counter
}

func (c *counterImpl) Inc(ctx context.Context, labels ...Label) {
	c.c.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
}

func (c *counterImpl) Add(ctx context.Context, val float64, labels ...Label) {
	c.c.Add(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

// gaugeImpl 在本地按标签组合保存当前值，以支持 Inc/Dec
type gaugeImpl struct {
	g      metric.Float64Gauge
	mu     sync.Mutex
	values map[string]float64
}

func (g *gaugeImpl) Set(ctx context.Context, val float64, labels ...Label) {
	g.update(ctx, labels, func(float64) float64 { return val })
}

func (g *gaugeImpl) Inc(ctx context.Context, labels ...Label) {
	g.update(ctx, labels, func(v float64) float64 { return v + 1 })
}

func (g *gaugeImpl) Dec(ctx context.Context, labels ...Label) {
	g.update(ctx, labels, func(v float64) float64 { return v - 1 })
}

func (g *gaugeImpl) update(ctx context.Context, labels []Label, fn func(float64) float64) {
	key := labelKey(labels)
	g.mu.Lock()
	val := fn(g.values[key])
	g.values[key] = val
	g.mu.Unlock()
	g.g.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

type histogramImpl struct {
	h metric.Float64Histogram
}

func (h *histogramImpl) Record(ctx context.Context, val float64, labels ...Label) {
	h.h.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels []Label) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, len(labels))
	for i, l := range labels {
		attrs[i] = attribute.String(l.Key, l.Value)
	}
	return attrs
}

func labelKey(labels []Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	return strings.Join(parts, "|")
}
