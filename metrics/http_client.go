package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/modlink/xerrors"
)

const (
	MetricHTTPClientRequestTotal    = "http_client_requests_total"
	MetricHTTPClientDurationSeconds = "http_client_request_duration_seconds"
)

var defaultHTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPClientMetricsConfig 出站 HTTP 请求的 RED 指标配置
type HTTPClientMetricsConfig struct {
	Service             string
	RequestTotalName    string
	RequestDurationName string
	DurationBuckets     []float64
	StaticLabels        []Label
}

func DefaultHTTPClientMetricsConfig(service string) *HTTPClientMetricsConfig {
	return &HTTPClientMetricsConfig{
		Service:             service,
		RequestTotalName:    MetricHTTPClientRequestTotal,
		RequestDurationName: MetricHTTPClientDurationSeconds,
		DurationBuckets:     defaultHTTPDurationBuckets,
	}
}

// HTTPClientMetrics 记录出站请求次数与耗时
type HTTPClientMetrics struct {
	service      string
	requestTotal Counter
	duration     Histogram
	staticLabels []Label
}

func NewHTTPClientMetrics(m Meter, cfg *HTTPClientMetricsConfig) (*HTTPClientMetrics, error) {
	if m == nil {
		return nil, xerrors.New("meter is nil")
	}
	if cfg == nil {
		cfg = DefaultHTTPClientMetricsConfig("")
	}

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "unknown"
	}
	totalName := strings.TrimSpace(cfg.RequestTotalName)
	if totalName == "" {
		totalName = MetricHTTPClientRequestTotal
	}
	durationName := strings.TrimSpace(cfg.RequestDurationName)
	if durationName == "" {
		durationName = MetricHTTPClientDurationSeconds
	}

	counter, err := m.Counter(totalName, "Total number of outbound HTTP requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create http client request counter")
	}

	hopts := []MetricOption{WithUnit("s")}
	if len(cfg.DurationBuckets) > 0 {
		hopts = append(hopts, WithBuckets(cfg.DurationBuckets))
	}
	duration, err := m.Histogram(durationName, "Outbound HTTP request duration in seconds.", hopts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create http client duration histogram")
	}

	return &HTTPClientMetrics{
		service:      service,
		requestTotal: counter,
		duration:     duration,
		staticLabels: append([]Label(nil), cfg.StaticLabels...),
	}, nil
}

// Observe 记录一次出站请求；网络错误时 status 传 0
func (m *HTTPClientMetrics) Observe(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = UnknownRoute
	}

	labels := make([]Label, 0, len(m.staticLabels)+6)
	labels = append(labels, m.staticLabels...)
	labels = append(labels,
		L(LabelService, m.service),
		L(LabelOperation, OperationHTTPClient),
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	)

	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, d.Seconds(), labels...)
}
