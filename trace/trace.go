package trace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/modlink/xerrors"
)

// 每个客户端进程一个实例 ID，区分同一审核员开的多个终端
var instanceID = uuid.NewString()

// Init 安装全局 TracerProvider 与 W3C TraceContext/Baggage 传播器，返回的函数在退出时刷新剩余 Span。
//
// Enabled 为 false 时 Provider 不挂导出器，但仍全量采样：锁通道握手照样携带 traceparent，
// 日志里的 trace_id 可以和服务端对上。
func Init(cfg *Config) (func(context.Context) error, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "config is required")
	}
	if cfg.Enabled {
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, "create resource")
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.Enabled {
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(5 * time.Second),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(context.Background(), opts...)
		if err != nil {
			return nil, xerrors.Wrap(err, "create otlp exporter")
		}
		tpOpts = append(tpOpts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))))
		if cfg.Batcher == "simple" {
			// 短命令（request / login）退出前同步导出
			tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
		} else {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		}
	} else {
		tpOpts = append(tpOpts, sdktrace.WithSampler(sdktrace.AlwaysSample()))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// newResource 描述本客户端进程：服务名、实例 ID、部署环境
func newResource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceInstanceIDKey.String(instanceID)}
	if cfg.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

func validateConfig(cfg *Config) error {
	if cfg.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "service_name is required")
	}
	if cfg.Endpoint == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "endpoint is required")
	}
	if cfg.Sampler < 0 || cfg.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sampler must be between 0 and 1, got %v", cfg.Sampler)
	}
	if cfg.Batcher != "" && cfg.Batcher != "batch" && cfg.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "batcher must be \"batch\" or \"simple\", got %q", cfg.Batcher)
	}
	return nil
}
