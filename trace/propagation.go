package trace

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectHTTP 把追踪上下文写入 HTTP 请求头（WebSocket 握手使用）
func InjectHTTP(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(normalizeContext(ctx), propagation.HeaderCarrier(header))
}

// ExtractHTTP 从 HTTP 请求头还原追踪上下文（服务端处理握手时使用）
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(normalizeContext(ctx), propagation.HeaderCarrier(header))
}
