package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// MessagingMeta 描述标准化的消息属性。锁协议帧不携带追踪头，
// 接收端 Span 以本地上下文为父。
type MessagingMeta struct {
	System      string
	Destination string
	Operation   string
	MessageType string
	EventID     string
}

func normalizeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normalizeTracer(tracer oteltrace.Tracer) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer("modlink.trace")
	}
	return tracer
}

func messagingAttributes(meta MessagingMeta, attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+5)
	if meta.System != "" {
		out = append(out, attribute.String(AttrMessagingSystem, meta.System))
	}
	if meta.Destination != "" {
		out = append(out, attribute.String(AttrMessagingDestination, meta.Destination))
	}
	if meta.Operation != "" {
		out = append(out, attribute.String(AttrMessagingOperation, meta.Operation))
	}
	if meta.MessageType != "" {
		out = append(out, attribute.String(AttrMessageType, meta.MessageType))
	}
	if meta.EventID != "" {
		out = append(out, attribute.String(AttrEventID, meta.EventID))
	}
	return append(out, attrs...)
}

// StartProducerSpan 启动一个标准化的发送端 Span
func StartProducerSpan(
	ctx context.Context,
	tracer oteltrace.Tracer,
	meta MessagingMeta,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span) {
	ctx = normalizeContext(ctx)
	tracer = normalizeTracer(tracer)
	if meta.Operation == "" {
		meta.Operation = MessagingOperationSend
	}

	spanCtx, span := tracer.Start(ctx, SpanNameSend(meta.MessageType), oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
	span.SetAttributes(messagingAttributes(meta, attrs...)...)
	return spanCtx, span
}

// StartConsumerSpan 启动一个标准化的接收端 Span
func StartConsumerSpan(
	ctx context.Context,
	tracer oteltrace.Tracer,
	meta MessagingMeta,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span) {
	ctx = normalizeContext(ctx)
	tracer = normalizeTracer(tracer)
	if meta.Operation == "" {
		meta.Operation = MessagingOperationReceive
	}

	spanCtx, span := tracer.Start(ctx, SpanNameReceive(meta.MessageType), oteltrace.WithSpanKind(oteltrace.SpanKindConsumer))
	span.SetAttributes(messagingAttributes(meta, attrs...)...)
	return spanCtx, span
}

// MarkSpanError 记录并将 Span 标记为错误，当 err 不为 nil 时
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
