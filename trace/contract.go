package trace

const (
	// Messaging 语义属性键
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"
	AttrMessageType          = "messaging.message.type"
	AttrEventID              = "moderation.event_id"
)

const (
	MessagingSystemWebSocket = "websocket"
)

const (
	MessagingOperationSend    = "send"
	MessagingOperationReceive = "receive"
)

// SpanNameSend 返回发送帧的标准 Span Name
func SpanNameSend(messageType string) string {
	if messageType == "" {
		return "ws.send"
	}
	return "ws.send " + messageType
}

// SpanNameReceive 返回接收帧的标准 Span Name
func SpanNameReceive(messageType string) string {
	if messageType == "" {
		return "ws.receive"
	}
	return "ws.receive " + messageType
}
