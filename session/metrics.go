package session

const (
	MetricConnects      = "session_connects_total"
	MetricReconnects    = "session_reconnects_total"
	MetricFramesSent    = "session_frames_sent_total"
	MetricFramesDropped = "session_frames_dropped_total"
	MetricConnected     = "session_connected"

	LabelOutcome = "outcome"
	LabelType    = "type"
	LabelReason  = "reason"
)
