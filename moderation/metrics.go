package moderation

const (
	MetricFramesReceived  = "moderation_frames_received_total"
	MetricFramesDiscarded = "moderation_frames_discarded_total"
	MetricViewing         = "moderation_viewing_events"

	LabelType   = "type"
	LabelReason = "reason"
)
