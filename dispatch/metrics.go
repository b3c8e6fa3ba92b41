package dispatch

const (
	MetricHandlerPanics = "dispatch_handler_panics_total"
	MetricEmitted       = "dispatch_events_emitted_total"

	LabelDispatcher = "dispatcher"
	LabelKind       = "kind"
)
