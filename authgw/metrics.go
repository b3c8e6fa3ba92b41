package authgw

const (
	MetricRequests        = "authgw_requests_total"
	MetricRequestDuration = "authgw_request_duration_seconds"
	MetricRefresh         = "authgw_refresh_total"
)

const (
	LabelResult = "result"

	ResultRefreshed = "refreshed"
	ResultExpired   = "expired"
	ResultFailed    = "failed"
)
