package metrics

import "strconv"

// 跨组件统一的标签键
const (
	LabelService     = "service"
	LabelOperation   = "operation"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatusClass = "status_class"
	LabelOutcome     = "outcome"
)

const (
	OperationHTTPClient = "http.client"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const UnknownRoute = "unknown"

// HTTPStatusClass 返回 "2xx"、"4xx" 等；status 为 0（网络错误）或越界时返回 "unknown"
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 2xx/3xx 视为成功
func HTTPOutcome(status int) string {
	if status >= 200 && status < 400 {
		return OutcomeSuccess
	}
	return OutcomeError
}
