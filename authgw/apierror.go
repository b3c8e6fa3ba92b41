package authgw

import (
	"encoding/json"
	"fmt"

	"github.com/ceyewan/modlink/xerrors"
)

const (
	CodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	CodeAccountBanned    = "ACCOUNT_BANNED"

	defaultErrorMessage = "An error occurred"
)

// APIError 后端返回的非 2xx 响应
type APIError struct {
	Message string
	Code    string
	Status  int
	// Body 合法 JSON 的原始响应体（对象、数组或标量均保留）
	Body json.RawMessage
	// Raw 非 JSON 响应体（如网关返回的 HTML），与 Body 互斥
	Raw []byte
	// Err 按状态码归类的 xerrors 哨兵；后端给出 code 时外面再包一层 *xerrors.CodedError
	Err error

	verification bool
	banned       bool
}

type errorBody struct {
	Message              string `json:"message"`
	Error                string `json:"error"`
	Code                 string `json:"code"`
	RequiresVerification bool   `json:"requiresVerification"`
	Banned               bool   `json:"banned"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{
		Message: defaultErrorMessage,
		Status:  status,
		Err:     xerrors.FromStatus(status),
	}
	if len(body) == 0 {
		return e
	}
	if !json.Valid(body) {
		e.Raw = body
		return e
	}
	e.Body = json.RawMessage(body)

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		e.Code = eb.Code
		e.verification = eb.RequiresVerification
		e.banned = eb.Banned
		switch {
		case eb.Message != "":
			e.Message = eb.Message
		case eb.Error != "":
			e.Message = eb.Error
		}
	}
	if e.Code != "" {
		e.Err = &xerrors.CodedError{Code: e.Code, Cause: e.Err}
	}
	return e
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authgw: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("authgw: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// RequiresVerification 账号邮箱尚未验证
func (e *APIError) RequiresVerification() bool {
	return e.Code == CodeEmailNotVerified || e.verification
}

// IsAccountBanned 账号已被封禁
func (e *APIError) IsAccountBanned() bool {
	return e.Code == CodeAccountBanned || e.banned
}

// AsAPIError 从错误链中取出 *APIError
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	if xerrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
