package xerrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "dial"); err != nil {
		t.Errorf("Wrap(nil) = %v，期望 nil", err)
	}

	base := errors.New("connection refused")
	wrapped := Wrap(base, "dial")
	if wrapped.Error() != "dial: connection refused" {
		t.Errorf("Wrap(err).Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is(wrapped, base) = false，期望 true")
	}
}

func TestWrapf(t *testing.T) {
	if err := Wrapf(nil, "attempt %d", 3); err != nil {
		t.Errorf("Wrapf(nil) = %v，期望 nil", err)
	}

	wrapped := Wrapf(ErrTimeout, "attempt %d", 3)
	if wrapped.Error() != "attempt 3: timeout" {
		t.Errorf("Wrapf(err).Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("Wrapf 应保留错误链")
	}
}

func TestWithCode(t *testing.T) {
	if err := WithCode(nil, "CODE"); err != nil {
		t.Errorf("WithCode(nil) = %v，期望 nil", err)
	}

	coded := WithCode(errors.New("email not verified"), "EMAIL_NOT_VERIFIED")
	if coded.Error() != "[EMAIL_NOT_VERIFIED] email not verified" {
		t.Errorf("WithCode(err).Error() = %q", coded.Error())
	}
	if code := GetCode(Wrap(coded, "login")); code != "EMAIL_NOT_VERIFIED" {
		t.Errorf("GetCode(wrapped) = %q", code)
	}
	if code := GetCode(errors.New("plain")); code != "" {
		t.Errorf("GetCode(plain) = %q，期望空", code)
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusBadRequest, ErrInvalidInput},
		{http.StatusGatewayTimeout, ErrTimeout},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusBadGateway, ErrInternal},
		{http.StatusTeapot, nil},
		{http.StatusOK, nil},
	}
	for _, c := range cases {
		if got := FromStatus(c.status); got != c.want {
			t.Errorf("FromStatus(%d) = %v，期望 %v", c.status, got, c.want)
		}
	}
}

func TestMust(t *testing.T) {
	if v := Must(42, nil); v != 42 {
		t.Errorf("Must(42, nil) = %d，期望 42", v)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Must(_, err) 未触发 panic")
		}
	}()
	Must(0, errors.New("boom"))
}

func TestCombine(t *testing.T) {
	if err := Combine(nil, nil); err != nil {
		t.Errorf("Combine(nil, nil) = %v，期望 nil", err)
	}

	err1 := errors.New("close transport")
	if err := Combine(nil, err1); err != err1 {
		t.Errorf("Combine(nil, err1) = %v，期望 %v", err, err1)
	}

	err2 := errors.New("flush logger")
	combined := Combine(err1, err2)
	multi, ok := combined.(*MultiError)
	if !ok {
		t.Fatalf("Combine(err1, err2) 类型 = %T，期望 *MultiError", combined)
	}
	if len(multi.Errors) != 2 {
		t.Errorf("multi.Errors 长度 = %d，期望 2", len(multi.Errors))
	}
	if !errors.Is(combined, err1) || !errors.Is(combined, err2) {
		t.Error("MultiError 应能被 errors.Is 匹配到每个成员")
	}
	if combined.Error() != "close transport (and 1 more errors)" {
		t.Errorf("combined.Error() = %q", combined.Error())
	}
}
