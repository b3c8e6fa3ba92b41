// Package clock 抽象时间相关的能力（当前时间、延迟回调），便于用假时钟驱动重连与心跳测试。
package clock

import "time"

// Clock 是会话层依赖的平台时间能力
type Clock interface {
	Now() time.Time
	// AfterFunc 在 d 之后于独立的 goroutine 中调用 f
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 是 AfterFunc 返回的可取消句柄
type Timer interface {
	// Stop 取消尚未触发的回调，返回 false 表示回调已触发或已取消
	Stop() bool
}

// Real 使用标准库实现 Clock
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
