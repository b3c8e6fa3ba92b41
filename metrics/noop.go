package metrics

import "context"

// Discard 返回不做任何事的 Meter，是组件未注入 Meter 时的默认值
func Discard() Meter {
	return noopMeter{}
}

type noopMeter struct{}

func (noopMeter) Counter(string, string, ...MetricOption) (Counter, error) {
	return noopCounter{}, nil
}

func (noopMeter) Gauge(string, string, ...MetricOption) (Gauge, error) {
	return noopGauge{}, nil
}

func (noopMeter) Histogram(string, string, ...MetricOption) (Histogram, error) {
	return noopHistogram{}, nil
}

func (noopMeter) Shutdown(context.Context) error { return nil }

type noopCounter struct{}

func (noopCounter) Inc(context.Context, ...Label)          {}
func (noopCounter) Add(context.Context, float64, ...Label) {}

type noopGauge struct{}

func (noopGauge) Set(context.Context, float64, ...Label) {}
func (noopGauge) Inc(context.Context, ...Label)          {}
func (noopGauge) Dec(context.Context, ...Label)          {}

type noopHistogram struct{}

func (noopHistogram) Record(context.Context, float64, ...Label) {}

// NewCounter 从 m 创建 Counter，m 为 nil 或创建失败时退化为 noop，调用方无需判空
func NewCounter(m Meter, name, desc string, opts ...MetricOption) Counter {
	if m != nil {
		if c, err := m.Counter(name, desc, opts...); err == nil && c != nil {
			return c
		}
	}
	return noopCounter{}
}

// NewGauge 同 NewCounter
func NewGauge(m Meter, name, desc string, opts ...MetricOption) Gauge {
	if m != nil {
		if g, err := m.Gauge(name, desc, opts...); err == nil && g != nil {
			return g
		}
	}
	return noopGauge{}
}

// NewHistogram 同 NewCounter
func NewHistogram(m Meter, name, desc string, opts ...MetricOption) Histogram {
	if m != nil {
		if h, err := m.Histogram(name, desc, opts...); err == nil && h != nil {
			return h
		}
	}
	return noopHistogram{}
}
