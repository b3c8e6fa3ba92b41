package metrics

// Label 指标标签。键使用小写加下划线，避免高基数的值（用户 ID、请求 ID 等）。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
