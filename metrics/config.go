package metrics

// Config 指标系统配置
//
//	metrics:
//	  enabled: true
//	  service_name: "modlink"
//	  version: "v0.1.0"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// Port 大于 0 时启动 Prometheus HTTP 服务
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "modlink"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
