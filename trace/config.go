package trace

// Config 链路追踪配置
type Config struct {
	// Enabled 为 false 时只安装不导出的 Provider（仍生成 TraceID 供日志关联）
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Sampler     float64 `json:"sampler" yaml:"sampler" mapstructure:"sampler"`
	Batcher     string  `json:"batcher" yaml:"batcher" mapstructure:"batcher"`
	Insecure    bool    `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
	// Environment 写入 deployment.environment，例如 staging / production
	Environment string `json:"environment" yaml:"environment" mapstructure:"environment"`
}

// DefaultConfig 返回默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Endpoint:    "localhost:4317",
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}
