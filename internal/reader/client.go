package reader

import (
	"context"
	"time"
)

// Client 抽取式问答模型客户端接口
// 负责从给定的上下文文本中抽取问题的答案片段
type Client interface {
	// Extract 从上下文中抽取答案
	// 返回候选答案列表，按置信度降序排列
	Extract(ctx context.Context, question string, passage string, opts ...ExtractOption) ([]RawAnswer, error)

	// Name 返回模型名称
	Name() string
}

// RawAnswer 模型返回的原始答案
// Start/End是答案在上下文中的rune位置，左闭右开
type RawAnswer struct {
	Answer string  `json:"answer"` // 答案原文
	Score  float64 `json:"score"`  // 置信度得分
	Start  int     `json:"start"`  // 答案起始位置
	End    int     `json:"end"`    // 答案结束位置
}

// Config 问答客户端配置
type Config struct {
	APIKey     string        // API密钥
	Endpoint   string        // 推理服务端点
	Model      string        // 模型名称
	TopK       int           // 每个上下文返回的候选答案数量
	Timeout    time.Duration // 请求超时时间
	MaxRetries int           // 最大重试次数
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Model:      "deepset/roberta-base-squad2",
		TopK:       5,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Option 客户端配置选项函数类型
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithEndpoint 设置推理服务端点
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTopK 设置候选答案数量
func WithTopK(topK int) Option {
	return func(c *Config) {
		if topK > 0 {
			c.TopK = topK
		}
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ExtractOption 单次抽取请求的选项
type ExtractOption func(*ExtractOptions)

// ExtractOptions 单次抽取请求的选项集合
type ExtractOptions struct {
	TopK *int // 覆盖本次请求的候选答案数量
}

// WithExtractTopK 设置本次抽取的候选答案数量
func WithExtractTopK(topK int) ExtractOption {
	return func(o *ExtractOptions) {
		o.TopK = &topK
	}
}

// Factory 问答客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

// 全局注册的问答客户端工厂函数
var clientFactories = make(map[string]Factory)

// RegisterClient 注册问答客户端工厂函数
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// NewClient 根据名称创建问答客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, NewReaderError(
			ErrCodeInvalidRequest,
			"reader client type not registered: "+name)
	}
	return factory(opts...)
}
