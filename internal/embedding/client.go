package embedding

import (
	"context"
	"time"
)

// Client 文本向量化客户端接口
// 文档段落入库和查询语句检索共用同一个客户端
type Client interface {
	// Embed 生成单条文本的向量
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 批量生成向量，返回顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name 模型名称
	Name() string
}

// Config 向量化客户端配置
type Config struct {
	APIKey      string        // API密钥
	BaseURL     string        // API端点，空值使用各实现的默认端点
	Model       string        // 模型名称
	Timeout     time.Duration // 请求超时
	MaxRetries  int           // 最大重试次数
	Dimensions  int           // 输出向量维度
	BatchSize   int           // 单次请求的文本条数上限
	EnableCache bool          // 是否缓存向量结果
}

// DefaultConfig 返回默认配置，默认对接通义千问嵌入服务
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://dashscope.aliyuncs.com/api/v1/services/embeddings/text-embedding/text-embedding",
		Model:       "text-embedding-v1",
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		Dimensions:  1024,
		BatchSize:   16,
		EnableCache: false,
	}
}

// Option 配置选项
type Option func(*Config)

// NewConfig 应用选项生成配置
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) { c.APIKey = apiKey }
}

// WithBaseURL 设置API端点
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) Option {
	return func(c *Config) { c.MaxRetries = retries }
}

// WithDimensions 设置向量维度
func WithDimensions(dimensions int) Option {
	return func(c *Config) { c.Dimensions = dimensions }
}

// WithBatchSize 设置批量上限
func WithBatchSize(size int) Option {
	return func(c *Config) { c.BatchSize = size }
}

// WithCache 启用或禁用向量缓存
func WithCache(enable bool) Option {
	return func(c *Config) { c.EnableCache = enable }
}

// Factory 客户端实现的工厂函数
type Factory func(opts ...Option) (Client, error)

var clientFactories = make(map[string]Factory)

// RegisterClient 注册客户端实现，各实现在init中自注册
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// NewClient 按配置的提供方名称创建客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, NewEmbeddingError(
			ErrCodeInvalidRequest,
			"embedding client type not registered: "+name)
	}
	return factory(opts...)
}
