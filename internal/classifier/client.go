package classifier

import (
	"context"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
)

// 默认候选标签
// 未指定标签时使用的兜底类目
var DefaultLabels = []string{"music", "natural language processing", "history"}

// 分类任务类型
const (
	// TaskZeroShot 零样本分类：标签由调用方任意指定，无需针对性训练
	TaskZeroShot = "zero-shot-classification"
	// TaskTextClassification 普通文本分类：使用模型自带的固定标签集
	TaskTextClassification = "text-classification"
)

// Client 文档分类模型客户端接口
// 负责调用外部推理服务为文本打标签
type Client interface {
	// Classify 对单条文本进行分类
	Classify(ctx context.Context, text string, opts ...ClassifyOption) (*docstore.Classification, error)

	// ClassifyBatch 批量对多条文本进行分类
	ClassifyBatch(ctx context.Context, texts []string, opts ...ClassifyOption) ([]docstore.Classification, error)

	// Name 返回模型名称
	Name() string
}

// ClassifyOption 单次分类请求的选项
type ClassifyOption func(*ClassifyOptions)

// ClassifyOptions 单次分类请求的选项集合
type ClassifyOptions struct {
	Labels []string // 覆盖本次请求的候选标签
}

// WithClassifyLabels 设置本次请求的候选标签
// 零样本分类的标签由调用方指定，空列表时沿用客户端默认标签
func WithClassifyLabels(labels ...string) ClassifyOption {
	return func(o *ClassifyOptions) {
		o.Labels = labels
	}
}

// NewClassifyOptions 合并单次请求选项
func NewClassifyOptions(opts ...ClassifyOption) *ClassifyOptions {
	o := &ClassifyOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config 分类客户端配置
type Config struct {
	APIKey     string        // API密钥
	Endpoint   string        // 推理服务端点
	Model      string        // 模型名称
	Task       string        // 分类任务类型
	Labels     []string      // 候选标签列表
	MultiLabel bool          // 是否允许多标签（各标签得分独立）
	BatchSize  int           // 批处理大小
	Timeout    time.Duration // 请求超时时间
	MaxRetries int           // 最大重试次数
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Model:      "cross-encoder/nli-distilroberta-base",
		Task:       TaskZeroShot,
		Labels:     DefaultLabels,
		BatchSize:  16,
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

// WithTask 设置分类任务类型
func WithTask(task string) Option {
	return func(c *Config) {
		c.Task = task
	}
}

// WithLabels 设置候选标签列表
func WithLabels(labels []string) Option {
	return func(c *Config) {
		if len(labels) > 0 {
			c.Labels = labels
		}
	}
}

// WithMultiLabel 设置是否允许多标签
func WithMultiLabel(multiLabel bool) Option {
	return func(c *Config) {
		c.MultiLabel = multiLabel
	}
}

// WithBatchSize 设置批处理大小
func WithBatchSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.BatchSize = size
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

// Factory 分类客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

// 全局注册的分类客户端工厂函数
var clientFactories = make(map[string]Factory)

// RegisterClient 注册分类客户端工厂函数
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// NewClient 根据名称创建分类客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, NewClassifierError(
			ErrCodeInvalidRequest,
			"classifier client type not registered: "+name)
	}
	return factory(opts...)
}
