package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI嵌入向量客户端
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	maxRetries int            // 最大重试次数
	timeout    time.Duration  // 请求超时时间
	batchSize  int            // 单次请求的最大文本数量
	dimensions int            // 向量维度
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 验证API密钥
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	// 设置默认模型
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "text-embedding-v") {
		// 默认配置里写的是通义模型名，换成OpenAI的默认模型
		model = "text-embedding-3-small"
	}

	// 创建OpenAI客户端配置
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// 如果指定了自定义端点，则使用它
	if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "dashscope") {
		clientConfig.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		maxRetries: maxRetries,
		timeout:    cfg.Timeout,
		batchSize:  cfg.BatchSize,
		dimensions: cfg.Dimensions,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}

	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if c.batchSize > 0 && len(texts) > c.batchSize {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "batch size exceeds the configured limit")
	}

	// 创建嵌入请求
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimensions > 0 && c.model != "text-embedding-ada-002" {
		req.Dimensions = c.dimensions
	}

	// 带重试的批量嵌入请求
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return nil, NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateEmbeddings(timeoutCtx, req)
		cancel()

		if err == nil {
			// 按索引顺序提取嵌入向量
			embeddings := make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				embeddings[i] = data.Embedding
			}
			return embeddings, nil
		}

		lastErr = err

		// 速率限制错误等待后重试，其他错误直接返回
		if !isRateLimitError(err) {
			return nil, NewEmbeddingError(ErrCodeServerError, err.Error())
		}
	}

	return nil, NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited+": "+lastErr.Error())
}

// isRateLimitError 检查是否为速率限制错误
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
