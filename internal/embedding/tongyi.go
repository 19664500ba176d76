package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultDashScopeEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/embeddings/text-embedding/text-embedding"
	defaultOpenAIEndpoint    = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"

	defaultTongyiModel = "text-embedding-v1"

	// v3模型单次最多10条文本，v1/v2为25条
	v3BatchLimit = 10
	v1BatchLimit = 25
)

// DashScopeRequest 通义千问原生接口的请求体
type DashScopeRequest struct {
	Model      string                `json:"model"`
	Input      DashScopeRequestInput `json:"input"`
	Parameters *DashScopeParameters  `json:"parameters,omitempty"`
}

type DashScopeRequestInput struct {
	Texts []string `json:"texts"`
}

type DashScopeParameters struct {
	Dimension  int    `json:"dimension,omitempty"`
	OutputType string `json:"output_type,omitempty"`
}

// TongyiClient 通义千问嵌入服务客户端
// 支持DashScope原生接口和OpenAI兼容接口两种协议
type TongyiClient struct {
	apiKey       string
	endpoint     string
	model        string
	httpClient   *http.Client
	maxRetries   int
	dimensions   int
	useOpenAIAPI bool
}

func init() {
	RegisterClient("tongyi", NewTongyiClient)
}

// NewTongyiClient 创建通义千问嵌入客户端
// BaseURL设为"openai"或"compatible"时走OpenAI兼容协议
func NewTongyiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	useOpenAIAPI := false
	switch endpoint {
	case "":
		endpoint = defaultDashScopeEndpoint
	case "openai", "compatible":
		endpoint = defaultOpenAIEndpoint
		useOpenAIAPI = true
	}

	model := cfg.Model
	if model == "" {
		model = defaultTongyiModel
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1024
	}

	return &TongyiClient{
		apiKey:       cfg.APIKey,
		endpoint:     endpoint,
		model:        model,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		maxRetries:   cfg.MaxRetries,
		dimensions:   dimensions,
		useOpenAIAPI: useOpenAIAPI,
	}, nil
}

// Name 返回模型名称
func (c *TongyiClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量
func (c *TongyiClient) Embed(ctx context.Context, text string) ([]float32, error) {
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

// EmbedBatch 批量生成向量，超出模型批量上限时直接报错
// 上层的批处理器负责按上限切分
func (c *TongyiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if c.isV3Model() && len(texts) > v3BatchLimit {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "text-embedding-v3 model supports maximum 10 texts per batch")
	}
	if !c.isV3Model() && len(texts) > v1BatchLimit {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "text-embedding-v1/v2 models support maximum 25 texts per batch")
	}

	if c.useOpenAIAPI {
		return c.embedBatchOpenAI(ctx, texts)
	}
	return c.embedBatchDashScope(ctx, texts)
}

// embedBatchOpenAI 通过OpenAI兼容接口生成向量
func (c *TongyiClient) embedBatchOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	reqData := map[string]interface{}{
		"model":           c.model,
		"input":           texts,
		"encoding_format": "float",
	}

	// 只有v3模型支持自定义维度
	if c.isV3Model() && c.dimensions != 1024 {
		if !isValidDimension(c.dimensions) {
			return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid dimension: %d", c.dimensions))
		}
		reqData["dimensions"] = c.dimensions
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := c.postJSON(ctx, reqData, &resp); err != nil {
		return nil, err
	}

	result := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		result[item.Index] = item.Embedding
	}
	return result, nil
}

// embedBatchDashScope 通过DashScope原生接口生成向量
func (c *TongyiClient) embedBatchDashScope(ctx context.Context, texts []string) ([][]float32, error) {
	reqData := DashScopeRequest{
		Model: c.model,
		Input: DashScopeRequestInput{Texts: texts},
	}

	if c.isV3Model() {
		params := &DashScopeParameters{OutputType: "dense"}
		if c.dimensions != 1024 {
			if !isValidDimension(c.dimensions) {
				return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid dimension: %d", c.dimensions))
			}
			params.Dimension = c.dimensions
		}
		reqData.Parameters = params
	}

	var resp struct {
		StatusCode int    `json:"status_code,omitempty"`
		RequestID  string `json:"request_id"`
		Code       string `json:"code,omitempty"`
		Message    string `json:"message,omitempty"`
		Output     struct {
			Embeddings []struct {
				Embedding []float32 `json:"embedding"`
				TextIndex int       `json:"text_index"`
			} `json:"embeddings"`
		} `json:"output"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := c.postJSON(ctx, reqData, &resp); err != nil {
		return nil, err
	}

	// status_code只在出错的响应里出现
	if resp.StatusCode != 0 && resp.StatusCode != 200 {
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("API error: %s (%s)", resp.Message, resp.Code))
	}

	embeddings := resp.Output.Embeddings
	if len(embeddings) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embeddings returned")
	}

	// 响应里的text_index对应输入顺序
	result := make([][]float32, len(texts))
	for _, emb := range embeddings {
		if emb.TextIndex < 0 || emb.TextIndex >= len(texts) {
			continue
		}
		result[emb.TextIndex] = emb.Embedding
	}
	return result, nil
}

// postJSON 发送请求并解析响应，5xx按指数退避重试
func (c *TongyiClient) postJSON(ctx context.Context, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		// 请求体每次重试都要重建，Body只能读一次
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
		if reqErr != nil {
			return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", reqErr))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			break
		}
		// 最后一次尝试的5xx响应留给下面解析错误详情
		if lastErr == nil && attempt < c.maxRetries {
			resp.Body.Close()
			resp = nil
		}
	}

	if resp == nil {
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil {
			if errResp.Error != "" {
				return NewEmbeddingError(ErrCodeServerError, errResp.Error)
			}
			if errResp.Message != "" {
				return NewEmbeddingError(ErrCodeServerError, errResp.Message)
			}
		}
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, respObj); err != nil {
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

func (c *TongyiClient) isV3Model() bool {
	return c.model == "text-embedding-v3"
}

// isValidDimension v3模型支持的维度档位
func isValidDimension(dim int) bool {
	switch dim {
	case 1024, 768, 512, 256, 128, 64:
		return true
	}
	return false
}
