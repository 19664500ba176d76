package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	// 默认推理服务端点
	defaultHFEndpoint = "https://api-inference.huggingface.co"
)

// QARequest 抽取式问答请求结构
type QARequest struct {
	Inputs     QAInputs          `json:"inputs"`               // 问题和上下文
	Parameters *QAParameters     `json:"parameters,omitempty"` // 抽取参数
	Options    *InferenceOptions `json:"options,omitempty"`    // 推理选项
}

// QAInputs 问答输入
type QAInputs struct {
	Question string `json:"question"` // 问题
	Context  string `json:"context"`  // 上下文文本
}

// QAParameters 抽取参数
type QAParameters struct {
	TopK int `json:"top_k,omitempty"` // 返回的候选答案数量
}

// InferenceOptions 推理服务选项
type InferenceOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"` // 模型未加载时是否等待
}

// qaResult 服务返回的单条答案
type qaResult struct {
	Answer string  `json:"answer"`
	Score  float64 `json:"score"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
}

// HuggingFaceClient HuggingFace推理API问答客户端
// 支持托管推理服务和自建推理服务器（兼容相同的请求格式）
type HuggingFaceClient struct {
	apiKey     string       // API密钥
	endpoint   string       // 推理服务端点
	model      string       // 模型名称
	topK       int          // 默认候选答案数量
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
}

// NewHuggingFaceClient 创建HuggingFace问答客户端
func NewHuggingFaceClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultHFEndpoint
	}

	client := &HuggingFaceClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      cfg.Model,
		topK:       cfg.TopK,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}

	return client, nil
}

// Name 返回模型名称
func (c *HuggingFaceClient) Name() string {
	return c.model
}

// Extract 从上下文中抽取答案
// 候选答案按置信度降序排列；找不到答案时模型返回空答案片段
func (c *HuggingFaceClient) Extract(ctx context.Context, question string, passage string, opts ...ExtractOption) ([]RawAnswer, error) {
	if question == "" {
		return nil, NewReaderError(ErrCodeEmptyQuestion, ErrMsgEmptyQuestion)
	}
	if passage == "" {
		return nil, NewReaderError(ErrCodeEmptyContext, ErrMsgEmptyContext)
	}

	options := &ExtractOptions{}
	for _, opt := range opts {
		opt(options)
	}

	topK := c.topK
	if options.TopK != nil {
		topK = *options.TopK
	}

	reqData := QARequest{
		Inputs: QAInputs{
			Question: question,
			Context:  passage,
		},
		Options: &InferenceOptions{WaitForModel: true},
	}
	if topK > 1 {
		reqData.Parameters = &QAParameters{TopK: topK}
	}

	body, err := c.sendRequest(ctx, reqData)
	if err != nil {
		return nil, err
	}

	// top_k为1时服务返回单个对象，大于1时返回数组
	var raw []qaResult
	if err := json.Unmarshal(body, &raw); err != nil {
		var single qaResult
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, NewReaderError(ErrCodeServerError,
				fmt.Sprintf("failed to parse response: %v", err))
		}
		raw = []qaResult{single}
	}

	answers := make([]RawAnswer, 0, len(raw))
	for _, r := range raw {
		answers = append(answers, RawAnswer{
			Answer: r.Answer,
			Score:  r.Score,
			Start:  r.Start,
			End:    r.End,
		})
	}

	// 保证按置信度降序排列
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].Score > answers[j].Score
	})

	return answers, nil
}

// sendRequest 发送推理请求并返回原始响应体
// 网络错误、5xx和模型加载中的503响应会按指数退避重试
func (c *HuggingFaceClient) sendRequest(ctx context.Context, reqData interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, NewReaderError(ErrCodeInvalidRequest,
			fmt.Sprintf("failed to marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s", c.endpoint, c.model)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return nil, NewReaderError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
				// 等待后继续
			}
		}

		// 每次重试重新构建请求，避免请求体被消费后无法重发
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, NewReaderError(ErrCodeInvalidRequest,
				fmt.Sprintf("failed to create request: %v", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, lastErr = c.httpClient.Do(req)
		if lastErr != nil {
			continue
		}

		// 429和5xx（含模型加载中的503）需要重试
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			resp = nil
			continue
		}

		break
	}

	if lastErr != nil {
		return nil, NewReaderError(ErrCodeNetworkError,
			fmt.Sprintf("request failed: %v", lastErr))
	}
	if resp == nil {
		return nil, NewReaderError(ErrCodeServerError,
			fmt.Sprintf("request failed after %d retries", c.maxRetries))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewReaderError(ErrCodeServerError,
			fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		// 尝试解析服务的错误响应
		var errResp struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			code := ErrCodeServerError
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				code = ErrCodeInvalidAPIKey
			case http.StatusBadRequest:
				code = ErrCodeInvalidRequest
			case http.StatusTooManyRequests:
				code = ErrCodeRateLimited
			}
			return nil, NewReaderError(code, errResp.Error)
		}

		return nil, NewReaderError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	return body, nil
}

// 注册HuggingFace问答客户端
func init() {
	RegisterClient("huggingface", NewHuggingFaceClient)
}
