package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
)

const (
	// 默认推理服务端点
	defaultHFEndpoint = "https://api-inference.huggingface.co"
)

// ZeroShotRequest 零样本分类请求结构
type ZeroShotRequest struct {
	Inputs     []string           `json:"inputs"`               // 待分类文本列表
	Parameters *ZeroShotParameters `json:"parameters,omitempty"` // 分类参数
	Options    *InferenceOptions  `json:"options,omitempty"`    // 推理选项
}

// ZeroShotParameters 零样本分类参数
type ZeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`      // 候选标签列表
	MultiLabel      bool     `json:"multi_label,omitempty"` // 是否允许多标签
}

// InferenceOptions 推理服务选项
type InferenceOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"` // 模型未加载时是否等待
}

// ZeroShotResult 零样本分类结果
// 标签与得分一一对应，按得分降序排列
type ZeroShotResult struct {
	Sequence string    `json:"sequence"` // 被分类的原始文本
	Labels   []string  `json:"labels"`   // 候选标签
	Scores   []float64 `json:"scores"`   // 各标签的置信度
}

// textClassResult 普通文本分类的单条结果
type textClassResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// HuggingFaceClient HuggingFace推理API分类客户端
// 支持托管推理服务和自建推理服务器（兼容相同的请求格式）
type HuggingFaceClient struct {
	apiKey     string       // API密钥
	endpoint   string       // 推理服务端点
	model      string       // 模型名称
	task       string       // 分类任务类型
	labels     []string     // 候选标签
	multiLabel bool         // 是否允许多标签
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
}

// NewHuggingFaceClient 创建HuggingFace分类客户端
func NewHuggingFaceClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 零样本分类必须提供候选标签
	if cfg.Task == TaskZeroShot && len(cfg.Labels) == 0 {
		return nil, NewClassifierError(ErrCodeEmptyLabels, ErrMsgEmptyLabels)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultHFEndpoint
	}

	client := &HuggingFaceClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      cfg.Model,
		task:       cfg.Task,
		labels:     cfg.Labels,
		multiLabel: cfg.MultiLabel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}

	return client, nil
}

// Name 返回模型名称
func (c *HuggingFaceClient) Name() string {
	return c.model
}

// Classify 对单条文本进行分类
func (c *HuggingFaceClient) Classify(ctx context.Context, text string, opts ...ClassifyOption) (*docstore.Classification, error) {
	if text == "" {
		return nil, NewClassifierError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	results, err := c.ClassifyBatch(ctx, []string{text}, opts...)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, NewClassifierError(ErrCodeServerError, "no classification results returned")
	}

	return &results[0], nil
}

// ClassifyBatch 批量对多条文本进行分类
// 结果顺序与输入文本顺序一致
func (c *HuggingFaceClient) ClassifyBatch(ctx context.Context, texts []string, opts ...ClassifyOption) ([]docstore.Classification, error) {
	if len(texts) == 0 {
		return []docstore.Classification{}, nil
	}

	for _, text := range texts {
		if text == "" {
			return nil, NewClassifierError(ErrCodeEmptyInput, ErrMsgEmptyInput)
		}
	}

	// 普通文本分类使用模型固定标签集，忽略本次请求的标签覆盖
	if c.task == TaskTextClassification {
		return c.classifyBatchText(ctx, texts)
	}

	labels := c.labels
	if o := NewClassifyOptions(opts...); len(o.Labels) > 0 {
		labels = o.Labels
	}
	return c.classifyBatchZeroShot(ctx, texts, labels)
}

// classifyBatchZeroShot 执行零样本分类请求
func (c *HuggingFaceClient) classifyBatchZeroShot(ctx context.Context, texts []string, labels []string) ([]docstore.Classification, error) {
	reqData := ZeroShotRequest{
		Inputs: texts,
		Parameters: &ZeroShotParameters{
			CandidateLabels: labels,
			MultiLabel:      c.multiLabel,
		},
		Options: &InferenceOptions{WaitForModel: true},
	}

	body, err := c.sendRequest(ctx, reqData)
	if err != nil {
		return nil, err
	}

	// 单条输入时服务可能返回单个对象而非数组
	var raw []ZeroShotResult
	if err := json.Unmarshal(body, &raw); err != nil {
		var single ZeroShotResult
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, NewClassifierError(ErrCodeServerError,
				fmt.Sprintf("failed to parse response: %v", err))
		}
		raw = []ZeroShotResult{single}
	}

	if len(raw) != len(texts) {
		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("expected %d results, got %d", len(texts), len(raw)))
	}

	results := make([]docstore.Classification, len(raw))
	for i, r := range raw {
		results[i] = docstore.Classification{
			Sequence: r.Sequence,
			Labels:   r.Labels,
			Scores:   r.Scores,
		}
		if results[i].Sequence == "" {
			results[i].Sequence = texts[i]
		}
		if len(r.Labels) > 0 {
			results[i].Label = r.Labels[0]
		}
	}

	return results, nil
}

// classifyBatchText 执行普通文本分类请求
// 服务对每条输入返回所有标签的得分列表
func (c *HuggingFaceClient) classifyBatchText(ctx context.Context, texts []string) ([]docstore.Classification, error) {
	reqData := struct {
		Inputs  []string          `json:"inputs"`
		Options *InferenceOptions `json:"options,omitempty"`
	}{
		Inputs:  texts,
		Options: &InferenceOptions{WaitForModel: true},
	}

	body, err := c.sendRequest(ctx, reqData)
	if err != nil {
		return nil, err
	}

	var raw [][]textClassResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", err))
	}

	if len(raw) != len(texts) {
		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("expected %d results, got %d", len(texts), len(raw)))
	}

	results := make([]docstore.Classification, len(raw))
	for i, items := range raw {
		// 按得分降序排列，保证首位是最高置信度标签
		sort.Slice(items, func(a, b int) bool {
			return items[a].Score > items[b].Score
		})

		c := docstore.Classification{Sequence: texts[i]}
		for _, item := range items {
			c.Labels = append(c.Labels, item.Label)
			c.Scores = append(c.Scores, item.Score)
		}
		if len(c.Labels) > 0 {
			c.Label = c.Labels[0]
		}
		results[i] = c
	}

	return results, nil
}

// sendRequest 发送推理请求并返回原始响应体
// 网络错误、5xx和模型加载中的503响应会按指数退避重试
func (c *HuggingFaceClient) sendRequest(ctx context.Context, reqData interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, NewClassifierError(ErrCodeInvalidRequest,
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
				return nil, NewClassifierError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
				// 等待后继续
			}
		}

		// 每次重试重新构建请求，避免请求体被消费后无法重发
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, NewClassifierError(ErrCodeInvalidRequest,
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
		return nil, NewClassifierError(ErrCodeNetworkError,
			fmt.Sprintf("request failed: %v", lastErr))
	}
	if resp == nil {
		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("request failed after %d retries", c.maxRetries))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewClassifierError(ErrCodeServerError,
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
			return nil, NewClassifierError(code, errResp.Error)
		}

		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	return body, nil
}

// 注册HuggingFace分类客户端
func init() {
	RegisterClient("huggingface", NewHuggingFaceClient)
}
