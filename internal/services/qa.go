package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/cache"
	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/reader"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/fyerfyer/doc-classify-QA-system/internal/retriever"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"gorm.io/datatypes"
)

// NoAnswerMessage 没有找到答案时返回的提示信息
const NoAnswerMessage = "抱歉，我没有找到相关信息可以回答您的问题。"

// QAResult 问答结果
type QAResult struct {
	Question   string            `json:"question"`             // 提问内容
	Answers    []docstore.Answer `json:"answers"`              // 抽取出的答案，按置信度降序
	NoAnswer   bool              `json:"no_answer"`            // 是否没有找到答案
	Message    string            `json:"message,omitempty"`    // 无答案时的提示信息
	FromCache  bool              `json:"from_cache"`           // 是否命中缓存
	RecordID   string            `json:"record_id,omitempty"`  // 问答历史记录ID
	DurationMs int64             `json:"duration_ms"`          // 处理耗时（毫秒）
}

// QAService 问答服务
// 负责协调文档检索和答案抽取
type QAService struct {
	retriever   retriever.Retriever          // 文档检索器
	reader      *reader.Reader               // 答案抽取器
	cache       cache.Cache                  // 缓存
	history     repository.HistoryRepository // 问答历史存储（可选）
	cacheTTL    time.Duration                // 缓存有效期
	searchLimit int                          // 检索文档数量限制
	minScore    float64                      // 最低检索相关度分数
}

// QAOption 问答服务配置选项
type QAOption func(*QAService)

// NewQAService 创建问答服务实例
func NewQAService(
	ret retriever.Retriever,
	rd *reader.Reader,
	cache cache.Cache,
	opts ...QAOption,
) *QAService {
	// 创建服务实例
	service := &QAService{
		retriever:   ret,
		reader:      rd,
		cache:       cache,
		cacheTTL:    24 * time.Hour, // 默认缓存24小时
		searchLimit: 5,              // 默认检索5个相关文档
		minScore:    0,              // 默认不过滤检索分数
	}

	// 应用配置选项
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// WithCacheTTL 设置缓存时间
func WithCacheTTL(ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cacheTTL = ttl
	}
}

// WithSearchLimit 设置检索文档数量
func WithSearchLimit(limit int) QAOption {
	return func(s *QAService) {
		s.searchLimit = limit
	}
}

// WithMinScore 设置最低检索相关度分数
func WithMinScore(score float64) QAOption {
	return func(s *QAService) {
		s.minScore = score
	}
}

// WithHistory 设置问答历史存储
func WithHistory(history repository.HistoryRepository) QAOption {
	return func(s *QAService) {
		s.history = history
	}
}

// Answer 回答问题
func (s *QAService) Answer(ctx context.Context, question string) (*QAResult, error) {
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	cacheKey := cache.GenerateCacheKey("qa", question)
	return s.answer(ctx, question, cacheKey, nil, nil)
}

// AnswerWithLabel 在指定分类标签范围内回答问题
func (s *QAService) AnswerWithLabel(ctx context.Context, question string, labels ...string) (*QAResult, error) {
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels cannot be empty")
	}

	cacheKey := cache.GenerateCacheKey("qa_label", strings.Join(labels, ","), question)
	filters := map[string][]string{
		docstore.MetaClassificationKey + ".label": labels,
	}
	return s.answer(ctx, question, cacheKey, labels, filters)
}

// AnswerWithFilters 使用元数据过滤回答问题
// 过滤键支持点号路径，同一键下的多个取值为任一匹配
func (s *QAService) AnswerWithFilters(ctx context.Context, question string, filters map[string][]string) (*QAResult, error) {
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	cacheKey := cache.GenerateCacheKey("qa_meta", filtersKey(filters), question)
	return s.answer(ctx, question, cacheKey, nil, filters)
}

// Search 检索相关文档，不进行答案抽取
func (s *QAService) Search(ctx context.Context, query string, filters map[string][]string) ([]docstore.Document, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	opts := []retriever.Option{
		retriever.WithTopK(s.searchLimit),
		retriever.WithMinScore(s.minScore),
	}
	if len(filters) > 0 {
		opts = append(opts, retriever.WithFilters(filters))
	}

	return s.retriever.Retrieve(ctx, query, opts...)
}

// answer 执行问答流程：缓存检查、文档检索、答案抽取
func (s *QAService) answer(ctx context.Context, question string, cacheKey string, labels []string, filters map[string][]string) (*QAResult, error) {
	start := time.Now()

	// 1. 尝试从缓存获取
	if cached, found, err := s.cache.Get(cacheKey); err == nil && found {
		var result QAResult
		unmarshalErr := json.Unmarshal([]byte(cached), &result)
		if unmarshalErr == nil {
			result.FromCache = true
			result.DurationMs = time.Since(start).Milliseconds()
			s.recordHistory(question, &result, labels, filters)
			return &result, nil
		}
		// 解析失败就走完整流程，不影响主流程
		fmt.Printf("Failed to unmarshal cached answer: %v\n", unmarshalErr)
	}

	// 2. 检索相关文档
	opts := []retriever.Option{
		retriever.WithTopK(s.searchLimit),
		retriever.WithMinScore(s.minScore),
	}
	if len(filters) > 0 {
		opts = append(opts, retriever.WithFilters(filters))
	}

	docs, err := s.retriever.Retrieve(ctx, question, opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// 如果没有找到相关文档，返回没有找到的消息
	if len(docs) == 0 {
		result := s.noAnswerResult(question, start)
		s.cacheResult(cacheKey, result)
		s.recordHistory(question, result, labels, filters)
		return result, nil
	}

	// 3. 从检索结果中抽取答案
	answers, err := s.reader.Read(ctx, question, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to extract answers: %w", err)
	}

	// 如果没有抽取到答案，返回没有找到的消息
	if len(answers) == 0 {
		result := s.noAnswerResult(question, start)
		s.cacheResult(cacheKey, result)
		s.recordHistory(question, result, labels, filters)
		return result, nil
	}

	// 4. 构建结果并缓存
	result := &QAResult{
		Question:   question,
		Answers:    answers,
		DurationMs: time.Since(start).Milliseconds(),
	}
	s.cacheResult(cacheKey, result)
	s.recordHistory(question, result, labels, filters)

	return result, nil
}

// noAnswerResult 构建没有找到答案的结果
func (s *QAService) noAnswerResult(question string, start time.Time) *QAResult {
	return &QAResult{
		Question:   question,
		NoAnswer:   true,
		Message:    NoAnswerMessage,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// cacheResult 将问答结果以JSON形式写入缓存
func (s *QAService) cacheResult(cacheKey string, result *QAResult) {
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Printf("Failed to marshal answer for caching: %v\n", err)
		return
	}
	s.cache.Set(cacheKey, string(data), s.cacheTTL)
}

// recordHistory 将问答记录保存到历史存储
// 历史存储未配置或保存失败时不影响问答主流程
func (s *QAService) recordHistory(question string, result *QAResult, labels []string, filters map[string][]string) {
	if s.history == nil {
		return
	}

	record := &models.QueryRecord{
		Question:    question,
		AnswerCount: len(result.Answers),
		DurationMs:  result.DurationMs,
		FromCache:   result.FromCache,
		Labels:      strings.Join(labels, ","),
	}
	if len(result.Answers) > 0 {
		record.TopScore = result.Answers[0].Score
	}
	if len(filters) > 0 {
		if data, err := json.Marshal(filters); err == nil {
			record.Filters = datatypes.JSON(data)
		}
	}

	if err := s.history.CreateRecord(record); err != nil {
		fmt.Printf("Failed to save query record: %v\n", err)
		return
	}
	result.RecordID = record.ID

	// 保存答案明细
	if len(result.Answers) == 0 {
		return
	}
	answers := make([]*models.QueryAnswer, len(result.Answers))
	for i, ans := range result.Answers {
		answers[i] = &models.QueryAnswer{
			RecordID:   record.ID,
			Answer:     ans.Answer,
			Score:      ans.Score,
			Context:    ans.Context,
			DocumentID: ans.DocumentID,
			Position:   i,
		}
		if data, err := json.Marshal(map[string]docstore.Span{
			"in_document": ans.OffsetInDocument,
			"in_context":  ans.OffsetInContext,
		}); err == nil {
			answers[i].Offsets = datatypes.JSON(data)
		}
		if len(ans.Meta) > 0 {
			if data, err := json.Marshal(ans.Meta); err == nil {
				answers[i].Metadata = datatypes.JSON(data)
			}
		}
	}

	if err := s.history.SaveAnswers(answers); err != nil {
		fmt.Printf("Failed to save query answers: %v\n", err)
	}
}

// filtersKey 将过滤条件序列化为确定性的缓存键片段
func filtersKey(filters map[string][]string) string {
	if len(filters) == 0 {
		return ""
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(filters[k], "|"))
		sb.WriteString(";")
	}
	return sb.String()
}

// GetRecentQuestions 获取最近的提问
func (s *QAService) GetRecentQuestions(ctx context.Context, limit int) ([]string, error) {
	if s.history == nil {
		return []string{}, nil
	}

	records, err := s.history.GetRecentQuestions(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent questions: %w", err)
	}

	questions := make([]string, 0, len(records))
	for _, record := range records {
		questions = append(questions, record.Question)
	}
	return questions, nil
}

// ClearCache 清除问答缓存
func (s *QAService) ClearCache() error {
	return s.cache.Clear()
}
