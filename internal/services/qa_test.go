package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/doc-classify-QA-system/internal/cache"
	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/fyerfyer/doc-classify-QA-system/internal/reader"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/fyerfyer/doc-classify-QA-system/internal/retriever"
)

// TestQAServiceAnswer 测试基本问答流程
func TestQAServiceAnswer(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	readerClient.On("Extract", mock.Anything, "what is a vector database", mock.Anything).
		Return(func(ctx context.Context, question string, passage string) []reader.RawAnswer {
			if passage == "a vector database stores embeddings for similarity search" {
				return []reader.RawAnswer{
					{Answer: "stores embeddings", Score: 0.92, Start: 18, End: 35},
				}
			}
			return []reader.RawAnswer{}
		}, nil)

	ctx := context.Background()
	result, err := qaService.Answer(ctx, "what is a vector database")
	require.NoError(t, err)

	assert.False(t, result.NoAnswer)
	assert.False(t, result.FromCache)
	require.NotEmpty(t, result.Answers)
	assert.Equal(t, "stores embeddings", result.Answers[0].Answer)
	assert.Equal(t, 0.92, result.Answers[0].Score)
	assert.Equal(t, "doc1", result.Answers[0].DocumentID)
	assert.NotEmpty(t, result.Answers[0].Context)
}

// TestQAServiceAnswerCached 测试问答结果缓存
func TestQAServiceAnswerCached(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]reader.RawAnswer{
			{Answer: "similarity search", Score: 0.8, Start: 39, End: 56},
		}, nil)

	ctx := context.Background()
	question := "what does a vector database support"

	first, err := qaService.Answer(ctx, question)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	extractCalls := countCalls(readerClient, "Extract")

	// 第二次提问应该命中缓存，不再调用抽取模型
	second, err := qaService.Answer(ctx, question)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, len(first.Answers), len(second.Answers))
	assert.Equal(t, extractCalls, countCalls(readerClient, "Extract"),
		"cached answer should not trigger extraction")

	// 清除缓存后重新走完整流程
	require.NoError(t, qaService.ClearCache())
	third, err := qaService.Answer(ctx, question)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Greater(t, countCalls(readerClient, "Extract"), extractCalls)
}

// TestQAServiceCorruptedCacheEntry 测试缓存内容损坏时回退到完整流程
func TestQAServiceCorruptedCacheEntry(t *testing.T) {
	store, err := docstore.NewMemoryStore(docstore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedQADocuments(t, store)

	ret, err := retriever.NewBM25Retriever(store)
	require.NoError(t, err)

	readerClient := new(reader.MockClient)
	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]reader.RawAnswer{
			{Answer: "similarity search", Score: 0.8, Start: 39, End: 56},
		}, nil)
	rd := reader.NewReader(readerClient, reader.WithMaxWorkers(1))

	memoryCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	qaService := NewQAService(ret, rd, memoryCache, WithSearchLimit(5))

	// 预先写入无法解析的缓存内容
	question := "what does a vector database support"
	cacheKey := cache.GenerateCacheKey("qa", question)
	require.NoError(t, memoryCache.Set(cacheKey, "{not valid json", time.Minute))

	result, err := qaService.Answer(context.Background(), question)
	require.NoError(t, err)
	assert.False(t, result.FromCache, "corrupted cache entry should not be served")
	require.NotEmpty(t, result.Answers)
	assert.Greater(t, countCalls(readerClient, "Extract"), 0)
}

// TestQAServiceNoAnswer 测试没有找到相关文档时的回复
func TestQAServiceNoAnswer(t *testing.T) {
	qaService, _ := setupQATestEnv(t, nil)

	ctx := context.Background()
	result, err := qaService.Answer(ctx, "quantum chromodynamics")
	require.NoError(t, err)

	assert.True(t, result.NoAnswer)
	assert.Equal(t, NoAnswerMessage, result.Message)
	assert.Empty(t, result.Answers)
}

// TestQAServiceNoAnswerFromReader 测试检索到文档但抽取不出答案的情况
func TestQAServiceNoAnswerFromReader(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]reader.RawAnswer{}, nil)

	ctx := context.Background()
	result, err := qaService.Answer(ctx, "vector database")
	require.NoError(t, err)

	assert.True(t, result.NoAnswer)
	assert.Equal(t, NoAnswerMessage, result.Message)
}

// TestQAServiceAnswerWithLabel 测试按分类标签范围问答
func TestQAServiceAnswerWithLabel(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, question string, passage string) []reader.RawAnswer {
			return []reader.RawAnswer{
				{Answer: passage[:7], Score: 0.7, Start: 0, End: 7},
			}
		}, nil)

	ctx := context.Background()

	// finance标签下没有包含查询词的文档
	result, err := qaService.AnswerWithLabel(ctx, "vector database", "finance")
	require.NoError(t, err)
	assert.True(t, result.NoAnswer)

	// tech标签下可以找到
	result, err = qaService.AnswerWithLabel(ctx, "vector database", "tech")
	require.NoError(t, err)
	assert.False(t, result.NoAnswer)
	for _, ans := range result.Answers {
		assert.Equal(t, "doc1", ans.DocumentID)
	}

	// 标签为空时报错
	_, err = qaService.AnswerWithLabel(ctx, "vector database")
	assert.Error(t, err)
}

// TestQAServiceAnswerWithFilters 测试按元数据过滤问答
func TestQAServiceAnswerWithFilters(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]reader.RawAnswer{
			{Answer: "report", Score: 0.6, Start: 10, End: 16},
		}, nil)

	ctx := context.Background()
	filters := map[string][]string{"source": {"report.pdf"}}

	result, err := qaService.AnswerWithFilters(ctx, "annual report revenue", filters)
	require.NoError(t, err)
	assert.False(t, result.NoAnswer)
	for _, ans := range result.Answers {
		assert.Equal(t, "doc3", ans.DocumentID)
	}
}

// TestQAServiceSearch 测试仅检索不抽取
func TestQAServiceSearch(t *testing.T) {
	qaService, readerClient := setupQATestEnv(t, nil)

	ctx := context.Background()
	docs, err := qaService.Search(ctx, "vector database", nil)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	// 检索结果携带相关度得分
	_, hasScore := docs[0].Meta["_score"]
	assert.True(t, hasScore)

	// 仅检索时不应调用抽取模型
	readerClient.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)

	_, err = qaService.Search(ctx, "", nil)
	assert.Error(t, err)
}

// TestQAServiceEmptyQuestion 测试空问题校验
func TestQAServiceEmptyQuestion(t *testing.T) {
	qaService, _ := setupQATestEnv(t, nil)

	ctx := context.Background()
	_, err := qaService.Answer(ctx, "")
	assert.Error(t, err)

	_, err = qaService.AnswerWithLabel(ctx, "", "tech")
	assert.Error(t, err)

	_, err = qaService.AnswerWithFilters(ctx, "", nil)
	assert.Error(t, err)
}

// TestQAServiceHistoryRecording 测试问答历史记录
func TestQAServiceHistoryRecording(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.QueryRecord{}, &models.QueryAnswer{}))

	historyRepo := repository.NewHistoryRepositoryWithDB(db)
	qaService, readerClient := setupQATestEnv(t, historyRepo)

	readerClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]reader.RawAnswer{
			{Answer: "stores embeddings", Score: 0.92, Start: 18, End: 35},
		}, nil)

	ctx := context.Background()
	result, err := qaService.Answer(ctx, "what is a vector database")
	require.NoError(t, err)
	require.NotEmpty(t, result.RecordID)

	// 验证记录内容
	record, err := historyRepo.GetRecord(result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "what is a vector database", record.Question)
	assert.Equal(t, len(result.Answers), record.AnswerCount)
	assert.Equal(t, 0.92, record.TopScore)
	assert.False(t, record.FromCache)

	// 验证答案明细
	answers, err := historyRepo.GetAnswers(result.RecordID)
	require.NoError(t, err)
	require.Len(t, answers, len(result.Answers))
	assert.Equal(t, "stores embeddings", answers[0].Answer)
	assert.Equal(t, 0, answers[0].Position)

	// 命中缓存的提问同样留下记录
	cached, err := qaService.Answer(ctx, "what is a vector database")
	require.NoError(t, err)
	assert.True(t, cached.FromCache)

	records, total, err := historyRepo.ListRecords(0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)

	// 最近提问
	questions, err := qaService.GetRecentQuestions(ctx, 5)
	require.NoError(t, err)
	assert.Contains(t, questions, "what is a vector database")
}

// TestQAServiceFiltersKey 测试过滤条件缓存键的确定性
func TestQAServiceFiltersKey(t *testing.T) {
	a := filtersKey(map[string][]string{
		"source": {"a.pdf"},
		"classification.label": {"tech", "finance"},
	})
	b := filtersKey(map[string][]string{
		"classification.label": {"tech", "finance"},
		"source": {"a.pdf"},
	})
	assert.Equal(t, a, b, "key should not depend on map iteration order")
	assert.Empty(t, filtersKey(nil))
}

// setupQATestEnv 构建问答服务测试环境
// 使用内存文档存储、文本相关度检索器和模拟抽取客户端
func setupQATestEnv(t *testing.T, history repository.HistoryRepository) (*QAService, *reader.MockClient) {
	store, err := docstore.NewMemoryStore(docstore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seedQADocuments(t, store)

	ret, err := retriever.NewBM25Retriever(store)
	require.NoError(t, err)

	readerClient := new(reader.MockClient)
	rd := reader.NewReader(readerClient, reader.WithMaxWorkers(1))

	memoryCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	opts := []QAOption{WithSearchLimit(5)}
	if history != nil {
		opts = append(opts, WithHistory(history))
	}

	return NewQAService(ret, rd, memoryCache, opts...), readerClient
}

// seedQADocuments 写入测试文档
func seedQADocuments(t *testing.T, store docstore.Store) {
	docs := []docstore.Document{
		{
			ID:      "doc1",
			Content: "a vector database stores embeddings for similarity search",
			Meta: map[string]interface{}{
				"source": "intro.txt",
				"classification": map[string]interface{}{"label": "tech"},
			},
		},
		{
			ID:      "doc2",
			Content: "interest rates influence the bond market",
			Meta: map[string]interface{}{
				"source": "market.txt",
				"classification": map[string]interface{}{"label": "finance"},
			},
		},
		{
			ID:      "doc3",
			Content: "the annual report lists revenue by segment",
			Meta: map[string]interface{}{
				"source": "report.pdf",
				"classification": map[string]interface{}{"label": "finance"},
			},
		},
	}

	written, err := store.WriteDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, len(docs), written)
}

// countCalls 统计mock方法的调用次数
func countCalls(m *reader.MockClient, method string) int {
	count := 0
	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}
