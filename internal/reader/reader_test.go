package reader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "deepset/roberta-base-squad2", cfg.Model)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestClientRegistry(t *testing.T) {
	client, err := NewClient("huggingface", WithAPIKey("key"))
	require.NoError(t, err)
	assert.Equal(t, "deepset/roberta-base-squad2", client.Name())

	_, err = NewClient("unknown")
	var readerErr ReaderError
	require.ErrorAs(t, err, &readerErr)
	assert.Equal(t, ErrCodeInvalidRequest, readerErr.Code)
}

func TestExtract(t *testing.T) {
	passage := "The Eiffel Tower was completed in 1889 and stands in Paris."

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/deepset/roberta-base-squad2", r.URL.Path)

		var req QARequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "When was the Eiffel Tower completed?", req.Inputs.Question)
		assert.Equal(t, passage, req.Inputs.Context)

		json.NewEncoder(w).Encode([]qaResult{
			{Answer: "1889", Score: 0.97, Start: 37, End: 41},
			{Answer: "completed in 1889", Score: 0.12, Start: 24, End: 41},
		})
	}))
	defer server.Close()

	client, err := NewHuggingFaceClient(WithEndpoint(server.URL))
	require.NoError(t, err)

	answers, err := client.Extract(context.Background(),
		"When was the Eiffel Tower completed?", passage)
	require.NoError(t, err)
	require.Len(t, answers, 2)

	assert.Equal(t, "1889", answers[0].Answer)
	assert.Equal(t, 0.97, answers[0].Score)
	assert.Equal(t, 37, answers[0].Start)
	assert.Equal(t, 41, answers[0].End)

	// 答案按置信度降序排列
	assert.GreaterOrEqual(t, answers[0].Score, answers[1].Score)
}

func TestExtractSingleObjectResponse(t *testing.T) {
	// top_k为1时服务返回单个对象而非数组
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(qaResult{Answer: "Paris", Score: 0.9, Start: 0, End: 5})
	}))
	defer server.Close()

	client, err := NewHuggingFaceClient(WithEndpoint(server.URL))
	require.NoError(t, err)

	answers, err := client.Extract(context.Background(), "Where?", "Paris is in France.",
		WithExtractTopK(1))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Paris", answers[0].Answer)
}

func TestExtractValidation(t *testing.T) {
	client, err := NewHuggingFaceClient(WithEndpoint("http://localhost:1"))
	require.NoError(t, err)

	var readerErr ReaderError

	_, err = client.Extract(context.Background(), "", "some context")
	require.ErrorAs(t, err, &readerErr)
	assert.Equal(t, ErrCodeEmptyQuestion, readerErr.Code)

	_, err = client.Extract(context.Background(), "question?", "")
	require.ErrorAs(t, err, &readerErr)
	assert.Equal(t, ErrCodeEmptyContext, readerErr.Code)
}

func TestExtractRetryOnModelLoading(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": "Model deepset/roberta-base-squad2 is currently loading",
			})
			return
		}
		json.NewEncoder(w).Encode(qaResult{Answer: "42", Score: 1.0, Start: 0, End: 2})
	}))
	defer server.Close()

	client, err := NewHuggingFaceClient(WithEndpoint(server.URL), WithMaxRetries(2))
	require.NoError(t, err)

	answers, err := client.Extract(context.Background(), "What is the answer?", "42 is the answer.")
	require.NoError(t, err)
	require.NotEmpty(t, answers)
	assert.Equal(t, "42", answers[0].Answer)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestReaderRead(t *testing.T) {
	docs := []docstore.Document{
		{
			ID:      "doc1",
			Content: "The Eiffel Tower was completed in 1889 and stands in Paris.",
			Meta:    map[string]interface{}{"source": "towers.txt"},
		},
		{
			ID:      "doc2",
			Content: "The Empire State Building opened in 1931 in New York City.",
		},
	}

	mockClient := new(MockClient)
	mockClient.On("Extract", mock.Anything, "When was the Eiffel Tower completed?", docs[0].Content).
		Return([]RawAnswer{{Answer: "1889", Score: 0.95, Start: 34, End: 38}}, nil)
	mockClient.On("Extract", mock.Anything, "When was the Eiffel Tower completed?", docs[1].Content).
		Return([]RawAnswer{{Answer: "1931", Score: 0.30, Start: 36, End: 40}}, nil)

	r := NewReader(mockClient, WithReaderTopK(5), WithContextWindow(10))

	answers, err := r.Read(context.Background(), "When was the Eiffel Tower completed?", docs)
	require.NoError(t, err)
	require.Len(t, answers, 2)

	// 全局按得分降序排列
	assert.Equal(t, "1889", answers[0].Answer)
	assert.Equal(t, "doc1", answers[0].DocumentID)
	assert.Equal(t, "1931", answers[1].Answer)
	assert.Equal(t, "doc2", answers[1].DocumentID)

	// 答案来源文档的元数据被保留
	assert.Equal(t, "towers.txt", answers[0].Meta["source"])

	// 位置信息满足文档内和上下文内的双重一致性
	top := answers[0]
	docRunes := []rune(docs[0].Content)
	assert.Equal(t, top.Answer, string(docRunes[top.OffsetInDocument.Start:top.OffsetInDocument.End]))

	ctxRunes := []rune(top.Context)
	assert.Equal(t, top.Answer, string(ctxRunes[top.OffsetInContext.Start:top.OffsetInContext.End]))

	// 上下文窗口不超过配置的大小
	assert.LessOrEqual(t, top.OffsetInContext.Start, 10)

	mockClient.AssertExpectations(t)
}

func TestReaderReadTopKTruncation(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, question, passage string) []RawAnswer {
			return []RawAnswer{
				{Answer: "first", Score: 0.9, Start: 0, End: 5},
				{Answer: "second", Score: 0.5, Start: 0, End: 5},
			}
		}, nil)

	r := NewReader(mockClient, WithReaderTopK(3))

	docs := []docstore.Document{
		{ID: "a", Content: "first second third fourth"},
		{ID: "b", Content: "first second third fourth"},
		{ID: "c", Content: "first second third fourth"},
	}

	answers, err := r.Read(context.Background(), "which?", docs)
	require.NoError(t, err)
	assert.Len(t, answers, 3)

	// 截断后保留的都是高分答案
	for _, answer := range answers {
		assert.Equal(t, 0.9, answer.Score)
	}
}

func TestReaderNoAnswerHandling(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]RawAnswer{{Answer: "", Score: 0.8}}, nil)

	docs := []docstore.Document{{ID: "a", Content: "irrelevant content"}}

	// 默认丢弃无答案结果
	r := NewReader(mockClient)
	answers, err := r.Read(context.Background(), "question?", docs)
	require.NoError(t, err)
	assert.Empty(t, answers)

	// 配置保留时无答案结果应该出现且可识别
	r = NewReader(mockClient, WithNoAnswerResults(true))
	answers, err = r.Read(context.Background(), "question?", docs)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].IsNoAnswer())
	assert.Equal(t, "a", answers[0].DocumentID)
}

func TestReaderOffsetFallback(t *testing.T) {
	// 模型返回的偏移指向错误位置时，回退用文本匹配重新定位
	content := "水调歌头是一首词。明月几时有，把酒问青天。"
	mockClient := new(MockClient)
	mockClient.On("Extract", mock.Anything, mock.Anything, mock.Anything).
		Return([]RawAnswer{{Answer: "明月几时有", Score: 0.9, Start: 0, End: 5}}, nil)

	r := NewReader(mockClient, WithContextWindow(4))

	answers, err := r.Read(context.Background(), "词的第一句是什么？",
		[]docstore.Document{{ID: "poem", Content: content}})
	require.NoError(t, err)
	require.Len(t, answers, 1)

	top := answers[0]
	runes := []rune(content)
	assert.Equal(t, "明月几时有", string(runes[top.OffsetInDocument.Start:top.OffsetInDocument.End]))
	assert.True(t, strings.Contains(top.Context, "明月几时有"))
}

func TestReaderEmptyInputs(t *testing.T) {
	r := NewReader(new(MockClient))

	_, err := r.Read(context.Background(), "", nil)
	var readerErr ReaderError
	require.ErrorAs(t, err, &readerErr)
	assert.Equal(t, ErrCodeEmptyQuestion, readerErr.Code)

	answers, err := r.Read(context.Background(), "question?", nil)
	require.NoError(t, err)
	assert.Empty(t, answers)
}
