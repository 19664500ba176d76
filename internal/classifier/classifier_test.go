package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestServer 创建返回固定零样本分类结果的测试服务
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "cross-encoder/nli-distilroberta-base", cfg.Model)
	assert.Equal(t, TaskZeroShot, cfg.Task)
	assert.Equal(t, DefaultLabels, cfg.Labels)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithAPIKey("test-key"),
		WithModel("facebook/bart-large-mnli"),
		WithLabels([]string{"sports", "politics"}),
		WithMultiLabel(true),
		WithBatchSize(8),
		WithTimeout(10*time.Second),
	)

	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, "facebook/bart-large-mnli", cfg.Model)
	assert.Equal(t, []string{"sports", "politics"}, cfg.Labels)
	assert.True(t, cfg.MultiLabel)
	assert.Equal(t, 8, cfg.BatchSize)

	// 空标签列表不应该覆盖默认标签
	cfg = NewConfig(WithLabels(nil))
	assert.Equal(t, DefaultLabels, cfg.Labels)
}

func TestClientRegistry(t *testing.T) {
	// huggingface客户端通过init注册
	client, err := NewClient("huggingface", WithAPIKey("key"))
	require.NoError(t, err)
	assert.Equal(t, "cross-encoder/nli-distilroberta-base", client.Name())

	// 未注册的类型应该报错
	_, err = NewClient("unknown")
	require.Error(t, err)

	var clsErr ClassifierError
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, ErrCodeInvalidRequest, clsErr.Code)
}

func TestClassifyBatch(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/cross-encoder/nli-distilroberta-base", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ZeroShotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultLabels, req.Parameters.CandidateLabels)

		results := make([]ZeroShotResult, len(req.Inputs))
		for i, input := range req.Inputs {
			results[i] = ZeroShotResult{
				Sequence: input,
				Labels:   []string{"music", "history", "natural language processing"},
				Scores:   []float64{0.8, 0.15, 0.05},
			}
		}
		json.NewEncoder(w).Encode(results)
	})

	client, err := NewHuggingFaceClient(
		WithAPIKey("test-key"),
		WithEndpoint(server.URL),
	)
	require.NoError(t, err)

	results, err := client.ClassifyBatch(context.Background(), []string{
		"jazz was born in new orleans",
		"the berlin wall fell in 1989",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "jazz was born in new orleans", results[0].Sequence)
	assert.Equal(t, "music", results[0].Label)
	assert.Equal(t, results[0].Labels[0], results[0].Label)
	assert.Len(t, results[0].Scores, len(results[0].Labels))

	// 得分应该按降序排列
	for i := 1; i < len(results[0].Scores); i++ {
		assert.GreaterOrEqual(t, results[0].Scores[i-1], results[0].Scores[i])
	}
}

func TestClassifyBatchLabelOverride(t *testing.T) {
	// 请求级候选标签应该覆盖客户端构造时的标签
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ZeroShotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"finance", "law"}, req.Parameters.CandidateLabels)

		results := make([]ZeroShotResult, len(req.Inputs))
		for i, input := range req.Inputs {
			results[i] = ZeroShotResult{
				Sequence: input,
				Labels:   []string{"finance", "law"},
				Scores:   []float64{0.7, 0.3},
			}
		}
		json.NewEncoder(w).Encode(results)
	})

	client, err := NewHuggingFaceClient(
		WithEndpoint(server.URL),
		WithLabels([]string{"music", "history"}),
	)
	require.NoError(t, err)

	results, err := client.ClassifyBatch(context.Background(),
		[]string{"the berlin wall fell in 1989"},
		WithClassifyLabels("finance", "law"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "finance", results[0].Label)

	// 不带选项时仍然使用客户端默认标签
	server2 := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ZeroShotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"music", "history"}, req.Parameters.CandidateLabels)
		json.NewEncoder(w).Encode([]ZeroShotResult{{
			Sequence: req.Inputs[0],
			Labels:   []string{"music", "history"},
			Scores:   []float64{0.9, 0.1},
		}})
	})

	client2, err := NewHuggingFaceClient(
		WithEndpoint(server2.URL),
		WithLabels([]string{"music", "history"}),
	)
	require.NoError(t, err)

	results, err = client2.ClassifyBatch(context.Background(),
		[]string{"jazz was born in new orleans"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "music", results[0].Label)
}

func TestClassifySingleObjectResponse(t *testing.T) {
	// 单条输入时服务可能返回单个对象而非数组
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ZeroShotResult{
			Sequence: "some text",
			Labels:   []string{"history", "music"},
			Scores:   []float64{0.9, 0.1},
		})
	})

	client, err := NewHuggingFaceClient(WithEndpoint(server.URL))
	require.NoError(t, err)

	result, err := client.Classify(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, "history", result.Label)
	assert.Equal(t, []string{"history", "music"}, result.Labels)
}

func TestClassifyEmptyInput(t *testing.T) {
	client, err := NewHuggingFaceClient(WithEndpoint("http://localhost:1"))
	require.NoError(t, err)

	_, err = client.Classify(context.Background(), "")
	var clsErr ClassifierError
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, ErrCodeEmptyInput, clsErr.Code)

	_, err = client.ClassifyBatch(context.Background(), []string{"ok", ""})
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, ErrCodeEmptyInput, clsErr.Code)

	// 空批次直接返回空结果
	results, err := client.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClassifyRetryOnModelLoading(t *testing.T) {
	// 前两次返回503（模型加载中），之后成功
	var calls int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":          "Model cross-encoder/nli-distilroberta-base is currently loading",
				"estimated_time": 20.0,
			})
			return
		}
		json.NewEncoder(w).Encode([]ZeroShotResult{{
			Sequence: "text",
			Labels:   []string{"music"},
			Scores:   []float64{1.0},
		}})
	})

	client, err := NewHuggingFaceClient(
		WithEndpoint(server.URL),
		WithMaxRetries(3),
	)
	require.NoError(t, err)

	result, err := client.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "music", result.Label)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClassifyErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errMsg     string
		wantCode   int
	}{
		{"unauthorized", http.StatusUnauthorized, "authorization header is invalid", ErrCodeInvalidAPIKey},
		{"bad request", http.StatusBadRequest, "unknown parameter", ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				json.NewEncoder(w).Encode(map[string]string{"error": tt.errMsg})
			})

			client, err := NewHuggingFaceClient(WithEndpoint(server.URL), WithMaxRetries(0))
			require.NoError(t, err)

			_, err = client.Classify(context.Background(), "text")
			var clsErr ClassifierError
			require.ErrorAs(t, err, &clsErr)
			assert.Equal(t, tt.wantCode, clsErr.Code)
			assert.Contains(t, clsErr.Message, tt.errMsg)
		})
	}
}

func TestTextClassificationTask(t *testing.T) {
	// 普通文本分类返回乱序标签得分，客户端负责降序排列
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]map[string]interface{}{
			{
				{"label": "NEGATIVE", "score": 0.2},
				{"label": "POSITIVE", "score": 0.8},
			},
		})
	})

	client, err := NewHuggingFaceClient(
		WithEndpoint(server.URL),
		WithTask(TaskTextClassification),
		WithModel("distilbert-base-uncased-finetuned-sst-2-english"),
	)
	require.NoError(t, err)

	result, err := client.Classify(context.Background(), "great product")
	require.NoError(t, err)
	assert.Equal(t, "POSITIVE", result.Label)
	assert.Equal(t, []string{"POSITIVE", "NEGATIVE"}, result.Labels)
	assert.Equal(t, []float64{0.8, 0.2}, result.Scores)
}

func TestZeroShotRequiresLabels(t *testing.T) {
	_, err := NewHuggingFaceClient(WithLabels(nil), func(c *Config) {
		c.Labels = nil // 显式清空标签
	})
	var clsErr ClassifierError
	require.ErrorAs(t, err, &clsErr)
	assert.Equal(t, ErrCodeEmptyLabels, clsErr.Code)
}

func TestDocumentClassifier(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ClassifyBatch", mock.Anything, []string{"text one", "text two"}).
		Return([]docstore.Classification{
			{Sequence: "text one", Labels: []string{"music"}, Scores: []float64{0.9}, Label: "music"},
			{Sequence: "text two", Labels: []string{"history"}, Scores: []float64{0.7}, Label: "history"},
		}, nil)

	dc := NewDocumentClassifier(mockClient, 16, 2)

	docs := []docstore.Document{
		{ID: "a", Content: "text one", Meta: map[string]interface{}{"source": "a.txt"}},
		{ID: "b", Content: ""}, // 空内容文档应该被跳过
		{ID: "c", Content: "text two"},
	}

	classified, err := dc.ClassifyDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, classified, 3)

	// 分类结果合并到元数据，原有键保持不变
	c, ok := docstore.ClassificationFromMeta(classified[0].Meta)
	require.True(t, ok)
	assert.Equal(t, "music", c.Label)
	assert.Equal(t, "a.txt", classified[0].Meta["source"])

	// 空内容文档不携带分类结果
	_, ok = docstore.ClassificationFromMeta(classified[1].Meta)
	assert.False(t, ok)

	c, ok = docstore.ClassificationFromMeta(classified[2].Meta)
	require.True(t, ok)
	assert.Equal(t, "history", c.Label)

	mockClient.AssertExpectations(t)
}

func TestDocumentClassifierBatching(t *testing.T) {
	// 批大小为2时，5篇文档应该分成3批
	mockClient := new(MockClient)
	mockClient.On("ClassifyBatch", mock.Anything, mock.MatchedBy(func(texts []string) bool {
		return len(texts) <= 2
	})).Return(func(ctx context.Context, texts []string) []docstore.Classification {
		results := make([]docstore.Classification, len(texts))
		for i, text := range texts {
			results[i] = docstore.Classification{
				Sequence: text,
				Labels:   []string{"music"},
				Scores:   []float64{0.5},
				Label:    "music",
			}
		}
		return results
	}, nil)

	dc := NewDocumentClassifier(mockClient, 2, 2)

	docs := make([]docstore.Document, 5)
	for i := range docs {
		docs[i] = docstore.Document{
			ID:      string(rune('a' + i)),
			Content: "content " + string(rune('a'+i)),
		}
	}

	classified, err := dc.ClassifyDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, classified, 5)

	// 每篇文档都应该有分类结果，且顺序保持不变
	for i, doc := range classified {
		c, ok := docstore.ClassificationFromMeta(doc.Meta)
		require.True(t, ok, "document %d should be classified", i)
		assert.Equal(t, "content "+string(rune('a'+i)), c.Sequence)
	}

	mockClient.AssertNumberOfCalls(t, "ClassifyBatch", 3)
}
