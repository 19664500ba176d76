package docstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newESTestStore 基于httptest服务创建Elasticsearch存储
func newESTestStore(t *testing.T, server *httptest.Server, modify func(*Config)) Store {
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	config := Config{
		Type:   "elasticsearch",
		Host:   u.Hostname(),
		Port:   port,
		Scheme: u.Scheme,
		Index:  "test_docs",
	}
	if modify != nil {
		modify(&config)
	}

	store, err := NewElasticsearchStore(config)
	require.NoError(t, err)
	return store
}

// handleIndexExists 处理索引存在性探测
func handleIndexExists(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// TestESCreateIndex 测试索引不存在时自动创建
func TestESCreateIndex(t *testing.T) {
	var createdMapping map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			// 第一次探测返回不存在
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/test_docs":
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &createdMapping))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	store := newESTestStore(t, server, func(c *Config) {
		c.Dimension = 4
		c.CreateIfNotExists = true
	})
	defer store.Close()

	// 验证映射中包含元数据动态模板和向量字段
	require.NotNil(t, createdMapping)
	mappings := createdMapping["mappings"].(map[string]interface{})
	assert.Contains(t, mappings, "dynamic_templates")

	properties := mappings["properties"].(map[string]interface{})
	embedding := properties["embedding"].(map[string]interface{})
	assert.Equal(t, "dense_vector", embedding["type"])
	assert.Equal(t, float64(4), embedding["dims"])
}

// TestESIndexMissing 测试索引不存在且不允许创建时报错
func TestESIndexMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())

	_, err = NewElasticsearchStore(Config{
		Host:   u.Hostname(),
		Port:   port,
		Scheme: u.Scheme,
		Index:  "missing_index",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

// TestESWriteDocuments 测试bulk批量写入
func TestESWriteDocuments(t *testing.T) {
	var bulkBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		require.Equal(t, "/_bulk", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("refresh"))
		require.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		bulkBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":false,"items":[{"index":{"status":201}},{"index":{"status":201}}]}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	docs := []Document{
		{ID: "doc1", Content: "hello world", Meta: map[string]interface{}{"file_id": "f1"}},
		{ID: "doc2", Content: "goodbye world"},
	}

	written, err := store.WriteDocuments(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// NDJSON格式：两个文档共四行
	lines := strings.Split(strings.TrimSpace(bulkBody), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"_id":"doc1"`)
	assert.Contains(t, lines[1], "hello world")
	assert.Contains(t, lines[2], `"_id":"doc2"`)
}

// TestESWritePartialFailure 测试bulk部分失败时的错误处理
func TestESWritePartialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"errors": true,
			"items": [
				{"index":{"status":201}},
				{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}
			]
		}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	docs := []Document{
		{ID: "good", Content: "ok"},
		{ID: "bad", Content: "broken"},
	}

	written, err := store.WriteDocuments(context.Background(), docs)
	require.Error(t, err)
	assert.Equal(t, 1, written)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

// TestESGetDocument 测试按ID获取文档
func TestESGetDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		switch r.URL.Path {
		case "/test_docs/_doc/doc1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"found": true,
				"_id": "doc1",
				"_source": {
					"content": "test content",
					"content_type": "text",
					"meta": {"classification": {"label": "music"}}
				}
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"found":false}`))
		}
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		doc, err := store.GetDocument(ctx, "doc1")
		require.NoError(t, err)
		assert.Equal(t, "doc1", doc.ID)
		assert.Equal(t, "test content", doc.Content)

		classification, ok := ClassificationFromMeta(doc.Meta)
		require.True(t, ok)
		assert.Equal(t, "music", classification.Label)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetDocument(ctx, "missing")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

// TestESQuery 测试文本检索的请求组装和结果解析
func TestESQuery(t *testing.T) {
	var searchBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		require.Equal(t, "/test_docs/_search", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &searchBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hits": {
				"total": {"value": 2},
				"hits": [
					{"_id":"doc1","_score":2.5,"_source":{"content":"Beethoven symphony","meta":{"classification":{"label":"music"}}}},
					{"_id":"doc2","_score":1.2,"_source":{"content":"concert hall"}}
				]
			}
		}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	filter := DefaultSearchFilter()
	filter.Meta = map[string][]string{"classification.label": {"music"}}
	filter.MaxResults = 5

	results, err := store.Query(context.Background(), "symphony", filter)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 得分应使用引擎返回值
	assert.Equal(t, "doc1", results[0].Document.ID)
	assert.InDelta(t, 2.5, results[0].Score, 1e-9)

	// 验证查询体结构
	assert.Equal(t, float64(5), searchBody["size"])

	boolQuery := searchBody["query"].(map[string]interface{})["bool"].(map[string]interface{})
	must := boolQuery["must"].([]interface{})
	match := must[0].(map[string]interface{})["match"].(map[string]interface{})
	content := match["content"].(map[string]interface{})
	assert.Equal(t, "symphony", content["query"])

	// 标签过滤应转换为terms子句
	filters := boolQuery["filter"].([]interface{})
	terms := filters[0].(map[string]interface{})["terms"].(map[string]interface{})
	assert.Contains(t, terms, "meta.classification.label")
}

// TestESQueryByEmbedding 测试向量检索的得分换算
func TestESQueryByEmbedding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		body, _ := io.ReadAll(r.Body)
		// 查询应使用script_score计算余弦相似度
		assert.Contains(t, string(body), "cosineSimilarity")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hits": {
				"total": {"value": 1},
				"hits": [
					{"_id":"doc1","_score":1.8,"_source":{"content":"vector doc"}}
				]
			}
		}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, func(c *Config) {
		c.Dimension = 4
	})
	defer store.Close()

	results, err := store.QueryByEmbedding(context.Background(), []float32{0.1, 0.2, 0.3, 0.4}, DefaultSearchFilter())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// 引擎得分1.8对应相似度0.8，归一化后为0.9
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

// TestESDeleteDocuments 测试删除请求的组装
func TestESDeleteDocuments(t *testing.T) {
	var deleteBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		require.Equal(t, "/test_docs/_delete_by_query", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &deleteBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deleted":2}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	ctx := context.Background()

	t.Run("delete by ids", func(t *testing.T) {
		err := store.DeleteDocuments(ctx, []string{"doc1", "doc2"})
		require.NoError(t, err)

		query := deleteBody["query"].(map[string]interface{})
		ids := query["ids"].(map[string]interface{})["values"].([]interface{})
		assert.Len(t, ids, 2)
	})

	t.Run("delete all", func(t *testing.T) {
		err := store.DeleteDocuments(ctx, nil)
		require.NoError(t, err)

		query := deleteBody["query"].(map[string]interface{})
		assert.Contains(t, query, "match_all")
	})
}

// TestESCount 测试文档计数
func TestESCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		require.Equal(t, "/test_docs/_count", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":42}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

// TestESMetadataValues 测试元数据聚合解析
func TestESMetadataValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "meta.classification.label")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hits": {"total": {"value": 5}, "hits": []},
			"aggregations": {
				"values": {
					"buckets": [
						{"key": "music", "doc_count": 3},
						{"key": "history", "doc_count": 2}
					]
				}
			}
		}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	counts, err := store.MetadataValues(context.Background(), "classification.label")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "music", counts[0].Value)
	assert.Equal(t, int64(3), counts[0].Count)
}

// TestESGetAllDocuments 测试滚动查询拉取全部文档
func TestESGetAllDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasPrefix(r.URL.Path, "/test_docs/_search"):
			// 首次查询返回第一批和滚动ID
			w.Write([]byte(`{
				"_scroll_id": "scroll-1",
				"hits": {
					"total": {"value": 2},
					"hits": [
						{"_id":"doc1","_source":{"content":"first"}},
						{"_id":"doc2","_source":{"content":"second"}}
					]
				}
			}`))
		case r.URL.Path == "/_search/scroll" && r.Method == http.MethodPost:
			// 后续滚动返回空，表示拉取完毕
			w.Write([]byte(`{"_scroll_id":"scroll-1","hits":{"total":{"value":2},"hits":[]}}`))
		case r.URL.Path == "/_search/scroll" && r.Method == http.MethodDelete:
			w.Write([]byte(`{"succeeded":true}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	store := newESTestStore(t, server, nil)
	defer store.Close()

	docs, err := store.GetAllDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc1", docs[0].ID)
	assert.Equal(t, "second", docs[1].Content)
}

// TestESRetryOn5xx 测试5xx响应的重试机制
func TestESRetryOn5xx(t *testing.T) {
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"type":"internal","reason":"temporarily unavailable"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":7}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, func(c *Config) {
		c.MaxRetries = 3
	})
	defer store.Close()

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Equal(t, 3, attempts, "Should succeed on the third attempt")
}

// TestESNoRetryOn4xx 测试4xx响应不重试并返回存储错误
func TestESNoRetryOn4xx(t *testing.T) {
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handleIndexExists(w, r) {
			return
		}

		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"parsing_exception","reason":"unknown field"}}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, func(c *Config) {
		c.MaxRetries = 3
	})
	defer store.Close()

	_, err := store.Count(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx responses should not be retried")

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusBadRequest, storeErr.StatusCode)
	assert.Contains(t, storeErr.Message, "parsing_exception")
}

// TestESBasicAuth 测试基础认证头
func TestESBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		require.True(t, ok, "Request should carry basic auth")
		assert.Equal(t, "elastic", username)
		assert.Equal(t, "secret", password)

		if handleIndexExists(w, r) {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":0}`))
	}))
	defer server.Close()

	store := newESTestStore(t, server, func(c *Config) {
		c.Username = "elastic"
		c.Password = "secret"
	})
	defer store.Close()

	_, err := store.Count(context.Background())
	require.NoError(t, err)
}
