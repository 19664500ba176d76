package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// 默认连接配置
	defaultESHost   = "localhost"
	defaultESPort   = 9200
	defaultESScheme = "http"
	defaultESIndex  = "document"

	// 全量拉取时每批的文档数
	scrollBatchSize = 500
	// 滚动查询上下文的保持时间
	scrollKeepAlive = "2m"
)

// StoreError 文档存储服务返回的错误
type StoreError struct {
	StatusCode int    // HTTP状态码
	Message    string // 错误信息
}

// Error 实现error接口
func (e *StoreError) Error() string {
	return fmt.Sprintf("document store error (status %d): %s", e.StatusCode, e.Message)
}

// ElasticsearchStore 基于Elasticsearch的文档存储实现
// 通过REST接口访问外部搜索引擎，相关度计算全部由引擎完成
type ElasticsearchStore struct {
	baseURL    string       // 服务基础URL
	index      string       // 索引名称
	username   string       // 认证用户名
	password   string       // 认证密码
	dimension  int          // 向量维度（0表示不启用向量字段）
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
}

// NewElasticsearchStore 创建Elasticsearch文档存储
// 会检查索引是否存在，并按配置自动创建
func NewElasticsearchStore(config Config) (Store, error) {
	host := config.Host
	if host == "" {
		host = defaultESHost
	}
	port := config.Port
	if port == 0 {
		port = defaultESPort
	}
	scheme := config.Scheme
	if scheme == "" {
		scheme = defaultESScheme
	}
	index := config.Index
	if index == "" {
		index = defaultESIndex
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	store := &ElasticsearchStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, host, port),
		index:      index,
		username:   config.Username,
		password:   config.Password,
		dimension:  config.Dimension,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: config.MaxRetries,
	}

	// 初始化时确认服务可达并准备好索引
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := store.ensureIndex(ctx, config.CreateIfNotExists); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureIndex 确认索引存在，必要时创建
func (s *ElasticsearchStore) ensureIndex(ctx context.Context, createIfNotExists bool) error {
	resp, err := s.doRequest(ctx, http.MethodHead, "/"+s.index, nil, "")
	if err != nil {
		return fmt.Errorf("failed to reach document store: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode != http.StatusNotFound {
		return &StoreError{StatusCode: resp.StatusCode, Message: "unexpected response checking index"}
	}

	if !createIfNotExists {
		return &StoreError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("index %s does not exist", s.index)}
	}

	return s.createIndex(ctx)
}

// createIndex 创建索引并设置字段映射
// content为全文字段，meta下的字符串字段映射为keyword以支持精确过滤
func (s *ElasticsearchStore) createIndex(ctx context.Context) error {
	properties := map[string]interface{}{
		"content":      map[string]interface{}{"type": "text"},
		"content_type": map[string]interface{}{"type": "keyword"},
	}

	// 只有配置了维度才启用向量字段
	if s.dimension > 0 {
		properties["embedding"] = map[string]interface{}{
			"type": "dense_vector",
			"dims": s.dimension,
		}
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"dynamic_templates": []interface{}{
				map[string]interface{}{
					"meta_strings": map[string]interface{}{
						"path_match":         "meta.*",
						"match_mapping_type": "string",
						"mapping":            map[string]interface{}{"type": "keyword"},
					},
				},
			},
			"properties": properties,
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal index mapping: %w", err)
	}

	if err := s.sendJSON(ctx, http.MethodPut, "/"+s.index, body, nil); err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}

	return nil
}

// esDocument 索引中的文档结构
type esDocument struct {
	Content     string                 `json:"content"`
	ContentType string                 `json:"content_type"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	Embedding   []float32              `json:"embedding,omitempty"`
}

// esHit 检索命中结果
type esHit struct {
	ID     string     `json:"_id"`
	Score  float64    `json:"_score"`
	Source esDocument `json:"_source"`
}

// esSearchResponse 检索响应结构
type esSearchResponse struct {
	ScrollID string `json:"_scroll_id,omitempty"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key      interface{} `json:"key"`
			DocCount int64       `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations,omitempty"`
}

// WriteDocuments 通过bulk接口批量写入文档
// 相同ID的文档会被覆盖；写入后立即刷新，保证后续查询可见
func (s *ElasticsearchStore) WriteDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	// 组装NDJSON格式的bulk请求体：每个文档一行action一行内容
	var buf bytes.Buffer
	for _, doc := range docs {
		if doc.ID == "" {
			return 0, ErrInvalidID
		}

		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": s.index,
				"_id":    doc.ID,
			},
		}
		actionLine, err := json.Marshal(action)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal bulk action: %w", err)
		}

		source := esDocument{
			Content:     doc.Content,
			ContentType: doc.ContentType,
			Meta:        doc.Meta,
			Embedding:   doc.Embedding,
		}
		sourceLine, err := json.Marshal(source)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
		}

		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(sourceLine)
		buf.WriteByte('\n')
	}

	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"items"`
	}

	err := s.sendRaw(ctx, http.MethodPost, "/_bulk?refresh=true", buf.Bytes(), "application/x-ndjson", &resp)
	if err != nil {
		return 0, err
	}

	// bulk整体成功时仍可能有单条失败，逐项统计
	written := len(docs)
	if resp.Errors {
		written = 0
		var firstErr string
		for _, item := range resp.Items {
			for _, result := range item {
				if result.Error != nil {
					if firstErr == "" {
						firstErr = fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
					}
				} else {
					written++
				}
			}
		}
		return written, &StoreError{StatusCode: http.StatusOK, Message: fmt.Sprintf("bulk write partially failed: %s", firstErr)}
	}

	return written, nil
}

// GetDocument 根据ID获取单个文档
func (s *ElasticsearchStore) GetDocument(ctx context.Context, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrInvalidID
	}

	var resp struct {
		Found  bool       `json:"found"`
		ID     string     `json:"_id"`
		Source esDocument `json:"_source"`
	}

	err := s.sendJSON(ctx, http.MethodGet, fmt.Sprintf("/%s/_doc/%s", s.index, id), nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}

	if !resp.Found {
		return Document{}, ErrDocumentNotFound
	}

	return s.toDocument(esHit{ID: resp.ID, Source: resp.Source}), nil
}

// GetAllDocuments 通过滚动查询拉取索引中的全部文档
func (s *ElasticsearchStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"size":  scrollBatchSize,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scroll request: %w", err)
	}

	var resp esSearchResponse
	path := fmt.Sprintf("/%s/_search?scroll=%s", s.index, scrollKeepAlive)
	if err := s.sendJSON(ctx, http.MethodPost, path, reqBody, &resp); err != nil {
		return nil, err
	}

	var docs []Document
	scrollID := resp.ScrollID

	for len(resp.Hits.Hits) > 0 {
		for _, hit := range resp.Hits.Hits {
			docs = append(docs, s.toDocument(hit))
		}

		scrollBody, err := json.Marshal(map[string]interface{}{
			"scroll":    scrollKeepAlive,
			"scroll_id": scrollID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal scroll continuation: %w", err)
		}

		resp = esSearchResponse{}
		if err := s.sendJSON(ctx, http.MethodPost, "/_search/scroll", scrollBody, &resp); err != nil {
			return nil, err
		}
		if resp.ScrollID != "" {
			scrollID = resp.ScrollID
		}
	}

	// 释放滚动上下文，失败不影响结果
	if scrollID != "" {
		clearBody, _ := json.Marshal(map[string]interface{}{"scroll_id": scrollID})
		if resp, err := s.doRequest(ctx, http.MethodDelete, "/_search/scroll", clearBody, "application/json"); err == nil {
			resp.Body.Close()
		}
	}

	return docs, nil
}

// DeleteDocuments 删除指定ID的文档；ids为空时清空整个索引
func (s *ElasticsearchStore) DeleteDocuments(ctx context.Context, ids []string) error {
	var query map[string]interface{}
	if len(ids) == 0 {
		query = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		query = map[string]interface{}{"ids": map[string]interface{}{"values": ids}}
	}

	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return fmt.Errorf("failed to marshal delete request: %w", err)
	}

	path := fmt.Sprintf("/%s/_delete_by_query?refresh=true", s.index)
	return s.sendJSON(ctx, http.MethodPost, path, body, nil)
}

// Query 按文本相关度检索文档
// 相关度排序由搜索引擎完成，这里只组装查询条件
func (s *ElasticsearchStore) Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"match": map[string]interface{}{
					"content": map[string]interface{}{"query": query},
				},
			},
		},
	}
	if filters := s.buildFilters(filter); len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	reqBody := map[string]interface{}{
		"size":  maxResults,
		"query": map[string]interface{}{"bool": boolQuery},
	}
	if filter.MinScore > 0 {
		reqBody["min_score"] = filter.MinScore
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var resp esSearchResponse
	if err := s.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/%s/_search", s.index), body, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		results = append(results, SearchResult{
			Document: s.toDocument(hit),
			Score:    hit.Score,
		})
	}

	return results, nil
}

// QueryByEmbedding 按向量相似度检索文档
// 使用script_score在引擎侧计算余弦相似度
func (s *ElasticsearchStore) QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	innerQuery := map[string]interface{}{"match_all": map[string]interface{}{}}
	if filters := s.buildFilters(filter); len(filters) > 0 {
		innerQuery = map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}},
				"filter": filters,
			},
		}
	}

	reqBody := map[string]interface{}{
		"size": maxResults,
		"query": map[string]interface{}{
			"script_score": map[string]interface{}{
				"query": innerQuery,
				"script": map[string]interface{}{
					// +1.0 保证脚本得分非负
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]interface{}{"query_vector": vector},
				},
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var resp esSearchResponse
	if err := s.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/%s/_search", s.index), body, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		// 引擎返回的得分范围为[0,2]，转换回[0,1]的相似度得分
		similarity := hit.Score - 1.0
		score := (similarity + 1.0) / 2.0
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Document: s.toDocument(hit),
			Score:    score,
		})
	}

	return results, nil
}

// Count 获取索引中的文档总数
func (s *ElasticsearchStore) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}

	if err := s.sendJSON(ctx, http.MethodGet, fmt.Sprintf("/%s/_count", s.index), nil, &resp); err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// MetadataValues 通过terms聚合统计元数据键的取值分布
func (s *ElasticsearchStore) MetadataValues(ctx context.Context, key string) ([]MetadataCount, error) {
	if key == "" {
		return nil, fmt.Errorf("metadata key is required")
	}

	reqBody := map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"values": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "meta." + key,
					"size":  100,
				},
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregation request: %w", err)
	}

	var resp esSearchResponse
	if err := s.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/%s/_search", s.index), body, &resp); err != nil {
		return nil, err
	}

	agg, ok := resp.Aggregations["values"]
	if !ok {
		return []MetadataCount{}, nil
	}

	counts := make([]MetadataCount, 0, len(agg.Buckets))
	for _, bucket := range agg.Buckets {
		counts = append(counts, MetadataCount{
			Value: fmt.Sprint(bucket.Key),
			Count: bucket.DocCount,
		})
	}

	return counts, nil
}

// Close 关闭存储连接
func (s *ElasticsearchStore) Close() error {
	// HTTP客户端无需显式关闭
	return nil
}

// buildFilters 将过滤条件转换为引擎的filter子句
func (s *ElasticsearchStore) buildFilters(filter SearchFilter) []interface{} {
	var filters []interface{}

	if len(filter.DocumentIDs) > 0 {
		filters = append(filters, map[string]interface{}{
			"ids": map[string]interface{}{"values": filter.DocumentIDs},
		})
	}

	for key, values := range filter.Meta {
		if len(values) == 0 {
			continue
		}
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"meta." + key: values},
		})
	}

	return filters
}

// toDocument 将检索命中转换为文档模型
func (s *ElasticsearchStore) toDocument(hit esHit) Document {
	contentType := hit.Source.ContentType
	if contentType == "" {
		contentType = "text"
	}

	return Document{
		ID:          hit.ID,
		Content:     hit.Source.Content,
		ContentType: contentType,
		Meta:        hit.Source.Meta,
		Embedding:   hit.Source.Embedding,
	}
}

// sendJSON 发送JSON请求并解析响应
func (s *ElasticsearchStore) sendJSON(ctx context.Context, method, path string, body []byte, respObj interface{}) error {
	return s.sendRaw(ctx, method, path, body, "application/json", respObj)
}

// sendRaw 发送请求并解析响应，带重试机制
// 网络错误和5xx响应会按指数退避重试
func (s *ElasticsearchStore) sendRaw(ctx context.Context, method, path string, body []byte, contentType string, respObj interface{}) error {
	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return fmt.Errorf("request cancelled: %w", ctx.Err())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
				// 等待后继续
			}
		}

		// 每次重试重新构建请求，避免请求体被消费后无法重发
		resp, lastErr = s.doRequest(ctx, method, path, body, contentType)
		if lastErr == nil && resp.StatusCode < 500 {
			break
		}

		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
	}

	if lastErr != nil {
		return fmt.Errorf("document store request failed: %w", lastErr)
	}
	if resp == nil {
		return fmt.Errorf("document store request failed after %d retries", s.maxRetries)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 尝试解析引擎的错误响应
		var errResp struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error.Reason != "" {
			return &StoreError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("%s: %s", errResp.Error.Type, errResp.Error.Reason),
			}
		}
		return &StoreError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if respObj != nil {
		if err := json.Unmarshal(respBody, respObj); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// doRequest 构建并发送单次HTTP请求
func (s *ElasticsearchStore) doRequest(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	return s.httpClient.Do(req)
}

// isNotFound 判断错误是否为404存储错误
func isNotFound(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.StatusCode == http.StatusNotFound
}

// 注册Elasticsearch存储
func init() {
	RegisterStore("elasticsearch", NewElasticsearchStore)
}
