package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MemoryStore 内存文档存储实现
// 用于开发和测试环境，不依赖外部搜索引擎
// 文本相关度只做朴素的词项命中统计，排序质量远低于真实引擎
type MemoryStore struct {
	mu        sync.RWMutex        // 读写锁，确保并发安全
	documents map[string]Document // 文档存储，ID到文档的映射
	dimension int                 // 向量维度（0表示不校验）
	distType  DistanceType        // 距离计算类型
}

// NewMemoryStore 创建内存文档存储
func NewMemoryStore(config Config) (Store, error) {
	distType := config.DistanceType
	if distType != Cosine && distType != DotProduct && distType != Euclidean {
		distType = Cosine // 默认使用余弦距离
	}

	return &MemoryStore{
		documents: make(map[string]Document),
		dimension: config.Dimension,
		distType:  distType,
	}, nil
}

// WriteDocuments 写入一批文档，相同ID覆盖
func (s *MemoryStore) WriteDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	// 使用单个锁进行批处理，避免多次加解锁开销
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, doc := range docs {
		if doc.ID == "" {
			return written, ErrInvalidID
		}

		if doc.ContentType == "" {
			doc.ContentType = "text"
		}
		if doc.Meta == nil {
			doc.Meta = make(map[string]interface{})
		}

		if len(doc.Embedding) > 0 {
			if err := ValidateVector(doc.Embedding, s.dimension); err != nil {
				return written, err
			}
		}

		s.documents[doc.ID] = doc
		written++
	}

	return written, nil
}

// GetDocument 根据ID获取单个文档
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}

	return doc, nil
}

// GetAllDocuments 获取全部文档，按ID排序保证结果稳定
func (s *MemoryStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})

	return docs, nil
}

// DeleteDocuments 删除指定ID的文档；ids为空时清空存储
func (s *MemoryStore) DeleteDocuments(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		s.documents = make(map[string]Document)
		return nil
	}

	for _, id := range ids {
		delete(s.documents, id)
	}

	return nil
}

// Query 按文本相关度检索文档
// 得分为查询词项的命中比例，仅作为无引擎环境下的替代
func (s *MemoryStore) Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error) {
	terms := tokenizeText(query)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	s.mu.RLock()
	candidates := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		candidates = append(candidates, doc)
	}
	s.mu.RUnlock()

	candidates = FilterDocuments(candidates, filter)

	var results []SearchResult
	for _, doc := range candidates {
		score := termOverlapScore(terms, doc.Content)
		if score <= 0 {
			continue
		}
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score})
	}

	SortSearchResults(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// QueryByEmbedding 按向量相似度检索文档
func (s *MemoryStore) QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	s.mu.RLock()
	candidates := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		candidates = append(candidates, doc)
	}
	s.mu.RUnlock()

	candidates = FilterDocuments(candidates, filter)

	var results []SearchResult
	for _, doc := range candidates {
		if len(doc.Embedding) == 0 {
			continue // 跳过没有向量的文档
		}

		distance, err := ComputeDistance(vector, doc.Embedding, s.distType)
		if err != nil {
			return nil, err
		}

		score := DistanceToScore(distance, s.distType)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{Document: doc, Score: score})
	}

	SortSearchResults(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// Count 获取文档总数
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.documents)), nil
}

// MetadataValues 统计某个元数据键的取值分布
func (s *MemoryStore) MetadataValues(ctx context.Context, key string) ([]MetadataCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, doc := range s.documents {
		if value, ok := MetaValueAt(doc.Meta, key); ok {
			counts[value]++
		}
	}

	result := make([]MetadataCount, 0, len(counts))
	for value, count := range counts {
		result = append(result, MetadataCount{Value: value, Count: count})
	}

	// 按数量降序、取值升序排列，保证结果稳定
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})

	return result, nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make(map[string]Document)
	return nil
}

// tokenizeText 将文本切分为小写词项
func tokenizeText(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}

	return terms
}

// termOverlapScore 计算查询词项在内容中的命中比例
func termOverlapScore(terms []string, content string) float64 {
	if content == "" {
		return 0
	}

	lower := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}

	return float64(matched) / float64(len(terms))
}

// 在包初始化时注册内存存储
func init() {
	RegisterStore("memory", NewMemoryStore)
}
