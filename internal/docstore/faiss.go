package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissStore 基于Faiss的本地向量文档存储
// 只支持向量检索，文本相关度检索返回ErrNotSupported
// 适合没有外部搜索引擎、但需要向量召回的部署场景
type FaissStore struct {
	mu             sync.RWMutex
	index          faiss.Index
	documents      map[string]Document // 文档ID到文档的映射
	positions      []string            // 索引位置到文档ID的映射（追加写入）
	idToPosition   map[string]int
	indexPath      string
	metaPath       string
	dimension      int
	distanceType   DistanceType
	saveOnClose    bool
	autoSave       bool
	autoSaveCount  int
	operationCount int
}

// NewFaissStore 创建Faiss文档存储
func NewFaissStore(config Config) (Store, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	if config.Path != "" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	indexPath := config.Path
	metaPath := ""
	if indexPath != "" {
		metaPath = indexPath + ".meta.json"
	}

	store := &FaissStore{
		documents:     make(map[string]Document),
		idToPosition:  make(map[string]int),
		indexPath:     indexPath,
		metaPath:      metaPath,
		dimension:     config.Dimension,
		distanceType:  distType,
		saveOnClose:   true,
		autoSave:      true,
		autoSaveCount: 100,
	}

	var index faiss.Index
	var err error

	// 尝试从文件加载索引
	if indexPath != "" && fileExists(indexPath) {
		index, err = faiss.ReadIndex(indexPath, 0)
		if err != nil {
			if config.CreateIfNotExists {
				index, err = createFaissIndex(config.Dimension, distType)
				if err != nil {
					return nil, fmt.Errorf("failed to create Faiss index: %v", err)
				}
			} else {
				return nil, fmt.Errorf("failed to read index file: %v", err)
			}
		} else {
			if err := store.loadMetadata(metaPath); err != nil {
				return nil, fmt.Errorf("failed to load documents metadata: %v", err)
			}
		}
	} else {
		index, err = createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %v", err)
		}
	}

	store.index = index
	return store, nil
}

// createFaissIndex 创建Faiss索引
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	case Euclidean:
		metric = faiss.MetricL2
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// WriteDocuments 写入一批文档
// 每个文档必须带有向量；索引位置只追加，覆盖写入旧位置的向量会成为悬空项
func (s *FaissStore) WriteDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	for i := range docs {
		if docs[i].ID == "" {
			return 0, ErrInvalidID
		}
		if err := ValidateVector(docs[i].Embedding, s.dimension); err != nil {
			return 0, fmt.Errorf("invalid vector for document %s: %v", docs[i].ID, err)
		}
		if s.distanceType == Cosine {
			docs[i].Embedding = normalizeVector(docs[i].Embedding)
		}
		if docs[i].Meta == nil {
			docs[i].Meta = make(map[string]interface{})
		}
		if docs[i].ContentType == "" {
			docs[i].ContentType = "text"
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		position := int(s.index.Ntotal())
		if err := s.index.Add(doc.Embedding); err != nil {
			return 0, fmt.Errorf("failed to add vector to index: %v", err)
		}

		// 覆盖写入时旧位置不再被引用
		if oldPos, exists := s.idToPosition[doc.ID]; exists && oldPos < len(s.positions) {
			s.positions[oldPos] = ""
		}

		s.documents[doc.ID] = doc
		s.idToPosition[doc.ID] = position
		s.positions = append(s.positions, doc.ID)
	}

	s.operationCount += len(docs)
	if s.autoSave && s.operationCount >= s.autoSaveCount {
		if err := s.saveIndex(); err != nil {
			return 0, fmt.Errorf("auto-save failed: %v", err)
		}
		s.operationCount = 0
	}

	return len(docs), nil
}

// GetDocument 根据ID获取单个文档
func (s *FaissStore) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[id]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// GetAllDocuments 获取全部文档，按ID排序
func (s *FaissStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
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
// 向量数据只解除映射不收缩索引，清空时重建整个索引
func (s *FaissStore) DeleteDocuments(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		index, err := createFaissIndex(s.dimension, s.distanceType)
		if err != nil {
			return fmt.Errorf("failed to recreate index: %v", err)
		}
		s.index = index
		s.documents = make(map[string]Document)
		s.idToPosition = make(map[string]int)
		s.positions = nil
		s.operationCount++
		return nil
	}

	for _, id := range ids {
		doc, exists := s.documents[id]
		if !exists {
			continue
		}
		if pos, ok := s.idToPosition[doc.ID]; ok && pos < len(s.positions) {
			s.positions[pos] = ""
		}
		delete(s.documents, id)
		delete(s.idToPosition, id)
		s.operationCount++
	}

	return nil
}

// Query 文本相关度检索
// 本地向量存储不具备全文检索能力
func (s *FaissStore) Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error) {
	return nil, ErrNotSupported
}

// QueryByEmbedding 按向量相似度检索文档
func (s *FaissStore) QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}
	if s.distanceType == Cosine {
		vector = normalizeVector(vector)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.documents) == 0 {
		return []SearchResult{}, nil
	}

	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}

	// 多取一倍候选，留出被过滤条件淘汰的余量
	queryLimit := k * 2
	total := int(s.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}

	distances, indices, err := s.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}

	idFilter := make(map[string]bool)
	for _, id := range filter.DocumentIDs {
		idFilter[id] = true
	}

	var results []SearchResult
	for i := 0; i < len(indices); i++ {
		idx := indices[i]
		if idx < 0 || int(idx) >= len(s.positions) {
			continue
		}

		docID := s.positions[idx]
		if docID == "" {
			continue // 已删除或被覆盖的位置
		}

		doc, exists := s.documents[docID]
		if !exists {
			continue
		}

		if len(idFilter) > 0 && !idFilter[doc.ID] {
			continue
		}
		if !MatchMeta(doc.Meta, filter.Meta) {
			continue
		}

		score := DistanceToScore(distances[i], s.distanceType)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{Document: doc, Score: score})
		if len(results) >= k {
			break
		}
	}

	SortSearchResults(results)
	return results, nil
}

// Count 获取文档总数
func (s *FaissStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.documents)), nil
}

// MetadataValues 统计某个元数据键的取值分布
func (s *FaissStore) MetadataValues(ctx context.Context, key string) ([]MetadataCount, error) {
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

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})

	return result, nil
}

// Close 关闭存储，必要时持久化索引
func (s *FaissStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveOnClose && s.indexPath != "" {
		if err := s.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %v", err)
		}
	}
	return nil
}

// saveIndex 保存索引和文档数据到文件
func (s *FaissStore) saveIndex() error {
	if s.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	if err := faiss.WriteIndex(s.index, s.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	return s.saveMetadata()
}

// faissMetadata 持久化到sidecar文件的文档数据
type faissMetadata struct {
	Documents      map[string]Document `json:"documents"`
	Positions      []string            `json:"positions"`
	IDToPosition   map[string]int      `json:"id_to_position"`
	OperationCount int                 `json:"operation_count"`
}

// saveMetadata 保存文档数据到文件
func (s *FaissStore) saveMetadata() error {
	if s.metaPath == "" {
		return nil
	}

	metadata := faissMetadata{
		Documents:      s.documents,
		Positions:      s.positions,
		IDToPosition:   s.idToPosition,
		OperationCount: s.operationCount,
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(s.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

// loadMetadata 从文件加载文档数据
func (s *FaissStore) loadMetadata(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}

	var metadata faissMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}

	if metadata.Documents != nil {
		s.documents = metadata.Documents
	}
	if metadata.IDToPosition != nil {
		s.idToPosition = metadata.IDToPosition
	}
	s.positions = metadata.Positions
	s.operationCount = metadata.OperationCount
	return nil
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func init() {
	RegisterStore("faiss", NewFaissStore)
}
