package retriever

import (
	"context"
	"fmt"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
)

// BM25Retriever 基于文本相关度的检索器
// 相关度计算由底层存储引擎完成（如Elasticsearch的BM25），
// 本检索器只负责组装过滤条件和结果
type BM25Retriever struct {
	store    docstore.Store        // 文档存储
	defaults docstore.SearchFilter // 默认过滤条件
}

// BM25Option BM25检索器的构造选项
type BM25Option func(*BM25Retriever)

// WithBM25TopK 设置默认的最大返回文档数
func WithBM25TopK(topK int) BM25Option {
	return func(r *BM25Retriever) {
		if topK > 0 {
			r.defaults.MaxResults = topK
		}
	}
}

// WithBM25MinScore 设置默认的最小相关度得分
func WithBM25MinScore(score float64) BM25Option {
	return func(r *BM25Retriever) {
		r.defaults.MinScore = score
	}
}

// WithBM25Filters 设置默认的元数据过滤条件
func WithBM25Filters(filters map[string][]string) BM25Option {
	return func(r *BM25Retriever) {
		r.defaults.Meta = filters
	}
}

// NewBM25Retriever 创建文本相关度检索器
func NewBM25Retriever(store docstore.Store, opts ...BM25Option) (*BM25Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}

	r := &BM25Retriever{
		store:    store,
		defaults: docstore.DefaultSearchFilter(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Name 返回检索器名称
func (r *BM25Retriever) Name() string {
	return "bm25"
}

// Retrieve 按文本相关度检索文档
func (r *BM25Retriever) Retrieve(ctx context.Context, query string, opts ...Option) ([]docstore.Document, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	filter := buildFilter(r.defaults, opts)

	results, err := r.store.Query(ctx, query, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	return resultsToDocuments(results), nil
}
