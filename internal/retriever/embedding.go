package retriever

import (
	"context"
	"fmt"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/embedding"
)

// EmbeddingRetriever 基于向量相似度的检索器
// 先将查询文本转换为向量，再到文档存储中做相似度检索
type EmbeddingRetriever struct {
	store    docstore.Store        // 文档存储
	embedder embedding.Client      // 嵌入客户端
	batch    *embedding.DefaultBatchProcessor
	defaults docstore.SearchFilter // 默认过滤条件
}

// EmbeddingOption 向量检索器的构造选项
type EmbeddingOption func(*EmbeddingRetriever)

// WithEmbeddingTopK 设置默认的最大返回文档数
func WithEmbeddingTopK(topK int) EmbeddingOption {
	return func(r *EmbeddingRetriever) {
		if topK > 0 {
			r.defaults.MaxResults = topK
		}
	}
}

// WithEmbeddingMinScore 设置默认的最小相似度得分
func WithEmbeddingMinScore(score float64) EmbeddingOption {
	return func(r *EmbeddingRetriever) {
		r.defaults.MinScore = score
	}
}

// WithEmbeddingBatch 设置索引时批量嵌入的批次大小和并行度
func WithEmbeddingBatch(batchSize int, maxWorkers int) EmbeddingOption {
	return func(r *EmbeddingRetriever) {
		r.batch = embedding.NewBatchProcessor(r.embedder, batchSize, maxWorkers)
	}
}

// NewEmbeddingRetriever 创建向量相似度检索器
func NewEmbeddingRetriever(store docstore.Store, embedder embedding.Client, opts ...EmbeddingOption) (*EmbeddingRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}

	r := &EmbeddingRetriever{
		store:    store,
		embedder: embedder,
		defaults: docstore.DefaultSearchFilter(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.batch == nil {
		r.batch = embedding.NewBatchProcessor(embedder, 0, 0)
	}

	return r, nil
}

// Name 返回检索器名称
func (r *EmbeddingRetriever) Name() string {
	return "embedding"
}

// Retrieve 按向量相似度检索文档
func (r *EmbeddingRetriever) Retrieve(ctx context.Context, query string, opts ...Option) ([]docstore.Document, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	// 将查询文本转换为向量
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filter := buildFilter(r.defaults, opts)

	results, err := r.store.QueryByEmbedding(ctx, vector, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by embedding: %w", err)
	}

	return resultsToDocuments(results), nil
}

// EmbedDocuments 在索引阶段为一批文档填充向量表示
// 内容为空的文档保持Embedding为nil
func (r *EmbeddingRetriever) EmbedDocuments(ctx context.Context, docs []docstore.Document) ([]docstore.Document, error) {
	if len(docs) == 0 {
		return docs, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := r.batch.Process(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	result := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		if i < len(vectors) && len(vectors[i]) > 0 {
			doc.Embedding = vectors[i]
		}
		result[i] = doc
	}

	return result, nil
}
