package retriever

import (
	"context"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
)

// Retriever 文档检索器接口
// 屏蔽底层检索方式的差异，为问答流程返回相关度最高的文档
type Retriever interface {
	// Retrieve 根据查询文本检索相关文档，按相关度降序排列
	Retrieve(ctx context.Context, query string, opts ...Option) ([]docstore.Document, error)

	// Name 返回检索器名称
	Name() string
}

// Options 单次检索的可选参数
type Options struct {
	TopK     int                 // 最大返回文档数，0表示使用检索器默认值
	MinScore float64             // 最小相关度得分
	Filters  map[string][]string // 元数据过滤条件，键支持点号路径
	IDs      []string            // 按文档ID过滤
}

// Option 检索选项函数类型
type Option func(*Options)

// WithTopK 设置最大返回文档数
func WithTopK(topK int) Option {
	return func(o *Options) {
		o.TopK = topK
	}
}

// WithMinScore 设置最小相关度得分
func WithMinScore(score float64) Option {
	return func(o *Options) {
		o.MinScore = score
	}
}

// WithFilters 设置元数据过滤条件
func WithFilters(filters map[string][]string) Option {
	return func(o *Options) {
		if o.Filters == nil {
			o.Filters = make(map[string][]string)
		}
		for key, values := range filters {
			o.Filters[key] = values
		}
	}
}

// WithLabels 按分类标签过滤，匹配任一给定标签的文档
func WithLabels(labels ...string) Option {
	return func(o *Options) {
		if len(labels) == 0 {
			return
		}
		if o.Filters == nil {
			o.Filters = make(map[string][]string)
		}
		o.Filters[docstore.MetaClassificationKey+".label"] = labels
	}
}

// WithDocumentIDs 按文档ID过滤
func WithDocumentIDs(ids ...string) Option {
	return func(o *Options) {
		o.IDs = ids
	}
}

// buildFilter 将检索选项合并为存储层的过滤器
// 调用方的选项优先于检索器自身的默认值
func buildFilter(defaults docstore.SearchFilter, opts []Option) docstore.SearchFilter {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	filter := docstore.SearchFilter{
		MinScore:   defaults.MinScore,
		MaxResults: defaults.MaxResults,
	}

	// 复制默认过滤条件，避免共享底层映射
	if len(defaults.Meta) > 0 {
		filter.Meta = make(map[string][]string, len(defaults.Meta))
		for key, values := range defaults.Meta {
			filter.Meta[key] = values
		}
	}
	filter.DocumentIDs = append(filter.DocumentIDs, defaults.DocumentIDs...)

	if options.TopK > 0 {
		filter.MaxResults = options.TopK
	}
	if options.MinScore > 0 {
		filter.MinScore = options.MinScore
	}
	if len(options.Filters) > 0 {
		if filter.Meta == nil {
			filter.Meta = make(map[string][]string, len(options.Filters))
		}
		for key, values := range options.Filters {
			filter.Meta[key] = values
		}
	}
	if len(options.IDs) > 0 {
		filter.DocumentIDs = options.IDs
	}

	return filter
}

// resultsToDocuments 从检索结果中取出文档列表
// 相关度得分写入元数据的 _score 键，便于上层流程使用
func resultsToDocuments(results []docstore.SearchResult) []docstore.Document {
	docs := make([]docstore.Document, 0, len(results))
	for _, result := range results {
		doc := result.Document
		if doc.Meta == nil {
			doc.Meta = make(map[string]interface{})
		}
		doc.Meta["_score"] = result.Score
		docs = append(docs, doc)
	}
	return docs
}
