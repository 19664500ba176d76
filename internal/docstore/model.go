package docstore

import (
	"errors"
)

// 常用错误定义
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidID        = errors.New("invalid document ID")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
	ErrEmptyQuery       = errors.New("empty query")
	ErrNotSupported     = errors.New("operation not supported by this store")
)

// MetaClassificationKey 分类结果在文档元数据中的键名
const MetaClassificationKey = "classification"

// Document 文档记录模型
// 写入文档存储的基本单元，包含文本内容和可变元数据
type Document struct {
	ID          string                 `json:"id"`                  // 唯一标识符
	Content     string                 `json:"content"`             // 文本内容
	ContentType string                 `json:"content_type"`        // 内容类型，如 "text"
	Meta        map[string]interface{} `json:"meta"`                // 附加元数据（可变）
	Embedding   []float32              `json:"embedding,omitempty"` // 可选的向量表示
}

// Classification 零样本分类结果
// 以嵌套映射的形式写入文档元数据的 classification 键下
type Classification struct {
	Sequence string    `json:"sequence"` // 被分类的原始文本
	Labels   []string  `json:"labels"`   // 候选标签，按置信度降序排列
	Scores   []float64 `json:"scores"`   // 与标签一一对应的置信度
	Label    string    `json:"label"`    // 置信度最高的标签
}

// ApplyToMeta 将分类结果合并到文档元数据中
// 不会覆盖元数据中的其他键；meta为nil时会创建新映射
func (c Classification) ApplyToMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		meta = make(map[string]interface{})
	}

	meta[MetaClassificationKey] = map[string]interface{}{
		"sequence": c.Sequence,
		"labels":   c.Labels,
		"scores":   c.Scores,
		"label":    c.Label,
	}

	return meta
}

// ClassificationFromMeta 从文档元数据中读取分类结果
// 兼容JSON反序列化后的interface{}切片形式
func ClassificationFromMeta(meta map[string]interface{}) (Classification, bool) {
	var c Classification

	if meta == nil {
		return c, false
	}

	raw, ok := meta[MetaClassificationKey].(map[string]interface{})
	if !ok {
		return c, false
	}

	if s, ok := raw["sequence"].(string); ok {
		c.Sequence = s
	}
	if l, ok := raw["label"].(string); ok {
		c.Label = l
	}

	switch labels := raw["labels"].(type) {
	case []string:
		c.Labels = labels
	case []interface{}:
		for _, v := range labels {
			if s, ok := v.(string); ok {
				c.Labels = append(c.Labels, s)
			}
		}
	}

	switch scores := raw["scores"].(type) {
	case []float64:
		c.Scores = scores
	case []interface{}:
		for _, v := range scores {
			if f, ok := v.(float64); ok {
				c.Scores = append(c.Scores, f)
			}
		}
	}

	return c, true
}

// Span 文本区间
// 起止位置以rune为单位，左闭右开
type Span struct {
	Start int `json:"start"` // 起始位置
	End   int `json:"end"`   // 结束位置（不含）
}

// Answer 抽取式问答的答案记录
// 答案是源文本中的一段原文，附带置信度、上下文和位置信息
type Answer struct {
	Answer           string                 `json:"answer"`             // 抽取出的答案原文
	Score            float64                `json:"score"`              // 置信度得分
	Context          string                 `json:"context"`            // 答案周围的上下文片段
	OffsetInDocument Span                   `json:"offset_in_document"` // 答案在文档内容中的位置
	OffsetInContext  Span                   `json:"offset_in_context"`  // 答案在上下文片段中的位置
	DocumentID       string                 `json:"document_id"`        // 答案来源文档ID
	Meta             map[string]interface{} `json:"meta,omitempty"`     // 来源文档的元数据
}

// IsNoAnswer 判断是否为"无答案"结果
// 部分模型用空答案表示在给定上下文中找不到答案
func (a Answer) IsNoAnswer() bool {
	return a.Answer == ""
}

// SearchResult 检索结果
type SearchResult struct {
	Document Document // 文档对象
	Score    float64  // 相关度得分
}

// SearchFilter 检索过滤条件
type SearchFilter struct {
	DocumentIDs []string            // 按文档ID过滤
	Meta        map[string][]string // 按元数据过滤，键支持点号路径（如 classification.label），值为任一匹配
	MinScore    float64             // 最小得分
	MaxResults  int                 // 最大返回结果数
}

// DefaultSearchFilter 返回默认的检索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{
		MinScore:   0.0,
		MaxResults: 10,
	}
}

// MetadataCount 元数据取值统计
// 用于查看某个元数据键的取值分布，如各分类标签下的文档数
type MetadataCount struct {
	Value string `json:"value"` // 元数据取值
	Count int64  `json:"count"` // 文档数量
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)
