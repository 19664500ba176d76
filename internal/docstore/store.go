package docstore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Store 文档存储接口
// 定义文档的写入、读取和检索操作
// 相关度排序由底层存储引擎负责，本包只负责调用和组装结果
type Store interface {
	// WriteDocuments 写入一批文档（按ID覆盖），返回写入数量
	WriteDocuments(ctx context.Context, docs []Document) (int, error)

	// GetDocument 根据ID获取单个文档
	GetDocument(ctx context.Context, id string) (Document, error)

	// GetAllDocuments 获取索引中的全部文档
	GetAllDocuments(ctx context.Context) ([]Document, error)

	// DeleteDocuments 删除指定ID的文档；ids为空时清空索引
	DeleteDocuments(ctx context.Context, ids []string) error

	// Query 按文本相关度检索文档
	Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error)

	// QueryByEmbedding 按向量相似度检索文档
	QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Count 获取文档总数
	Count(ctx context.Context) (int64, error)

	// MetadataValues 统计某个元数据键的取值分布
	// 键支持点号路径，如 classification.label
	MetadataValues(ctx context.Context, key string) ([]MetadataCount, error)

	// Close 关闭存储连接
	Close() error
}

// Config 文档存储配置
type Config struct {
	Type              string        // 存储类型，如 "elasticsearch", "memory", "faiss", "pgvector"
	Host              string        // 存储服务主机
	Port              int           // 存储服务端口
	Scheme            string        // 协议：http 或 https
	Username          string        // 认证用户名
	Password          string        // 认证密码
	Index             string        // 索引名称（pgvector下为表名）
	DSN               string        // pgvector 连接串
	Path              string        // faiss 索引文件路径
	Dimension         int           // 向量维度
	DistanceType      DistanceType  // 距离计算类型
	Timeout           time.Duration // 请求超时时间
	MaxRetries        int           // 最大重试次数
	CreateIfNotExists bool          // 索引不存在时是否创建
}

// Factory 文档存储工厂函数类型
type Factory func(config Config) (Store, error)

// StoreRegistry 注册可用的文档存储实现
var StoreRegistry = map[string]Factory{}

// RegisterStore 注册文档存储工厂函数
func RegisterStore(name string, factory Factory) {
	StoreRegistry[name] = factory
}

// NewStore 根据配置创建文档存储实例
func NewStore(config Config) (Store, error) {
	factory, ok := StoreRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryStore
	}
	return factory(config)
}

// ComputeDistance 计算两个向量间的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions do not match: %d vs %d", len(v1), len(v2))
	}

	switch distType {
	case Cosine:
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 计算余弦距离
func cosineDistance(v1, v2 []float32) float32 {
	// 余弦相似度 = 点积 / (||v1|| * ||v2||)
	// 余弦距离 = 1 - 余弦相似度
	dot := dotProduct(v1, v2)
	norm1 := vectorNorm(v1)
	norm2 := vectorNorm(v2)

	if norm1 == 0 || norm2 == 0 {
		return 1.0 // 最大距离
	}

	similarity := dot / (norm1 * norm2)
	// 处理浮点精度问题
	if similarity > 1.0 {
		similarity = 1.0
	}

	return 1.0 - similarity
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// euclideanDistance 计算欧几里德距离
func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// normalizeVector 归一化向量（使其长度为1）
func normalizeVector(v []float32) []float32 {
	norm := vectorNorm(v)
	if norm == 0 {
		return v // 零向量无法归一化
	}

	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// DistanceToScore 将距离转换为评分（0-1之间）
// 不同距离度量需要不同的转换方法
func DistanceToScore(distance float32, distType DistanceType) float64 {
	switch distType {
	case Cosine:
		// 余弦距离: 1 - distance (余弦距离已经是1-相似度)
		return float64(1 - distance)
	case DotProduct:
		// 点积: 对于归一化向量，范围通常在[-1, 1]之间
		// 转换为[0, 1]范围
		return float64((distance + 1) / 2)
	case Euclidean:
		// 欧几里德距离: 使用高斯衰减函数
		// 距离越小，分数越高
		return math.Exp(-float64(distance))
	default:
		return 0
	}
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}

	return nil
}

// FilterDocuments 根据过滤条件筛选文档
func FilterDocuments(docs []Document, filter SearchFilter) []Document {
	if len(docs) == 0 {
		return nil
	}

	var result []Document

	// 文档ID过滤
	idMap := make(map[string]bool)
	if len(filter.DocumentIDs) > 0 {
		for _, id := range filter.DocumentIDs {
			idMap[id] = true
		}
	}

	for _, doc := range docs {
		// 如果指定了ID过滤，检查当前文档是否匹配
		if len(idMap) > 0 && !idMap[doc.ID] {
			continue
		}

		// 元数据过滤
		if !MatchMeta(doc.Meta, filter.Meta) {
			continue
		}

		result = append(result, doc)
	}

	return result
}

// MatchMeta 检查文档元数据是否满足过滤条件
// 每个过滤键的取值列表为"任一匹配"语义
func MatchMeta(docMeta map[string]interface{}, filterMeta map[string][]string) bool {
	if len(filterMeta) == 0 {
		return true // 没有元数据过滤条件
	}

	for key, wanted := range filterMeta {
		value, exists := MetaValueAt(docMeta, key)
		if !exists {
			return false
		}

		matched := false
		for _, w := range wanted {
			if value == w {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// MetaValueAt 按点号路径读取元数据值，返回其字符串形式
func MetaValueAt(meta map[string]interface{}, key string) (string, bool) {
	if meta == nil {
		return "", false
	}

	parts := strings.Split(key, ".")
	var current interface{} = meta

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// SortSearchResults 对检索结果按得分排序（降序）
func SortSearchResults(results []SearchResult) {
	// 使用简单的插入排序（对小结果集足够高效）
	for i := 1; i < len(results); i++ {
		current := results[i]
		j := i - 1

		// 评分越高越靠前（降序）
		for j >= 0 && results[j].Score < current.Score {
			results[j+1] = results[j]
			j--
		}
		results[j+1] = current
	}
}
