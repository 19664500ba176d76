package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskDocumentConvert 文档转换任务
	TaskDocumentConvert TaskType = "document_convert"
	// TaskTextPreprocess 文本预处理任务
	TaskTextPreprocess TaskType = "text_preprocess"
	// TaskDocumentClassify 文档分类任务
	TaskDocumentClassify TaskType = "document_classify"
	// TaskDocumentIndex 文档索引任务
	TaskDocumentIndex TaskType = "document_index"
	// TaskProcessComplete 文档处理完整流程任务
	TaskProcessComplete TaskType = "process_complete"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DocumentID  string          `json:"document_id"`  // 关联的文档ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// DocumentConvertPayload 文档转换任务载荷
type DocumentConvertPayload struct {
	FilePath string            `json:"file_path"` // 文件存储路径
	FileName string            `json:"file_name"` // 文件名
	FileType string            `json:"file_type"` // 文件类型
	Metadata map[string]string `json:"metadata"`  // 元数据
}

// DocumentConvertResult 文档转换任务结果
type DocumentConvertResult struct {
	Content string            `json:"content"` // 转换后的纯文本内容
	Title   string            `json:"title"`   // 文档标题（如果有）
	Meta    map[string]string `json:"meta"`    // 提取的元数据
	Error   string            `json:"error"`   // 错误信息（如果有）
	Pages   int               `json:"pages"`   // 文档页数（如果适用）
	Words   int               `json:"words"`   // 单词数
	Chars   int               `json:"chars"`   // 字符数
}

// TextPreprocessPayload 文本预处理任务载荷
type TextPreprocessPayload struct {
	DocumentID   string `json:"document_id"`   // 文档ID
	Content      string `json:"content"`       // 文本内容
	SplitBy      string `json:"split_by"`      // 分割单位: word, sentence, passage, token
	SplitLength  int    `json:"split_length"`  // 每个分段包含的单位数量
	SplitOverlap int    `json:"split_overlap"` // 相邻分段重叠的单位数量
}

// ChunkInfo 分段信息
type ChunkInfo struct {
	Text  string `json:"text"`  // 分段文本
	Index int    `json:"index"` // 分段索引
}

// TextPreprocessResult 文本预处理任务结果
type TextPreprocessResult struct {
	DocumentID string      `json:"document_id"` // 文档ID
	Chunks     []ChunkInfo `json:"chunks"`      // 分段列表
	ChunkCount int         `json:"chunk_count"` // 分段数量
	Error      string      `json:"error"`       // 错误信息（如果有）
}

// DocumentClassifyPayload 文档分类任务载荷
type DocumentClassifyPayload struct {
	DocumentID string   `json:"document_id"` // 文档ID
	Text       string   `json:"text"`        // 待分类的文本
	Labels     []string `json:"labels"`      // 候选标签
	MultiLabel bool     `json:"multi_label"` // 是否允许多标签
}

// DocumentClassifyResult 文档分类任务结果
type DocumentClassifyResult struct {
	DocumentID string    `json:"document_id"` // 文档ID
	Label      string    `json:"label"`       // 置信度最高的标签
	Labels     []string  `json:"labels"`      // 候选标签，按置信度降序排列
	Scores     []float64 `json:"scores"`      // 与标签一一对应的置信度
	Error      string    `json:"error"`       // 错误信息（如果有）
}

// DocumentIndexPayload 文档索引任务载荷
type DocumentIndexPayload struct {
	DocumentID string      `json:"document_id"` // 文档ID
	Chunks     []ChunkInfo `json:"chunks"`      // 待写入的文本分段
	Label      string      `json:"label"`       // 文档分类标签（如果有）
	Model      string      `json:"model"`       // 嵌入模型名称，为空时不计算向量
}

// DocumentIndexResult 文档索引任务结果
type DocumentIndexResult struct {
	DocumentID   string `json:"document_id"`   // 文档ID
	IndexedCount int    `json:"indexed_count"` // 写入的分段数量
	Dimension    int    `json:"dimension"`     // 向量维度（未计算向量时为0）
	Error        string `json:"error"`         // 错误信息（如果有）
}

// ProcessCompletePayload 完整处理流程任务载荷
type ProcessCompletePayload struct {
	DocumentID   string            `json:"document_id"`   // 文档ID
	FilePath     string            `json:"file_path"`     // 文件路径
	FileName     string            `json:"file_name"`     // 文件名
	FileType     string            `json:"file_type"`     // 文件类型
	SplitBy      string            `json:"split_by"`      // 分割单位
	SplitLength  int               `json:"split_length"`  // 分段大小
	SplitOverlap int               `json:"split_overlap"` // 重叠大小
	Labels       []string          `json:"labels"`        // 分类候选标签，为空时跳过分类
	Model        string            `json:"model"`         // 嵌入模型
	Metadata     map[string]string `json:"metadata"`      // 元数据
}

// ProcessCompleteResult 完整处理流程结果
type ProcessCompleteResult struct {
	DocumentID       string `json:"document_id"`       // 文档ID
	ChunkCount       int    `json:"chunk_count"`       // 分段数量
	IndexedCount     int    `json:"indexed_count"`     // 写入索引的分段数量
	Label            string `json:"label"`             // 分类标签（如果进行了分类）
	ConvertStatus    string `json:"convert_status"`    // 转换状态
	PreprocessStatus string `json:"preprocess_status"` // 预处理状态
	ClassifyStatus   string `json:"classify_status"`   // 分类状态
	IndexStatus      string `json:"index_status"`      // 索引状态
	Error            string `json:"error"`             // 错误信息（如果有）
}

// TaskCallback 任务回调信息
type TaskCallback struct {
	TaskID     string          `json:"task_id"`     // 任务ID
	DocumentID string          `json:"document_id"` // 文档ID
	Status     TaskStatus      `json:"status"`      // 任务状态
	Type       TaskType        `json:"type"`        // 任务类型
	Result     json.RawMessage `json:"result"`      // 任务结果
	Error      string          `json:"error"`       // 错误信息
	Timestamp  time.Time       `json:"timestamp"`   // 回调时间戳
}
