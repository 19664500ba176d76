package model

import (
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	FileID   string `json:"file_id"`  // 文件ID
	FileName string `json:"filename"` // 文件名
	Status   string `json:"status"`   // 文档状态：uploaded、processing、completed、failed
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	FileID    string `json:"file_id"`            // 文档ID
	Status    string `json:"status"`             // 处理状态
	FileName  string `json:"filename"`           // 文件名
	Label     string `json:"label,omitempty"`    // 分类标签（如果已分类）
	Progress  int    `json:"progress"`           // 处理进度（0-100）
	Error     string `json:"error,omitempty"`    // 错误信息（如果有）
	Segments  int    `json:"segments,omitempty"` // 分段数量（处理完成后）
	CreatedAt string `json:"created_at"`         // 创建时间
	UpdatedAt string `json:"updated_at"`         // 更新时间
}

// DocumentInfo 文档信息
type DocumentInfo struct {
	FileID     string    `json:"file_id"`         // 文件ID
	FileName   string    `json:"filename"`        // 文件名
	Status     string    `json:"status"`          // 状态
	Label      string    `json:"label,omitempty"` // 分类标签
	Tags       string    `json:"tags,omitempty"`  // 标签
	UploadTime time.Time `json:"upload_time"`     // 上传时间
	Segments   int       `json:"segments"`        // 分段数量
}

// NewDocumentInfo 将文档模型转换为响应信息
func NewDocumentInfo(doc *models.Document) DocumentInfo {
	return DocumentInfo{
		FileID:     doc.ID,
		FileName:   doc.FileName,
		Status:     string(doc.Status),
		Label:      doc.Label,
		Tags:       doc.Tags,
		UploadTime: doc.UploadedAt,
		Segments:   doc.SegmentCount,
	}
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	FileID  string `json:"file_id"` // 文件ID
}

// LabelCount 标签统计信息
type LabelCount struct {
	Label string `json:"label"` // 分类标签
	Count int64  `json:"count"` // 文档分段数量
}

// LabelListResponse 标签列表响应
type LabelListResponse struct {
	Labels []LabelCount `json:"labels"` // 标签统计列表
}

// AnswerInfo 单条抽取式答案
type AnswerInfo struct {
	Answer           string                 `json:"answer"`             // 答案原文
	Score            float64                `json:"score"`              // 置信度得分
	Context          string                 `json:"context"`            // 答案所在的上下文片段
	DocumentID       string                 `json:"document_id"`        // 来源文档ID
	OffsetInDocument docstore.Span          `json:"offset_in_document"` // 答案在文档中的位置
	OffsetInContext  docstore.Span          `json:"offset_in_context"`  // 答案在上下文中的位置
	Meta             map[string]interface{} `json:"meta,omitempty"`     // 来源文档元数据
}

// ConvertToAnswerInfo 将抽取结果转换为响应信息
func ConvertToAnswerInfo(answers []docstore.Answer) []AnswerInfo {
	if len(answers) == 0 {
		return []AnswerInfo{}
	}

	result := make([]AnswerInfo, len(answers))
	for i, ans := range answers {
		result[i] = AnswerInfo{
			Answer:           ans.Answer,
			Score:            ans.Score,
			Context:          ans.Context,
			DocumentID:       ans.DocumentID,
			OffsetInDocument: ans.OffsetInDocument,
			OffsetInContext:  ans.OffsetInContext,
			Meta:             ans.Meta,
		}
	}
	return result
}

// QAResponse 问答响应
type QAResponse struct {
	Question   string       `json:"question"`            // 用户问题
	Answers    []AnswerInfo `json:"answers"`             // 抽取出的答案，按置信度降序
	NoAnswer   bool         `json:"no_answer"`           // 是否未找到答案
	Message    string       `json:"message,omitempty"`   // 未找到答案时的提示信息
	FromCache  bool         `json:"from_cache"`          // 是否命中缓存
	RecordID   string       `json:"record_id,omitempty"` // 问答历史记录ID
	DurationMs int64        `json:"duration_ms"`         // 处理耗时（毫秒）
}

// SearchResultInfo 单条检索结果
type SearchResultInfo struct {
	DocumentID string                 `json:"document_id"`    // 文档ID
	Content    string                 `json:"content"`        // 文本内容
	Meta       map[string]interface{} `json:"meta,omitempty"` // 元数据（含检索得分）
}

// SearchResponse 检索响应
type SearchResponse struct {
	Query   string             `json:"query"`   // 检索语句
	Total   int                `json:"total"`   // 结果数量
	Results []SearchResultInfo `json:"results"` // 检索结果列表
}

// ConvertToSearchResults 将检索到的文档转换为响应信息
func ConvertToSearchResults(docs []docstore.Document) []SearchResultInfo {
	if len(docs) == 0 {
		return []SearchResultInfo{}
	}

	results := make([]SearchResultInfo, len(docs))
	for i, doc := range docs {
		results[i] = SearchResultInfo{
			DocumentID: doc.ID,
			Content:    doc.Content,
			Meta:       doc.Meta,
		}
	}
	return results
}

// ClassifyResultInfo 单条分类结果
type ClassifyResultInfo struct {
	Sequence string    `json:"sequence"` // 被分类的原始文本
	Label    string    `json:"label"`    // 置信度最高的标签
	Labels   []string  `json:"labels"`   // 候选标签，按置信度降序排列
	Scores   []float64 `json:"scores"`   // 各标签的置信度
}

// ClassifyResponse 即席分类响应
type ClassifyResponse struct {
	Model   string               `json:"model"`   // 使用的分类模型
	Results []ClassifyResultInfo `json:"results"` // 分类结果列表
}

// HistoryRecordInfo 问答历史记录信息
type HistoryRecordInfo struct {
	RecordID    string    `json:"record_id"`        // 记录ID
	Question    string    `json:"question"`         // 提问内容
	AnswerCount int       `json:"answer_count"`     // 答案数量
	TopScore    float64   `json:"top_score"`        // 最高答案置信度
	Labels      string    `json:"labels,omitempty"` // 过滤用的分类标签
	FromCache   bool      `json:"from_cache"`       // 是否命中缓存
	DurationMs  int64     `json:"duration_ms"`      // 处理耗时（毫秒）
	CreatedAt   time.Time `json:"created_at"`       // 创建时间
}

// NewHistoryRecordInfo 将历史记录模型转换为响应信息
func NewHistoryRecordInfo(record *models.QueryRecord) HistoryRecordInfo {
	return HistoryRecordInfo{
		RecordID:    record.ID,
		Question:    record.Question,
		AnswerCount: record.AnswerCount,
		TopScore:    record.TopScore,
		Labels:      record.Labels,
		FromCache:   record.FromCache,
		DurationMs:  record.DurationMs,
		CreatedAt:   record.CreatedAt,
	}
}

// HistoryAnswerInfo 历史答案信息
type HistoryAnswerInfo struct {
	Answer     string  `json:"answer"`      // 答案文本
	Score      float64 `json:"score"`       // 置信度
	Context    string  `json:"context"`     // 上下文片段
	DocumentID string  `json:"document_id"` // 来源文档ID
	Position   int     `json:"position"`    // 答案排名位置
}

// HistoryListResponse 问答历史列表响应
type HistoryListResponse struct {
	Total    int64               `json:"total"`     // 总记录数
	Page     int                 `json:"page"`      // 当前页码
	PageSize int                 `json:"page_size"` // 每页大小
	Records  []HistoryRecordInfo `json:"records"`   // 记录列表
}

// HistoryRecordResponse 问答历史详情响应
type HistoryRecordResponse struct {
	Record  HistoryRecordInfo   `json:"record"`  // 记录信息
	Answers []HistoryAnswerInfo `json:"answers"` // 记录的答案列表
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
