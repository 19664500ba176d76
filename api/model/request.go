package model

import (
	"mime/multipart"
	"time"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// GetOffset 根据页码计算记录偏移量
func (p *PaginationRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File         *multipart.FileHeader `form:"file" binding:"required"`                                  // 文件对象
	Labels       string                `form:"labels" json:"labels" binding:"omitempty"`                 // 分类候选标签，逗号分隔
	Tags         string                `form:"tags" json:"tags" binding:"omitempty"`                     // 文档标签，逗号分隔
	Metadata     map[string]string     `form:"metadata" json:"metadata" binding:"omitempty"`             // 文档元数据
	SplitBy      string                `form:"split_by" json:"split_by" binding:"omitempty,splitunit"`   // 分段单位
	SplitLength  int                   `form:"split_length" json:"split_length" binding:"omitempty,min=1"`  // 每段单位数量
	SplitOverlap int                   `form:"split_overlap" json:"split_overlap" binding:"omitempty,min=0"` // 分段重叠单位数量
}

// DocumentStatusRequest 文档状态查询请求
type DocumentStatusRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	StartTime *time.Time `form:"start_time" json:"start_time" binding:"omitempty"` // 开始时间
	EndTime   *time.Time `form:"end_time" json:"end_time" binding:"omitempty"`     // 结束时间
	Status    string     `form:"status" json:"status" binding:"omitempty"`         // 文档状态
	Label     string     `form:"label" json:"label" binding:"omitempty"`           // 分类标签过滤
}

// DocumentDeleteRequest 文档删除请求
type DocumentDeleteRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// QARequest 问答请求
type QARequest struct {
	Question string              `json:"question" binding:"required"` // 问题内容
	Labels   []string            `json:"labels" binding:"omitempty"`  // 可选的分类标签，限定答案来源
	Filters  map[string][]string `json:"filters" binding:"omitempty"` // 可选的元数据过滤条件
}

// SearchRequest 文档检索请求
type SearchRequest struct {
	Query   string              `json:"query" binding:"required"`    // 检索语句
	Filters map[string][]string `json:"filters" binding:"omitempty"` // 可选的元数据过滤条件
}

// ClassifyRequest 即席分类请求
// 用于在不入库的情况下预览零样本分类结果
type ClassifyRequest struct {
	Texts  []string `json:"texts" binding:"required,min=1"` // 待分类文本列表
	Labels []string `json:"labels" binding:"omitempty"`     // 本次请求的候选标签，为空时使用服务默认标签
}

// HistoryListRequest 问答历史列表请求
type HistoryListRequest struct {
	PaginationRequest
	Question string `form:"question" json:"question" binding:"omitempty"` // 按问题内容模糊过滤
	Label    string `form:"label" json:"label" binding:"omitempty"`       // 按分类标签过滤
	Answered *bool  `form:"answered" json:"answered" binding:"omitempty"` // 是否只看有答案的记录
}

// HistoryRecordRequest 问答历史详情请求
type HistoryRecordRequest struct {
	ID string `uri:"id" binding:"required"` // 记录ID
}
