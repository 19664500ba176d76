package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentStatus 文档生命周期状态
type DocumentStatus string

const (
	DocStatusUploaded   DocumentStatus = "uploaded"   // 已上传，等待处理
	DocStatusProcessing DocumentStatus = "processing" // 处理管线执行中
	DocStatusCompleted  DocumentStatus = "completed"  // 已完成索引，可检索问答
	DocStatusFailed     DocumentStatus = "failed"     // 处理失败，可重试
)

// ProcessStage 处理管线阶段，依次执行
type ProcessStage string

const (
	StageConverting    ProcessStage = "converting"    // 原始文件转纯文本
	StagePreprocessing ProcessStage = "preprocessing" // 清洗和分段
	StageClassifying   ProcessStage = "classifying"   // 零样本分类
	StageIndexing      ProcessStage = "indexing"      // 写入检索索引
	StageCompleted     ProcessStage = "completed"
)

// Document 文档元数据记录
// 正文段落存在检索索引里，这张表只记录状态、进度和分类结果
type Document struct {
	ID             string         `gorm:"primaryKey"`
	FileName       string         `gorm:"not null"`
	FileType       string         `gorm:"not null"`           // 小写扩展名，如pdf、md
	FilePath       string         `gorm:"not null"`           // 在文件存储中的路径
	FileSize       int64          `gorm:"not null"`           // 字节数
	Status         DocumentStatus `gorm:"not null;index"`
	UploadedAt     time.Time      `gorm:"not null;index"`
	ProcessedAt    *time.Time     `gorm:"index"`              // 完成索引的时间
	UpdatedAt      time.Time      `gorm:"not null;index"`
	Progress       int            `gorm:"not null;default:0"` // 0-100
	Error          string         `gorm:"type:text"`
	SegmentCount   int            `gorm:"not null;default:0"` // 分段后的段落数
	Label          string         `gorm:"size:100;index"`     // 置信度最高的分类标签
	Tags           string         `gorm:"type:varchar(255)"`  // 逗号分隔
	Metadata       datatypes.JSON `gorm:"type:json"`
	CurrentStage   ProcessStage   `gorm:"size:20"`
	CurrentTaskID  string         `gorm:"size:50;index"`  // 正在执行的队列任务
	LastTaskStatus string         `gorm:"size:20"`
	RetryCount     int            `gorm:"default:0"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

func (d *Document) BeforeUpdate(tx *gorm.DB) error {
	d.UpdatedAt = time.Now()
	return nil
}

func (Document) TableName() string {
	return "documents"
}

// DocumentSegment 段落记录
// 检索索引是段落的权威存储，这里保留数据库侧的副本便于关联查询
type DocumentSegment struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	DocumentID string         `gorm:"not null;index"`
	SegmentID  string         `gorm:"not null;uniqueIndex"` // 索引中的段落ID
	Position   int            `gorm:"not null"`             // 在文档中的顺序
	Text       string         `gorm:"type:text;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:"type:json"`
	TaskID     string         `gorm:"size:50;index"` // 产生此段落的索引任务
	VectorID   string         `gorm:"size:50"`       // 向量存储中的ID，未启用向量检索时为空
}

func (ds *DocumentSegment) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	return nil
}

func (ds *DocumentSegment) BeforeUpdate(tx *gorm.DB) error {
	ds.UpdatedAt = time.Now()
	return nil
}

func (DocumentSegment) TableName() string {
	return "document_segments"
}

// DocumentTask 队列任务的数据库镜像
// 队列记录7天过期，这张表保留完整的处理审计记录
type DocumentTask struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	DocumentID string         `gorm:"not null;index"`
	TaskID     string         `gorm:"not null;uniqueIndex"` // 队列中的任务ID
	TaskType   string         `gorm:"not null;size:50"`
	Status     string         `gorm:"not null;size:20"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
	StartedAt  *time.Time     `gorm:""`
	EndedAt    *time.Time     `gorm:""`
	Error      string         `gorm:"type:text"`
	Result     datatypes.JSON `gorm:"type:json"`
	Retries    int            `gorm:"default:0"`
	Progress   int            `gorm:"default:0"`
}

func (dt *DocumentTask) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	dt.CreatedAt = now
	dt.UpdatedAt = now
	return nil
}

func (dt *DocumentTask) BeforeUpdate(tx *gorm.DB) error {
	dt.UpdatedAt = time.Now()
	return nil
}

func (DocumentTask) TableName() string {
	return "document_tasks"
}
