package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QueryRecord 问答记录模型
// 记录一次提问及其检索、抽取的整体情况
type QueryRecord struct {
	ID          string         `gorm:"primaryKey"`         // 记录ID，主键
	Question    string         `gorm:"type:text;not null"` // 提问内容
	CreatedAt   time.Time      `gorm:"not null;index"`     // 创建时间
	AnswerCount int            `gorm:"not null;default:0"` // 返回的答案数量
	TopScore    float64        `gorm:"default:0"`          // 最高答案置信度
	Labels      string         `gorm:"type:varchar(255)"`  // 过滤用的分类标签，逗号分隔
	Filters     datatypes.JSON `gorm:"type:json"`          // 检索过滤条件，JSON格式
	DurationMs  int64          `gorm:"default:0"`          // 处理耗时（毫秒）
	FromCache   bool           `gorm:"default:false"`      // 是否命中缓存
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (qr *QueryRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if qr.CreatedAt.IsZero() {
		qr.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (QueryRecord) TableName() string {
	return "query_records"
}

// QueryAnswer 问答记录中的单条答案
type QueryAnswer struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	RecordID   string         `gorm:"not null;index"`           // 所属问答记录ID
	Answer     string         `gorm:"type:text"`                // 答案文本
	Score      float64        `gorm:"not null"`                 // 置信度
	Context    string         `gorm:"type:text"`                // 答案所在的上下文片段
	DocumentID string         `gorm:"size:64;index"`            // 答案来源文档ID
	Position   int            `gorm:"not null;default:0"`       // 答案排名位置
	CreatedAt  time.Time      `gorm:"not null"`                 // 创建时间
	Offsets    datatypes.JSON `gorm:"type:json"`                // 答案位置信息，JSON格式
	Metadata   datatypes.JSON `gorm:"type:json"`                // 来源文档元数据
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (qa *QueryAnswer) BeforeCreate(tx *gorm.DB) (err error) {
	if qa.CreatedAt.IsZero() {
		qa.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (QueryAnswer) TableName() string {
	return "query_answers"
}
