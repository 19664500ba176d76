package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/database"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryRepository 问答历史仓储接口
// 负责问答记录和答案的存储和检索
type HistoryRepository interface {
	// CreateRecord 创建问答记录
	CreateRecord(record *models.QueryRecord) error

	// GetRecord 获取问答记录
	GetRecord(id string) (*models.QueryRecord, error)

	// ListRecords 列出问答记录，支持分页和筛选
	ListRecords(offset, limit int, filters map[string]interface{}) ([]*models.QueryRecord, int64, error)

	// DeleteRecord 删除问答记录
	DeleteRecord(id string) error

	// SaveAnswers 批量保存问答记录的答案
	SaveAnswers(answers []*models.QueryAnswer) error

	// GetAnswers 获取问答记录的答案列表
	GetAnswers(recordID string) ([]*models.QueryAnswer, error)

	// GetRecentQuestions 获取最近的提问
	GetRecentQuestions(limit int) ([]*models.QueryRecord, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) HistoryRepository
}

// historyRepo 问答历史仓储实现
type historyRepo struct {
	db *gorm.DB // 数据库连接
}

// NewHistoryRepository 创建问答历史仓储实例
func NewHistoryRepository() HistoryRepository {
	return &historyRepo{
		db: database.MustDB(),
	}
}

// NewHistoryRepositoryWithDB 使用指定的数据库连接创建问答历史仓储实例
func NewHistoryRepositoryWithDB(db *gorm.DB) HistoryRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &historyRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *historyRepo) WithContext(ctx context.Context) HistoryRepository {
	return &historyRepo{
		db: r.db.WithContext(ctx),
	}
}

// CreateRecord 创建问答记录
func (r *historyRepo) CreateRecord(record *models.QueryRecord) error {
	if record.Question == "" {
		return errors.New("question cannot be empty")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	// 确保时间字段被设置
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	return r.db.Create(record).Error
}

// GetRecord 获取问答记录
func (r *historyRepo) GetRecord(id string) (*models.QueryRecord, error) {
	var record models.QueryRecord
	err := r.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrQueryRecordNotFound, id)
		}
		return nil, err
	}
	return &record, nil
}

// ListRecords 列出问答记录，支持分页和筛选
func (r *historyRepo) ListRecords(offset, limit int, filters map[string]interface{}) ([]*models.QueryRecord, int64, error) {
	var records []*models.QueryRecord
	var total int64

	// 创建查询构造器
	query := r.db.Model(&models.QueryRecord{})

	// 应用筛选条件
	if filters != nil {
		// 提问关键词搜索
		if question, ok := filters["question"].(string); ok && question != "" {
			query = query.Where("question LIKE ?", "%"+question+"%")
		}

		// 标签过滤
		if label, ok := filters["label"].(string); ok && label != "" {
			query = query.Where("labels LIKE ?", "%"+label+"%")
		}

		// 时间范围过滤
		if startTime, ok := filters["start_time"].(time.Time); ok {
			query = query.Where("created_at >= ?", startTime)
		}

		if endTime, ok := filters["end_time"].(time.Time); ok {
			query = query.Where("created_at <= ?", endTime)
		}

		// 只看有答案的记录
		if answered, ok := filters["answered"].(bool); ok && answered {
			query = query.Where("answer_count > 0")
		}
	}

	// 获取总数
	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// 应用排序和分页
	err = query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error

	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// DeleteRecord 删除问答记录
func (r *historyRepo) DeleteRecord(id string) error {
	// 开启事务
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 1. 删除记录的所有答案
		if err := tx.Where("record_id = ?", id).Delete(&models.QueryAnswer{}).Error; err != nil {
			return err
		}

		// 2. 删除问答记录
		if err := tx.Where("id = ?", id).Delete(&models.QueryRecord{}).Error; err != nil {
			return err
		}

		return nil
	})
}

// SaveAnswers 批量保存问答记录的答案
func (r *historyRepo) SaveAnswers(answers []*models.QueryAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	for _, answer := range answers {
		if answer.RecordID == "" {
			return errors.New("record ID cannot be empty")
		}
	}

	// 使用事务批量插入
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(answers, 100).Error
	})
}

// GetAnswers 获取问答记录的答案列表
func (r *historyRepo) GetAnswers(recordID string) ([]*models.QueryAnswer, error) {
	// 先检查记录是否存在
	var exists int64
	err := r.db.Model(&models.QueryRecord{}).
		Where("id = ?", recordID).
		Count(&exists).Error

	if err != nil {
		return nil, err
	}

	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrQueryRecordNotFound, recordID)
	}

	var answers []*models.QueryAnswer
	err = r.db.Where("record_id = ?", recordID).
		Order("position ASC").
		Find(&answers).Error

	if err != nil {
		return nil, err
	}

	return answers, nil
}

// GetRecentQuestions 获取最近的提问
func (r *historyRepo) GetRecentQuestions(limit int) ([]*models.QueryRecord, error) {
	var records []*models.QueryRecord

	err := r.db.Order("created_at DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		return nil, err
	}

	return records, nil
}
