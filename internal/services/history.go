package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/sirupsen/logrus"
)

// HistoryService 问答历史服务
// 负责问答记录的查询和管理业务逻辑
type HistoryService struct {
	repo   repository.HistoryRepository // 问答历史仓储接口
	logger *logrus.Logger               // 日志记录器
}

// HistoryOption 问答历史服务配置选项
type HistoryOption func(*HistoryService)

// NewHistoryService 创建问答历史服务实例
func NewHistoryService(repo repository.HistoryRepository, opts ...HistoryOption) *HistoryService {
	// 创建服务实例
	service := &HistoryService{
		repo:   repo,
		logger: logrus.New(),
	}

	// 应用配置选项
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// WithHistoryLogger 设置日志记录器
func WithHistoryLogger(logger *logrus.Logger) HistoryOption {
	return func(s *HistoryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// ListRecords 列出问答记录
func (s *HistoryService) ListRecords(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.QueryRecord, int64, error) {
	// 从仓储获取记录列表
	records, total, err := s.repo.WithContext(ctx).ListRecords(offset, limit, filters)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list query records")
		return nil, 0, fmt.Errorf("failed to list query records: %w", err)
	}

	return records, total, nil
}

// GetRecord 获取问答记录详情，包含答案明细
func (s *HistoryService) GetRecord(ctx context.Context, recordID string) (*models.QueryRecord, []*models.QueryAnswer, error) {
	if recordID == "" {
		return nil, nil, errors.New("record ID cannot be empty")
	}

	repo := s.repo.WithContext(ctx)

	// 从仓储获取记录
	record, err := repo.GetRecord(recordID)
	if err != nil {
		s.logger.WithError(err).WithField("record_id", recordID).Error("Failed to get query record")
		return nil, nil, fmt.Errorf("failed to get query record: %w", err)
	}

	// 获取记录的答案明细
	answers, err := repo.GetAnswers(recordID)
	if err != nil {
		s.logger.WithError(err).WithField("record_id", recordID).Error("Failed to get query answers")
		return nil, nil, fmt.Errorf("failed to get query answers: %w", err)
	}

	return record, answers, nil
}

// DeleteRecord 删除问答记录及其答案
func (s *HistoryService) DeleteRecord(ctx context.Context, recordID string) error {
	if recordID == "" {
		return errors.New("record ID cannot be empty")
	}

	// 从数据库删除
	err := s.repo.WithContext(ctx).DeleteRecord(recordID)
	if err != nil {
		s.logger.WithError(err).WithField("record_id", recordID).Error("Failed to delete query record")
		return fmt.Errorf("failed to delete query record: %w", err)
	}

	s.logger.WithField("record_id", recordID).Info("Query record deleted")
	return nil
}

// GetRecentQuestions 获取最近的提问记录
func (s *HistoryService) GetRecentQuestions(ctx context.Context, limit int) ([]*models.QueryRecord, error) {
	if limit <= 0 {
		limit = 10 // 默认获取10条
	}

	// 从仓储获取最近提问
	records, err := s.repo.WithContext(ctx).GetRecentQuestions(limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get recent questions")
		return nil, fmt.Errorf("failed to get recent questions: %w", err)
	}

	return records, nil
}
