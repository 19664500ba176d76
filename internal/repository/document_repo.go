package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/database"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var log = logrus.New()

// docRepository 文档仓储实现
// 文档元数据走数据库，任务状态走队列，任务的数据库记录只是审计镜像
type docRepository struct {
	db        *gorm.DB
	taskQueue taskqueue.Queue
	ctx       context.Context
}

// NewDocumentRepository 创建文档仓储，使用全局数据库连接
func NewDocumentRepository() DocumentRepository {
	return &docRepository{
		db:  database.MustDB(),
		ctx: context.Background(),
	}
}

// NewDocumentRepositoryWithDB 使用指定连接创建仓储
func NewDocumentRepositoryWithDB(db *gorm.DB) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &docRepository{
		db:  db,
		ctx: context.Background(),
	}
}

// NewDocumentRepositoryWithQueue 创建挂接任务队列的仓储
// 只有这种仓储能创建和查询处理任务
func NewDocumentRepositoryWithQueue(db *gorm.DB, queue taskqueue.Queue) DocumentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &docRepository{
		db:        db,
		taskQueue: queue,
		ctx:       context.Background(),
	}
}

// Create 创建文档记录
func (r *docRepository) Create(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Create(doc).Error
}

// Update 整体覆盖文档记录
func (r *docRepository) Update(doc *models.Document) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Save(doc).Error
}

// GetByID 按ID查询文档
func (r *docRepository) GetByID(id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, err
	}
	return &doc, nil
}

// List 分页查询文档，按上传时间倒序
func (r *docRepository) List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	var docs []*models.Document
	var total int64

	query := applyDocumentFilters(r.db.Model(&models.Document{}), filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("uploaded_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// applyDocumentFilters 把过滤条件转成查询子句
// 支持状态、标签、分类标签、上传时间范围和文件名模糊匹配
func applyDocumentFilters(query *gorm.DB, filters map[string]interface{}) *gorm.DB {
	if filters == nil {
		return query
	}

	if status, ok := filters["status"]; ok {
		// handler传入string，服务层有时传DocumentStatus
		if s := fmt.Sprintf("%v", status); s != "" {
			query = query.Where("status = ?", s)
		}
	}

	if tags, ok := filters["tags"].(string); ok && tags != "" {
		query = query.Where("tags LIKE ?", "%"+tags+"%")
	}

	if label, ok := filters["label"].(string); ok && label != "" {
		query = query.Where("label = ?", label)
	}

	if startTime, ok := filters["start_time"].(string); ok && startTime != "" {
		query = query.Where("uploaded_at >= ?", startTime)
	}
	if endTime, ok := filters["end_time"].(string); ok && endTime != "" {
		query = query.Where("uploaded_at <= ?", endTime)
	}

	if fileName, ok := filters["file_name"].(string); ok && fileName != "" {
		query = query.Where("file_name LIKE ?", "%"+fileName+"%")
	}

	return query
}

// Delete 删除文档及其段落，并清理队列中的关联任务
func (r *docRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentSegment{}).Error; err != nil {
			return err
		}

		if err := tx.Where("id = ?", id).Delete(&models.Document{}).Error; err != nil {
			return err
		}

		if r.taskQueue != nil {
			ctx := r.getContext()
			tasks, err := r.taskQueue.GetTasksByDocument(ctx, id)
			if err == nil {
				for _, task := range tasks {
					// 任务可能已过期被清理
					_ = r.taskQueue.DeleteTask(ctx, task.ID)
				}
			}
		}

		return nil
	})
}

// UpdateStatus 更新文档状态
// 进入终态时一并写入processed_at
func (r *docRepository) UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}

	if errorMsg != "" {
		updates["error"] = errorMsg
	}

	if status == models.DocStatusCompleted || status == models.DocStatusFailed {
		now := time.Now()
		updates["processed_at"] = &now
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateProgress 更新处理进度，越界值截断到0-100
func (r *docRepository) UpdateProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now(),
		}).Error
}

// UpdateLabel 写入分类阶段产出的标签
func (r *docRepository) UpdateLabel(id string, label string) error {
	return r.db.Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"label":      label,
			"updated_at": time.Now(),
		}).Error
}

// SaveSegment 保存单个段落
func (r *docRepository) SaveSegment(segment *models.DocumentSegment) error {
	return r.db.Create(segment).Error
}

// SaveSegments 批量保存段落
func (r *docRepository) SaveSegments(segments []*models.DocumentSegment) error {
	if len(segments) == 0 {
		return nil
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(segments, 100).Error
	})
}

// GetSegments 按位置顺序返回文档段落
func (r *docRepository) GetSegments(docID string) ([]*models.DocumentSegment, error) {
	var segments []*models.DocumentSegment
	err := r.db.Where("document_id = ?", docID).
		Order("position ASC").
		Find(&segments).Error
	return segments, err
}

// CountSegments 统计文档段落数
func (r *docRepository) CountSegments(docID string) (int, error) {
	var count int64
	err := r.db.Model(&models.DocumentSegment{}).
		Where("document_id = ?", docID).
		Count(&count).Error
	return int(count), err
}

// DeleteSegments 删除文档的全部段落
func (r *docRepository) DeleteSegments(docID string) error {
	return r.db.Where("document_id = ?", docID).
		Delete(&models.DocumentSegment{}).Error
}

// WithContext 返回绑定上下文的仓储副本
func (r *docRepository) WithContext(ctx context.Context) DocumentRepository {
	return &docRepository{
		db:        r.db.WithContext(ctx),
		taskQueue: r.taskQueue,
		ctx:       ctx,
	}
}

func (r *docRepository) getContext() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// GetDocumentTasks 查询文档的处理任务
func (r *docRepository) GetDocumentTasks(ctx context.Context, documentID string) ([]*taskqueue.Task, error) {
	if r.taskQueue == nil {
		return nil, errors.New("task queue not initialized")
	}
	return r.taskQueue.GetTasksByDocument(ctx, documentID)
}

// GetTaskByID 查询单个任务
func (r *docRepository) GetTaskByID(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	if r.taskQueue == nil {
		return nil, errors.New("task queue not initialized")
	}
	return r.taskQueue.GetTask(ctx, taskID)
}

// CreateTask 入队处理任务并登记数据库镜像记录
func (r *docRepository) CreateTask(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}) (string, error) {
	if r.taskQueue == nil {
		return "", errors.New("task queue not initialized")
	}

	if _, err := r.GetByID(documentID); err != nil {
		return "", err
	}

	taskID, err := r.taskQueue.Enqueue(ctx, taskType, documentID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	// 镜像记录写失败不影响任务执行，队列才是权威状态
	record := &models.DocumentTask{
		DocumentID: documentID,
		TaskID:     taskID,
		TaskType:   string(taskType),
		Status:     string(taskqueue.StatusPending),
	}
	if err := r.db.Create(record).Error; err != nil {
		log.WithError(err).WithField("task_id", taskID).Warn("Failed to record task")
	}

	if err := r.UpdateStatus(documentID, models.DocStatusProcessing, ""); err != nil {
		log.WithError(err).WithField("document_id", documentID).Warn("Failed to update document status")
	}

	return taskID, nil
}

// UpdateTaskStatus 更新任务状态并联动文档状态
func (r *docRepository) UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error {
	if r.taskQueue == nil {
		return errors.New("task queue not initialized")
	}

	task, err := r.taskQueue.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := r.taskQueue.UpdateTaskStatus(ctx, taskID, status, result, errorMsg); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	if err := r.taskQueue.NotifyTaskUpdate(ctx, taskID); err != nil {
		log.WithError(err).WithField("task_id", taskID).Warn("Failed to notify task update")
	}

	r.syncTaskRecord(taskID, status, result, errorMsg)

	if task.DocumentID == "" {
		return nil
	}

	var docStatus models.DocumentStatus
	var docError string
	switch status {
	case taskqueue.StatusCompleted:
		docStatus = models.DocStatusCompleted
	case taskqueue.StatusFailed:
		docStatus = models.DocStatusFailed
		docError = errorMsg
	case taskqueue.StatusProcessing:
		docStatus = models.DocStatusProcessing
	default:
		return nil
	}

	if err := r.UpdateStatus(task.DocumentID, docStatus, docError); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

// syncTaskRecord 把队列中的任务状态同步到数据库镜像
func (r *docRepository) syncTaskRecord(taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": now,
	}

	switch status {
	case taskqueue.StatusProcessing:
		updates["started_at"] = &now
	case taskqueue.StatusCompleted, taskqueue.StatusFailed:
		updates["ended_at"] = &now
	}

	if errorMsg != "" {
		updates["error"] = errorMsg
	}

	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			updates["result"] = datatypes.JSON(data)
		}
	}

	err := r.db.Model(&models.DocumentTask{}).
		Where("task_id = ?", taskID).
		Updates(updates).Error
	if err != nil {
		log.WithError(err).WithField("task_id", taskID).Warn("Failed to sync task record")
	}
}

// DeleteTask 从队列删除任务
func (r *docRepository) DeleteTask(ctx context.Context, taskID string) error {
	if r.taskQueue == nil {
		return errors.New("task queue not initialized")
	}
	return r.taskQueue.DeleteTask(ctx, taskID)
}
