package repository

import (
	"context"

	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
)

// DocumentRepository 文档仓储接口
// 负责文档元数据的存储和检索
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// List 列出文档列表，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error)

	// Delete 删除文档
	Delete(id string) error

	// UpdateStatus 更新文档状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateProgress 更新文档处理进度
	UpdateProgress(id string, progress int) error

	// UpdateLabel 更新文档的分类标签
	UpdateLabel(id string, label string) error

	// SaveSegment 保存文档段落
	SaveSegment(segment *models.DocumentSegment) error

	// SaveSegments 批量保存文档段落
	SaveSegments(segments []*models.DocumentSegment) error

	// GetSegments 获取文档的所有段落
	GetSegments(docID string) ([]*models.DocumentSegment, error)

	// CountSegments 统计文档的段落数量
	CountSegments(docID string) (int, error)

	// DeleteSegments 删除文档的所有段落
	DeleteSegments(docID string) error

	// CreateTask 创建任务并关联到文档
	CreateTask(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}) (string, error)

	// GetDocumentTasks 获取文档相关的所有任务
	GetDocumentTasks(ctx context.Context, documentID string) ([]*taskqueue.Task, error)

	// GetTaskByID 根据ID获取任务
	GetTaskByID(ctx context.Context, taskID string) (*taskqueue.Task, error)

	// UpdateTaskStatus 更新任务状态并同步文档状态
	UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error

	// DeleteTask 删除任务
	DeleteTask(ctx context.Context, taskID string) error
}
