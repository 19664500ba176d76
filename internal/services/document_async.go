package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/database"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// AsyncDocumentOptions 单次文档处理的选项
// 分段参数为零值时沿用服务级预处理器配置
type AsyncDocumentOptions struct {
	SplitBy      string            // 分割单位
	SplitLength  int               // 分段大小
	SplitOverlap int               // 分段重叠
	Labels       []string          // 分类候选标签
	Model        string            // 嵌入模型
	Metadata     map[string]string // 元数据
	Priority     string            // 任务优先级
}

// DefaultAsyncOptions 返回默认的处理选项
func DefaultAsyncOptions() *AsyncDocumentOptions {
	return &AsyncDocumentOptions{
		Priority: "default",
		Metadata: make(map[string]string), // 初始化一个空map，避免nil错误
	}
}

// EnableAsyncProcessing 启用异步处理
func (s *DocumentService) EnableAsyncProcessing(queue taskqueue.Queue) {
	s.asyncEnabled = true
	s.taskQueue = queue

	// 确保重要依赖已设置
	if s.statusManager == nil {
		s.logger.Warn("Status manager not set, creating default one")
		if s.repo == nil {
			s.repo = s.createDefaultRepository()
		}
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}

	// 使用已有的数据库连接和新的队列创建新的仓储
	s.repo = repository.NewDocumentRepositoryWithQueue(database.DB, queue)

	// 注册自定义任务回调处理器，替代默认处理器
	s.registerCustomizedTaskHandlers()

	s.logger.Info("Async document processing enabled")
}

// DisableAsyncProcessing 禁用异步处理
func (s *DocumentService) DisableAsyncProcessing() {
	s.asyncEnabled = false
	s.logger.Info("Async document processing disabled")
}

// enqueueProcessTask 创建完整处理流程任务并加入队列
func (s *DocumentService) enqueueProcessTask(ctx context.Context, fileID string, filePath string, options *AsyncDocumentOptions) error {
	s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"file_path": filePath,
	}).Info("Enqueuing document for async processing")

	if !s.asyncEnabled || s.taskQueue == nil {
		return fmt.Errorf("async processing not enabled or task queue not configured")
	}

	// 确保有选项
	if options == nil {
		options = DefaultAsyncOptions()
	}

	// 更新文档状态为处理中
	if err := s.statusManager.MarkAsProcessing(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as processing")
		return fmt.Errorf("failed to update document status: %w", err)
	}

	// 创建处理任务载荷
	fileName := filepath.Base(filePath)
	fileType := filepath.Ext(fileName)
	if fileType != "" && fileType[0] == '.' {
		fileType = fileType[1:] // 去掉开头的点号
	}

	payload := taskqueue.ProcessCompletePayload{
		DocumentID:   fileID,
		FilePath:     filePath,
		FileName:     fileName,
		FileType:     fileType,
		SplitBy:      options.SplitBy,
		SplitLength:  options.SplitLength,
		SplitOverlap: options.SplitOverlap,
		Labels:       options.Labels,
		Model:        options.Model,
		Metadata:     options.Metadata,
	}

	// 创建任务
	taskID, err := s.repo.CreateTask(ctx, taskqueue.TaskProcessComplete, fileID, payload)
	if err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to create processing task: %v", err))
		return fmt.Errorf("failed to create processing task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file_id": fileID,
		"task_id": taskID,
	}).Info("Document processing task created successfully")

	return nil
}

// ProcessDocumentAsync 异步处理文档
func (s *DocumentService) ProcessDocumentAsync(ctx context.Context, fileID string, filePath string, opts ...AsyncOption) error {
	options := DefaultAsyncOptions()

	// 应用选项
	for _, opt := range opts {
		opt(options)
	}

	return s.enqueueProcessTask(ctx, fileID, filePath, options)
}

// AsyncOption 异步选项函数类型
type AsyncOption func(*AsyncDocumentOptions)

// WithSplitBy 设置分割单位
func WithSplitBy(splitBy string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.SplitBy = splitBy
	}
}

// WithSplitLength 设置分段大小
func WithSplitLength(length int) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.SplitLength = length
	}
}

// WithSplitOverlap 设置分段重叠大小
func WithSplitOverlap(overlap int) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.SplitOverlap = overlap
	}
}

// WithCandidateLabels 设置分类候选标签
func WithCandidateLabels(labels ...string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Labels = labels
	}
}

// WithEmbeddingModel 设置嵌入模型
func WithEmbeddingModel(model string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Model = model
	}
}

// WithMetadata 设置元数据
func WithMetadata(metadata map[string]string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Metadata = metadata
	}
}

// WithPriority 设置任务优先级
func WithPriority(priority string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Priority = priority
	}
}

// registerCustomizedTaskHandlers 注册带有文档服务上下文的任务回调处理器
func (s *DocumentService) registerCustomizedTaskHandlers() {
	if s.taskQueue == nil {
		s.logger.Warn("Task queue not available, cannot register handlers")
		return
	}

	// 获取共享处理器
	processor := taskqueue.GetSharedCallbackProcessor(s.taskQueue, s.logger)

	// 注册自定义的任务处理器
	processor.RegisterHandler(taskqueue.TaskProcessComplete, s.handleProcessCompleteResult)
	processor.RegisterHandler(taskqueue.TaskDocumentConvert, s.handleDocumentConvertResult)
	processor.RegisterHandler(taskqueue.TaskTextPreprocess, s.handleTextPreprocessResult)
	processor.RegisterHandler(taskqueue.TaskDocumentClassify, s.handleDocumentClassifyResult)
	processor.RegisterHandler(taskqueue.TaskDocumentIndex, s.handleDocumentIndexResult)

	s.logger.Info("Registered customized task handlers")
}

// handleDocumentConvertResult 处理文档转换任务结果
func (s *DocumentService) handleDocumentConvertResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling document convert result")

	// 解析结果
	var convertResult taskqueue.DocumentConvertResult
	if err := json.Unmarshal(result, &convertResult); err != nil {
		return fmt.Errorf("failed to unmarshal document convert result: %w", err)
	}

	// 更新文档处理进度
	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 30); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 检查内容是否为空
	if convertResult.Content == "" {
		err := fmt.Errorf("empty document content")
		_ = s.statusManager.MarkAsFailed(ctx, task.DocumentID, err.Error())
		return err
	}

	return nil
}

// handleTextPreprocessResult 处理文本预处理任务结果
func (s *DocumentService) handleTextPreprocessResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling text preprocess result")

	// 解析结果
	var preprocessResult taskqueue.TextPreprocessResult
	if err := json.Unmarshal(result, &preprocessResult); err != nil {
		return fmt.Errorf("failed to unmarshal text preprocess result: %w", err)
	}

	// 更新文档处理进度
	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 50); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	return nil
}

// handleDocumentClassifyResult 处理文档分类任务结果
func (s *DocumentService) handleDocumentClassifyResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling document classify result")

	// 解析结果
	var classifyResult taskqueue.DocumentClassifyResult
	if err := json.Unmarshal(result, &classifyResult); err != nil {
		return fmt.Errorf("failed to unmarshal document classify result: %w", err)
	}

	// 将分类标签写入文档元数据
	if classifyResult.Label != "" {
		if err := s.repo.UpdateLabel(task.DocumentID, classifyResult.Label); err != nil {
			s.logger.WithError(err).Warn("Failed to update document label")
		}
	}

	// 更新文档处理进度
	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 70); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	return nil
}

// handleDocumentIndexResult 处理文档索引任务结果
// 索引是任务链的最后一步，处理完成后标记文档为已完成
func (s *DocumentService) handleDocumentIndexResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling document index result")

	// 解析结果
	var indexResult taskqueue.DocumentIndexResult
	if err := json.Unmarshal(result, &indexResult); err != nil {
		return fmt.Errorf("failed to unmarshal document index result: %w", err)
	}

	// 更新文档完成状态
	if err := s.statusManager.MarkAsCompleted(ctx, task.DocumentID, indexResult.IndexedCount); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as completed")
		return err
	}

	return nil
}

// handleProcessCompleteResult 处理完整流程任务结果
func (s *DocumentService) handleProcessCompleteResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling process complete result")

	// 解析结果
	var completeResult taskqueue.ProcessCompleteResult
	if err := json.Unmarshal(result, &completeResult); err != nil {
		return fmt.Errorf("failed to unmarshal process complete result: %w", err)
	}

	// 检查处理状态
	if completeResult.Error != "" {
		s.logger.WithFields(logrus.Fields{
			"document_id": task.DocumentID,
			"error":       completeResult.Error,
		}).Error("Document processing failed")

		// 标记文档为失败状态
		if err := s.statusManager.MarkAsFailed(ctx, task.DocumentID, completeResult.Error); err != nil {
			s.logger.WithError(err).Error("Failed to mark document as failed")
		}
		return fmt.Errorf("document processing failed: %s", completeResult.Error)
	}

	// 更新文档级分类标签
	if completeResult.Label != "" {
		if err := s.repo.UpdateLabel(task.DocumentID, completeResult.Label); err != nil {
			s.logger.WithError(err).Warn("Failed to update document label")
		}
	}

	// 检查转换、预处理和索引状态，如果都成功，则标记文档为已完成
	// 即使分类失败，文档数据已入库，也要标记为完成
	if completeResult.ConvertStatus == "completed" &&
		completeResult.PreprocessStatus == "completed" &&
		completeResult.IndexStatus == "completed" {
		if err := s.statusManager.MarkAsCompleted(ctx, task.DocumentID, completeResult.ChunkCount); err != nil {
			s.logger.WithError(err).Error("Failed to mark document as completed")
			return err
		}

		// 如果分类失败，仅使用日志警告
		if completeResult.ClassifyStatus == "failed" {
			s.logger.WithField("document_id", task.DocumentID).Warn(
				"Document marked as completed but classification failed. Label filtering may be limited.")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"document_id":   task.DocumentID,
		"chunk_count":   completeResult.ChunkCount,
		"indexed_count": completeResult.IndexedCount,
		"label":         completeResult.Label,
	}).Info("Document processing completed successfully")

	return nil
}

// DocumentTaskHandler 在工作者进程内执行文档处理任务
// 实现taskqueue.Handler接口，由工作者消费队列中的任务后调用
type DocumentTaskHandler struct {
	service *DocumentService
}

// NewDocumentTaskHandler 创建文档任务处理器
func NewDocumentTaskHandler(service *DocumentService) *DocumentTaskHandler {
	return &DocumentTaskHandler{service: service}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *DocumentTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskProcessComplete}
}

// ProcessTask 处理任务
func (h *DocumentTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	switch task.Type {
	case taskqueue.TaskProcessComplete:
		return h.processComplete(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// processComplete 在当前进程中执行完整文档处理流程
func (h *DocumentTaskHandler) processComplete(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.ProcessCompletePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal process payload: %w", err)
	}

	s := h.service

	// 还原入队时的处理选项，保证工作进程与同步路径行为一致
	options := &AsyncDocumentOptions{
		SplitBy:      payload.SplitBy,
		SplitLength:  payload.SplitLength,
		SplitOverlap: payload.SplitOverlap,
		Labels:       payload.Labels,
		Model:        payload.Model,
		Metadata:     payload.Metadata,
	}

	// 执行同步处理管线
	if err := s.processDocumentSync(ctx, payload.DocumentID, payload.FilePath, options); err != nil {
		// 保存失败结果
		result := taskqueue.ProcessCompleteResult{
			DocumentID:    payload.DocumentID,
			ConvertStatus: "failed",
			Error:         err.Error(),
		}
		if updateErr := s.taskQueue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusFailed, result, err.Error()); updateErr != nil {
			s.logger.WithError(updateErr).Warn("Failed to save task failure result")
		}
		return err
	}

	// 收集处理结果
	chunkCount, err := s.repo.CountSegments(payload.DocumentID)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to count document segments")
	}

	var label string
	classifyStatus := "skipped"
	if s.classifier != nil {
		classifyStatus = "completed"
		if doc, err := s.repo.GetByID(payload.DocumentID); err == nil {
			label = doc.Label
		}
	}

	result := taskqueue.ProcessCompleteResult{
		DocumentID:       payload.DocumentID,
		ChunkCount:       chunkCount,
		IndexedCount:     chunkCount,
		Label:            label,
		ConvertStatus:    "completed",
		PreprocessStatus: "completed",
		ClassifyStatus:   classifyStatus,
		IndexStatus:      "completed",
	}

	// 保存处理结果，工作者随后会将任务标记为已完成
	if err := s.taskQueue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		s.logger.WithError(err).Warn("Failed to save task result")
	}

	return nil
}

// createDefaultRepository 创建默认的文档仓储
func (s *DocumentService) createDefaultRepository() repository.DocumentRepository {
	return repository.NewDocumentRepository()
}

// WaitForTaskResult 等待任务完成并返回结果
func (s *DocumentService) WaitForTaskResult(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, fmt.Errorf("async processing not enabled or task queue not configured")
	}

	// 设置超时上下文
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 等待任务完成
	task, err := s.taskQueue.WaitForTask(ctx, taskID, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task: %w", err)
	}

	// 检查任务状态
	if task.Status == taskqueue.StatusFailed {
		return task, fmt.Errorf("task failed: %s", task.Error)
	}

	return task, nil
}
