package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/fyerfyer/doc-classify-QA-system/internal/services"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	documentService *services.DocumentService // 文档服务
	fileStorage     storage.Storage           // 文件存储服务
	logger          *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(documentService *services.DocumentService, fileStorage storage.Storage) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		fileStorage:     fileStorage,
		logger:          middleware.GetLogger(),
	}
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	// 绑定请求参数
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid document upload request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	// 检查文件
	if req.File == nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"未提供文件",
		))
		return
	}

	// 检查文件类型
	filename := req.File.Filename
	ext := filepath.Ext(filename)
	if !isValidFileType(ext) {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .pdf, .md, .markdown, .txt, .docx",
		))
		return
	}

	// 打开上传的文件
	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to open uploaded file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	// 保存文件到存储
	fileInfo, err := h.fileStorage.Save(file, filename)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to save file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"保存文件失败",
		))
		return
	}

	// 记录文档状态
	statusManager := h.documentService.GetStatusManager()
	if statusManager != nil {
		if err := statusManager.MarkAsUploaded(c.Request.Context(), fileInfo.ID, filename, fileInfo.Path, fileInfo.Size); err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"file_id": fileInfo.ID,
			}).Error("Failed to record uploaded document")

			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"记录文档状态失败",
			))
			return
		}
	}

	h.logger.WithFields(logrus.Fields{
		"file_id":  fileInfo.ID,
		"filename": fileInfo.Name,
		"path":     fileInfo.Path,
		"size":     fileInfo.Size,
	}).Info("File uploaded successfully")

	// 启动处理任务
	// 任务队列可用时通过队列异步处理，否则在本进程中后台处理
	h.startProcessing(fileInfo.ID, fileInfo.Path, &req)

	// 返回文件ID和状态
	resp := model.DocumentUploadResponse{
		FileID:   fileInfo.ID,
		FileName: filename,
		Status:   "processing",
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// startProcessing 启动文档处理
// 任务队列可用时直接入队，否则在本进程中后台处理
func (h *DocumentHandler) startProcessing(fileID string, filePath string, req *model.DocumentUploadRequest) {
	ctx := context.Background()

	// 请求级处理选项，同步和异步路径都要生效
	var opts []services.AsyncOption
	if req.Labels != "" {
		labels := strings.Split(req.Labels, ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		opts = append(opts, services.WithCandidateLabels(labels...))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, services.WithMetadata(req.Metadata))
	}
	if req.SplitBy != "" {
		opts = append(opts, services.WithSplitBy(req.SplitBy))
	}
	if req.SplitLength > 0 {
		opts = append(opts, services.WithSplitLength(req.SplitLength))
	}
	if req.SplitOverlap > 0 {
		opts = append(opts, services.WithSplitOverlap(req.SplitOverlap))
	}

	if h.documentService.GetTaskQueue() != nil {
		if err := h.documentService.ProcessDocumentAsync(ctx, fileID, filePath, opts...); err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"file_id": fileID,
			}).Error("Failed to enqueue document for processing")
		}
		return
	}

	go func() {
		h.logger.WithField("file_id", fileID).Info("Starting document processing")

		if err := h.documentService.ProcessDocument(ctx, fileID, filePath, opts...); err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"file_id": fileID,
			}).Error("Failed to process document")
			return
		}

		// 记录用户指定的标签
		if req.Tags != "" {
			if err := h.documentService.UpdateDocumentTags(ctx, fileID, req.Tags); err != nil {
				h.logger.WithError(err).Warn("Failed to update document tags")
			}
		}

		h.logger.WithField("file_id", fileID).Info("Document processed successfully")
	}()
}

// GetDocumentStatus 获取文档处理状态
// GET /api/documents/:id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	// 绑定路径参数
	var req model.DocumentStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	// 获取文档记录
	statusManager := h.documentService.GetStatusManager()
	doc, err := statusManager.GetDocument(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to get document info")

		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档或获取信息失败"))
		return
	}

	// 构建响应
	resp := model.DocumentStatusResponse{
		FileID:    doc.ID,
		Status:    string(doc.Status),
		FileName:  doc.FileName,
		Label:     doc.Label,
		Progress:  doc.Progress,
		Error:     doc.Error,
		Segments:  doc.SegmentCount,
		CreatedAt: doc.UploadedAt.Format(timeFormat),
		UpdatedAt: doc.UpdatedAt.Format(timeFormat),
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	// 绑定查询参数
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	// 构建过滤条件
	filters := make(map[string]interface{})

	if req.Status != "" {
		filters["status"] = req.Status
	}

	if req.Label != "" {
		filters["label"] = req.Label
	}

	if req.StartTime != nil {
		filters["start_time"] = req.StartTime.Format(timeFormat)
	}

	if req.EndTime != nil {
		filters["end_time"] = req.EndTime.Format(timeFormat)
	}

	// 查询文档列表
	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), req.GetOffset(), req.GetPageSize(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档列表失败",
		))
		return
	}

	// 构建分页响应
	docInfos := make([]model.DocumentInfo, len(docs))
	for i, doc := range docs {
		docInfos[i] = model.NewDocumentInfo(doc)
	}

	resp := model.DocumentListResponse{
		Total:     total,
		Page:      req.GetPage(),
		PageSize:  req.GetPageSize(),
		Documents: docInfos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListLabels 获取分类标签统计
// GET /api/documents/labels
func (h *DocumentHandler) ListLabels(c *gin.Context) {
	counts, err := h.documentService.ListLabels(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list labels")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取标签统计失败",
		))
		return
	}

	labels := make([]model.LabelCount, len(counts))
	for i, count := range counts {
		labels[i] = model.LabelCount{
			Label: count.Value,
			Count: count.Count,
		}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.LabelListResponse{Labels: labels}))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	// 绑定路径参数
	var req model.DocumentDeleteRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	// 删除文档
	err := h.documentService.DeleteDocument(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to delete document")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除文档失败",
		))
		return
	}

	h.logger.WithField("file_id", req.ID).Info("Document deleted successfully")

	// 返回成功响应
	resp := model.DocumentDeleteResponse{
		Success: true,
		FileID:  req.ID,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// timeFormat 响应中的时间格式
const timeFormat = "2006-01-02T15:04:05Z07:00"

// isValidFileType 检查文件类型是否有效
func isValidFileType(ext string) bool {
	validTypes := map[string]bool{
		".pdf":      true,
		".md":       true,
		".markdown": true,
		".txt":      true,
		".docx":     true,
	}
	return validTypes[ext]
}
