package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/fyerfyer/doc-classify-QA-system/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HistoryHandler 处理问答历史相关的API请求
type HistoryHandler struct {
	historyService *services.HistoryService // 历史服务
	logger         *logrus.Logger           // 日志记录器
}

// NewHistoryHandler 创建历史处理器
func NewHistoryHandler(historyService *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
		logger:         middleware.GetLogger(),
	}
}

// ListRecords 获取问答历史列表
// GET /api/history
func (h *HistoryHandler) ListRecords(c *gin.Context) {
	var req model.HistoryListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	// 构建过滤条件
	filters := make(map[string]interface{})
	if req.Question != "" {
		filters["question"] = req.Question
	}
	if req.Label != "" {
		filters["label"] = req.Label
	}
	if req.Answered != nil && *req.Answered {
		filters["answered"] = true
	}

	records, total, err := h.historyService.ListRecords(c.Request.Context(), req.GetOffset(), req.GetPageSize(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list query records")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取问答历史失败",
		))
		return
	}

	recordInfos := make([]model.HistoryRecordInfo, len(records))
	for i, record := range records {
		recordInfos[i] = model.NewHistoryRecordInfo(record)
	}

	resp := model.HistoryListResponse{
		Total:    total,
		Page:     req.GetPage(),
		PageSize: req.GetPageSize(),
		Records:  recordInfos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetRecord 获取单条问答历史详情
// GET /api/history/:id
func (h *HistoryHandler) GetRecord(c *gin.Context) {
	var req model.HistoryRecordRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的记录ID"))
		return
	}

	record, answers, err := h.historyService.GetRecord(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":     err.Error(),
			"record_id": req.ID,
		}).Error("Failed to get query record")

		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到问答记录"))
		return
	}

	answerInfos := make([]model.HistoryAnswerInfo, len(answers))
	for i, ans := range answers {
		answerInfos[i] = model.HistoryAnswerInfo{
			Answer:     ans.Answer,
			Score:      ans.Score,
			Context:    ans.Context,
			DocumentID: ans.DocumentID,
			Position:   ans.Position,
		}
	}

	resp := model.HistoryRecordResponse{
		Record:  model.NewHistoryRecordInfo(record),
		Answers: answerInfos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteRecord 删除问答历史记录
// DELETE /api/history/:id
func (h *HistoryHandler) DeleteRecord(c *gin.Context) {
	var req model.HistoryRecordRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的记录ID"))
		return
	}

	if err := h.historyService.DeleteRecord(c.Request.Context(), req.ID); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":     err.Error(),
			"record_id": req.ID,
		}).Error("Failed to delete query record")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除问答记录失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"success":   true,
		"record_id": req.ID,
	}))
}
