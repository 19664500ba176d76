package handler

import (
	"net/http"
	"strconv"

	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/fyerfyer/doc-classify-QA-system/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QAHandler 处理问答相关的API请求
type QAHandler struct {
	qaService *services.QAService // 问答服务
	logger    *logrus.Logger      // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(qaService *services.QAService) *QAHandler {
	return &QAHandler{
		qaService: qaService,
		logger:    middleware.GetLogger(),
	}
}

// AnswerQuestion 处理问答请求
// POST /api/qa
func (h *QAHandler) AnswerQuestion(c *gin.Context) {
	// 绑定请求参数
	var req model.QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid question request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	// 检查问题是否为空
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"问题不能为空",
		))
		return
	}

	var result *services.QAResult
	var err error
	ctx := c.Request.Context()

	// 根据请求类型选择不同的处理方式
	if len(req.Labels) > 0 {
		// 限定分类标签回答问题
		h.logger.WithFields(logrus.Fields{
			"question": req.Question,
			"labels":   req.Labels,
		}).Info("Question with label filter")

		result, err = h.qaService.AnswerWithLabel(ctx, req.Question, req.Labels...)
	} else if len(req.Filters) > 0 {
		// 使用元数据过滤回答问题
		h.logger.WithFields(logrus.Fields{
			"question": req.Question,
			"filters":  req.Filters,
		}).Info("Question with metadata filter")

		result, err = h.qaService.AnswerWithFilters(ctx, req.Question, req.Filters)
	} else {
		// 普通问答
		h.logger.WithField("question", req.Question).Info("General question")

		result, err = h.qaService.Answer(ctx, req.Question)
	}

	// 处理错误
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"question": req.Question,
		}).Error("Failed to answer question")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"处理问题时出错: "+err.Error(),
		))
		return
	}

	// 构建响应
	resp := model.QAResponse{
		Question:   result.Question,
		Answers:    model.ConvertToAnswerInfo(result.Answers),
		NoAnswer:   result.NoAnswer,
		Message:    result.Message,
		FromCache:  result.FromCache,
		RecordID:   result.RecordID,
		DurationMs: result.DurationMs,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// Search 处理文档检索请求
// 只做检索，不运行抽取式问答
// POST /api/search
func (h *QAHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	docs, err := h.qaService.Search(c.Request.Context(), req.Query, req.Filters)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"query": req.Query,
		}).Error("Failed to search documents")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"检索文档时出错: "+err.Error(),
		))
		return
	}

	resp := model.SearchResponse{
		Query:   req.Query,
		Total:   len(docs),
		Results: model.ConvertToSearchResults(docs),
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetRecentQuestions 获取最近提问列表
// GET /api/qa/recent
func (h *QAHandler) GetRecentQuestions(c *gin.Context) {
	limit := 10
	if limitParam := c.Query("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	questions, err := h.qaService.GetRecentQuestions(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get recent questions")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取最近提问失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"questions": questions,
	}))
}
