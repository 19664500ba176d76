package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/fyerfyer/doc-classify-QA-system/internal/classifier"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ClassifyHandler 处理即席分类API请求
// 对请求中的文本直接运行零样本分类，不写入文档存储
type ClassifyHandler struct {
	client classifier.Client // 分类客户端
	logger *logrus.Logger    // 日志记录器
}

// NewClassifyHandler 创建分类处理器
func NewClassifyHandler(client classifier.Client) *ClassifyHandler {
	return &ClassifyHandler{
		client: client,
		logger: middleware.GetLogger(),
	}
}

// Classify 处理分类请求
// POST /api/classify
func (h *ClassifyHandler) Classify(c *gin.Context) {
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, model.NewErrorResponse(
			http.StatusServiceUnavailable,
			"分类服务未配置",
		))
		return
	}

	var req model.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	// 过滤空文本
	texts := make([]string, 0, len(req.Texts))
	for _, text := range req.Texts {
		if text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"待分类文本不能为空",
		))
		return
	}

	// 请求携带的候选标签覆盖客户端默认标签
	var opts []classifier.ClassifyOption
	if len(req.Labels) > 0 {
		opts = append(opts, classifier.WithClassifyLabels(req.Labels...))
	}

	classifications, err := h.client.ClassifyBatch(c.Request.Context(), texts, opts...)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"texts": len(texts),
		}).Error("Failed to classify texts")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"分类文本时出错: "+err.Error(),
		))
		return
	}

	results := make([]model.ClassifyResultInfo, len(classifications))
	for i, cls := range classifications {
		results[i] = model.ClassifyResultInfo{
			Sequence: cls.Sequence,
			Label:    cls.Label,
			Labels:   cls.Labels,
			Scores:   cls.Scores,
		}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ClassifyResponse{
		Model:   h.client.Name(),
		Results: results,
	}))
}
