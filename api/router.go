package api

import (
	"github.com/fyerfyer/doc-classify-QA-system/api/handler"
	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/gin-gonic/gin"
)

// RouterConfig 路由配置
// 可选的处理器为nil时对应的端点不会注册
type RouterConfig struct {
	DocumentHandler *handler.DocumentHandler // 文档处理器
	QAHandler       *handler.QAHandler       // 问答处理器
	ClassifyHandler *handler.ClassifyHandler // 即席分类处理器（可选）
	HistoryHandler  *handler.HistoryHandler  // 问答历史处理器（可选）
	TaskHandler     *handler.TaskHandler     // 任务处理器（可选）
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(cfg RouterConfig) *gin.Engine {
	// 创建默认的Gin路由引擎
	router := gin.Default()

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	// 创建API分组
	api := router.Group("/api")
	{
		// 文档管理API
		docGroup := api.Group("/documents")
		{
			// 上传文档 - POST /api/documents
			docGroup.POST("", cfg.DocumentHandler.UploadDocument)

			// 获取文档列表 - GET /api/documents
			docGroup.GET("", cfg.DocumentHandler.ListDocuments)

			// 获取分类标签统计 - GET /api/documents/labels
			docGroup.GET("/labels", cfg.DocumentHandler.ListLabels)

			// 获取文档状态 - GET /api/documents/:id/status
			docGroup.GET("/:id/status", cfg.DocumentHandler.GetDocumentStatus)

			// 删除文档 - DELETE /api/documents/:id
			docGroup.DELETE("/:id", cfg.DocumentHandler.DeleteDocument)
		}

		// 问答API
		qaGroup := api.Group("/qa")
		{
			// 回答问题 - POST /api/qa
			qaGroup.POST("", cfg.QAHandler.AnswerQuestion)

			// 获取最近提问 - GET /api/qa/recent
			qaGroup.GET("/recent", cfg.QAHandler.GetRecentQuestions)
		}

		// 检索API - POST /api/search
		api.POST("/search", cfg.QAHandler.Search)

		// 即席分类API - POST /api/classify
		if cfg.ClassifyHandler != nil {
			api.POST("/classify", cfg.ClassifyHandler.Classify)
		}

		// 问答历史API
		if cfg.HistoryHandler != nil {
			historyGroup := api.Group("/history")
			{
				// 获取历史列表 - GET /api/history
				historyGroup.GET("", cfg.HistoryHandler.ListRecords)

				// 获取历史详情 - GET /api/history/:id
				historyGroup.GET("/:id", cfg.HistoryHandler.GetRecord)

				// 删除历史记录 - DELETE /api/history/:id
				historyGroup.DELETE("/:id", cfg.HistoryHandler.DeleteRecord)
			}
		}

		// 任务API
		if cfg.TaskHandler != nil {
			taskGroup := api.Group("/tasks")
			{
				// 任务回调 - POST /api/tasks/callback
				taskGroup.POST("/callback", cfg.TaskHandler.HandleCallback)

				// 获取任务状态 - GET /api/tasks/:id
				taskGroup.GET("/:id", cfg.TaskHandler.GetTaskStatus)
			}

			// 获取文档相关任务 - GET /api/document/:document_id/tasks
			api.GET("/document/:document_id/tasks", cfg.TaskHandler.GetDocumentTasks)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
