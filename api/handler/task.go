package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fyerfyer/doc-classify-QA-system/api/middleware"
	"github.com/fyerfyer/doc-classify-QA-system/api/model"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 任务状态查询与回调接口
// 任务状态从队列读取，数据库里的镜像记录只用于审计
type TaskHandler struct {
	queue     taskqueue.Queue
	processor *taskqueue.CallbackProcessor
	logger    *logrus.Logger
}

// NewTaskHandler 创建任务处理器
// 回调注册由服务层完成，这里只复用共享的处理器实例
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	logger := middleware.GetLogger()

	return &TaskHandler{
		queue:     queue,
		processor: taskqueue.GetSharedCallbackProcessor(queue, logger),
		logger:    logger,
	}
}

// taskView 任务状态的响应结构
type taskView struct {
	*taskqueue.TaskInfo
	Result map[string]interface{} `json:"result,omitempty"`
}

// newTaskView 组装任务响应，结果载荷解析失败时省略result字段
func newTaskView(task *taskqueue.Task) taskView {
	view := taskView{TaskInfo: taskqueue.NewTaskInfo(task)}

	if len(task.Result) > 0 {
		var result map[string]interface{}
		if err := json.Unmarshal(task.Result, &result); err == nil {
			view.Result = result
		}
	}
	return view
}

// HandleCallback 接收工作进程的任务回调
// POST /api/tasks/callback
func (h *TaskHandler) HandleCallback(c *gin.Context) {
	var req taskqueue.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid callback request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的回调请求",
		))
		return
	}

	if req.TaskID == "" {
		h.logger.Warn("Empty task_id in callback request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"任务ID不能为空",
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     req.TaskID,
		"document_id": req.DocumentID,
		"status":      req.Status,
	}).Info("Received task callback")

	// 未注册的任务类型仍然走HandleCallback更新状态，只是没有后续动作
	registered := h.processor.GetRegisteredHandlerTypes()
	if _, exists := registered[taskqueue.TaskType(req.Type)]; !exists {
		h.logger.WithFields(logrus.Fields{
			"task_type":           req.Type,
			"registered_handlers": registered,
		}).Warn("Handler not registered for this task type")
	}

	resp, err := h.processor.HandleCallback(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to process callback")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"处理回调失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetTaskStatus 查询单个任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"任务ID不能为空",
		))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"任务未找到",
			))
			return
		}

		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务状态失败: "+err.Error(),
		))
		return
	}

	if task == nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(
			http.StatusNotFound,
			"任务未找到",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(newTaskView(task)))
}

// GetDocumentTasks 查询文档的处理任务列表
// GET /api/document/:document_id/tasks
func (h *TaskHandler) GetDocumentTasks(c *gin.Context) {
	documentID := c.Param("document_id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"文档ID不能为空",
		))
		return
	}

	tasks, err := h.queue.GetTasksByDocument(c.Request.Context(), documentID)
	if err != nil {
		h.logger.WithError(err).WithField("document_id", documentID).Error("Failed to get document tasks")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档任务列表失败: "+err.Error(),
		))
		return
	}

	views := make([]taskView, len(tasks))
	for i, task := range tasks {
		views[i] = newTaskView(task)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"document_id": documentID,
		"tasks":       views,
	}))
}
