package taskqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Queue 文档处理任务队列接口
// 转换、预处理、分类、索引各阶段的任务都经由队列流转
// 队列中的记录是任务状态的权威来源
type Queue interface {
	// Enqueue 将任务加入队列
	Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error)

	// EnqueueAt 在指定时间点执行任务
	EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error)

	// EnqueueIn 延迟指定时长后执行任务
	EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error)

	// GetTask 获取任务信息
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByDocument 获取某文档的全部处理任务
	GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error)

	// WaitForTask 阻塞等待任务进入终态
	// timeout为0表示不设置超时
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)

	// DeleteTask 删除任务记录
	DeleteTask(ctx context.Context, taskID string) error

	// UpdateTaskStatus 更新任务状态和结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	// NotifyTaskUpdate 广播任务状态变更，唤醒等待方
	NotifyTaskUpdate(ctx context.Context, taskID string) error

	// Close 关闭队列连接
	Close() error
}

// Handler 任务处理器接口
// 每个处理管线阶段实现一个Handler
type Handler interface {
	// ProcessTask 执行任务
	ProcessTask(ctx context.Context, task *Task) error

	// GetTaskTypes 此处理器负责的任务类型
	GetTaskTypes() []TaskType
}

// Worker 消费队列任务的工作进程接口
type Worker interface {
	// RegisterHandler 按任务类型注册处理器
	RegisterHandler(taskType TaskType, handler Handler)

	// Start 启动工作进程
	Start() error

	// Stop 停止工作进程
	Stop()
}

// Config 队列配置
type Config struct {
	RedisAddr     string         // Redis地址
	RedisPassword string         // Redis密码
	RedisDB       int            // Redis数据库编号
	Concurrency   int            // 并发处理任务数
	RetryLimit    int            // 最大重试次数
	RetryDelay    time.Duration  // 重试延迟
	Queues        map[string]int // 队列名称到权重的映射
}

// DefaultConfig 返回默认队列配置
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		RedisDB:     0,
		Concurrency: 10,
		RetryLimit:  3,
		RetryDelay:  time.Minute,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}
}

// TaskInfo 对外暴露的任务摘要
// API层查询任务状态时返回此结构，不含原始载荷
type TaskInfo struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	DocumentID  string     `json:"document_id"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Progress    float64    `json:"progress"` // 处理进度（0-100）
}

// NewTaskInfo 从任务记录生成摘要
func NewTaskInfo(task *Task) *TaskInfo {
	return &TaskInfo{
		ID:          task.ID,
		Type:        task.Type,
		DocumentID:  task.DocumentID,
		Status:      task.Status,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Progress:    taskProgress(task.Status),
	}
}

// taskProgress 按任务状态估算进度
// 处理中和失败的任务没有细粒度进度，统一报告50%
func taskProgress(status TaskStatus) float64 {
	switch status {
	case StatusCompleted:
		return 100.0
	case StatusProcessing, StatusFailed:
		return 50.0
	default:
		return 0.0
	}
}

// Factory 队列实现的工厂函数
type Factory func(cfg *Config) (Queue, error)

// TaskError 任务队列错误类型
type TaskError string

func (e TaskError) Error() string {
	return string(e)
}

var (
	// ErrTaskNotFound 任务不存在或记录已过期
	ErrTaskNotFound = TaskError("task not found")

	// ErrTaskTimeout 等待任务完成超时
	ErrTaskTimeout = TaskError("task timed out")

	// ErrInvalidPayload 任务载荷无法解析
	ErrInvalidPayload = TaskError("invalid task payload")
)

// MarshalPayload 将任务载荷序列化为JSON
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(payload)
}

// UnmarshalPayload 解析任务载荷
func UnmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
