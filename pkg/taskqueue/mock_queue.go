package taskqueue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockQueue 任务队列的mock实现，用于测试
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload, processAt)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload, delay)
	return args.String(0), args.Error(1)
}

func (m *MockQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	args := m.Called(ctx, taskID)
	if task, ok := args.Get(0).(*Task); ok {
		return task, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	args := m.Called(ctx, documentID)
	if tasks, ok := args.Get(0).([]*Task); ok {
		return tasks, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	args := m.Called(ctx, taskID, timeout)
	if task, ok := args.Get(0).(*Task); ok {
		return task, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQueue) DeleteTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error {
	args := m.Called(ctx, taskID, status, result, errorMsg)
	return args.Error(0)
}

func (m *MockQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}
