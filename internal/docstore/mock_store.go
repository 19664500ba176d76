package docstore

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore 实现Store接口的模拟存储，供各层测试使用
type MockStore struct {
	mock.Mock
}

// WriteDocuments 模拟写入文档
func (m *MockStore) WriteDocuments(ctx context.Context, docs []Document) (int, error) {
	args := m.Called(ctx, docs)
	return args.Int(0), args.Error(1)
}

// GetDocument 模拟获取单个文档
func (m *MockStore) GetDocument(ctx context.Context, id string) (Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return Document{}, args.Error(1)
	}
	return args.Get(0).(Document), args.Error(1)
}

// GetAllDocuments 模拟获取全部文档
func (m *MockStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

// DeleteDocuments 模拟删除文档
func (m *MockStore) DeleteDocuments(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

// Query 模拟文本检索
func (m *MockStore) Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error) {
	args := m.Called(ctx, query, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SearchResult), args.Error(1)
}

// QueryByEmbedding 模拟向量检索
func (m *MockStore) QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	args := m.Called(ctx, vector, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SearchResult), args.Error(1)
}

// Count 模拟文档计数
func (m *MockStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MetadataValues 模拟元数据取值统计
func (m *MockStore) MetadataValues(ctx context.Context, key string) ([]MetadataCount, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]MetadataCount), args.Error(1)
}

// Close 模拟关闭存储
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockStoreTestingT 约束NewMockStore的测试参数
type mockStoreTestingT interface {
	mock.TestingT
	Cleanup(func())
}

// NewMockStore 创建模拟存储，并在测试结束时校验期望
func NewMockStore(t mockStoreTestingT) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
