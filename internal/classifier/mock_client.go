package classifier

import (
	"context"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/stretchr/testify/mock"
)

// MockClient 实现Client接口的模拟分类客户端，供各层测试使用
type MockClient struct {
	mock.Mock
}

// Classify 模拟单条文本分类
func (m *MockClient) Classify(ctx context.Context, text string, opts ...ClassifyOption) (*docstore.Classification, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*docstore.Classification), args.Error(1)
}

// ClassifyBatch 模拟批量文本分类
// 函数型返回值可以接收合并后的请求选项，用于断言标签覆盖
func (m *MockClient) ClassifyBatch(ctx context.Context, texts []string, opts ...ClassifyOption) ([]docstore.Classification, error) {
	args := m.Called(ctx, texts)
	if rf, ok := args.Get(0).(func(context.Context, []string, *ClassifyOptions) []docstore.Classification); ok {
		return rf(ctx, texts, NewClassifyOptions(opts...)), args.Error(1)
	}
	if rf, ok := args.Get(0).(func(context.Context, []string) []docstore.Classification); ok {
		return rf(ctx, texts), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]docstore.Classification), args.Error(1)
}

// Name 模拟返回模型名称
func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}
