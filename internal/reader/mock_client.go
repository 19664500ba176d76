package reader

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 实现Client接口的模拟问答客户端，供各层测试使用
type MockClient struct {
	mock.Mock
}

// Extract 模拟答案抽取
func (m *MockClient) Extract(ctx context.Context, question string, passage string, opts ...ExtractOption) ([]RawAnswer, error) {
	args := m.Called(ctx, question, passage)
	if rf, ok := args.Get(0).(func(context.Context, string, string) []RawAnswer); ok {
		return rf(ctx, question, passage), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RawAnswer), args.Error(1)
}

// Name 模拟返回模型名称
func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}
