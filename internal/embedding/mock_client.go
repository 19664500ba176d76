package embedding

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 测试用的向量化客户端
// 返回值可以是固定向量，也可以是根据输入计算向量的函数
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)

	if rf, ok := args.Get(0).(func(context.Context, string) []float32); ok {
		return rf(ctx, text), args.Error(1)
	}

	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)

	if rf, ok := args.Get(0).(func(context.Context, []string) [][]float32); ok {
		return rf(ctx, texts), args.Error(1)
	}

	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Error(1)
}

func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}
