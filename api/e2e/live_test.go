package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/classifier"
	"github.com/fyerfyer/doc-classify-QA-system/internal/reader"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadLiveToken 从.env或环境变量加载推理API令牌
// 未配置时跳过在线测试
func loadLiveToken(t *testing.T) string {
	_ = godotenv.Load("../../.env")

	token := os.Getenv("HF_API_TOKEN")
	if token == "" {
		t.Skip("Haven't set HF_API_TOKEN environment variable, skipping live inference test")
	}
	return token
}

// TestLiveClassification 调用真实推理服务做零样本分类
func TestLiveClassification(t *testing.T) {
	token := loadLiveToken(t)

	client, err := classifier.NewClient("huggingface",
		classifier.WithAPIKey(token),
		classifier.WithLabels([]string{"technology", "finance", "sports"}),
		classifier.WithTimeout(60*time.Second),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	result, err := client.Classify(ctx, "The new GPU accelerates neural network training by an order of magnitude.")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.Label)
	assert.Len(t, result.Labels, 3)
	assert.Len(t, result.Scores, 3)
	t.Logf("classification: %s (%.3f)", result.Label, result.Scores[0])
}

// TestLiveExtraction 调用真实推理服务做答案抽取
func TestLiveExtraction(t *testing.T) {
	token := loadLiveToken(t)

	client, err := reader.NewClient("huggingface",
		reader.WithAPIKey(token),
		reader.WithTimeout(60*time.Second),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	passage := "The Amazon rainforest produces about twenty percent of the oxygen in Earth's atmosphere."
	answers, err := client.Extract(ctx, "How much oxygen does the Amazon rainforest produce?", passage)
	require.NoError(t, err)
	require.NotEmpty(t, answers)

	assert.NotEmpty(t, answers[0].Answer)
	assert.Greater(t, answers[0].Score, 0.0)
	t.Logf("answer: %q (%.3f)", answers[0].Answer, answers[0].Score)
}
