package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// DefaultBatchProcessor 并行向量化大批量段落
// 文档索引阶段一次会产生成百上千条段落，逐条调用API太慢
type DefaultBatchProcessor struct {
	client     Client
	batchSize  int  // 每批提交给客户端的文本条数
	maxWorkers int  // 并行批次数
	skipEmpty  bool // 空文本不调用API，结果位置填nil
}

// NewBatchProcessor 创建批处理器，非法参数回退到默认值
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *DefaultBatchProcessor {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	return &DefaultBatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		skipEmpty:  true,
	}
}

// Process 向量化一组文本，返回与输入等长且顺序一致的向量列表
func (p *DefaultBatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// 记录每条非空文本在原始输入中的位置
	var pending []string
	var positions []int
	for i, text := range texts {
		if p.skipEmpty && text == "" {
			continue
		}
		pending = append(pending, text)
		positions = append(positions, i)
	}

	results := make([][]float32, len(texts))
	if len(pending) == 0 {
		return results, nil
	}

	batches := splitIntoBatches(pending, p.batchSize)

	wp := workerpool.New(p.maxWorkers)
	var mu sync.Mutex
	var processingErr error

	for i, batch := range batches {
		i, batch := i, batch
		offset := i * p.batchSize

		wp.Submit(func() {
			select {
			case <-ctx.Done():
				mu.Lock()
				if processingErr == nil {
					processingErr = ctx.Err()
				}
				mu.Unlock()
				return
			default:
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if processingErr == nil {
					processingErr = fmt.Errorf("batch %d processing error: %v", i, err)
				}
				return
			}

			// 按原始位置回填，批次间无需排序
			for j, vec := range vectors {
				if offset+j < len(positions) {
					results[positions[offset+j]] = vec
				}
			}
		})
	}

	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}
	return results, nil
}

// splitIntoBatches 将文本切成固定大小的批次，最后一批可能不满
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
