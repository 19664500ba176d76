package classifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/gammazero/workerpool"
)

// DocumentClassifier 文档分类器
// 在入库阶段为文档批量打标签，分类结果写入文档元数据
type DocumentClassifier struct {
	client     Client // 分类模型客户端
	batchSize  int    // 每批请求的文档数量
	maxWorkers int    // 最大并行工作线程数
	skipEmpty  bool   // 是否跳过空内容文档
}

// NewDocumentClassifier 创建文档分类器
func NewDocumentClassifier(client Client, batchSize int, maxWorkers int) *DocumentClassifier {
	if batchSize <= 0 {
		batchSize = 16 // 默认批量大小
	}

	if maxWorkers <= 0 {
		maxWorkers = 4 // 默认工作线程数
	}

	return &DocumentClassifier{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		skipEmpty:  true,
	}
}

// ClassifyDocuments 批量分类文档
// 分类结果合并到每个文档的元数据classification键下，文档顺序保持不变
func (dc *DocumentClassifier) ClassifyDocuments(ctx context.Context, docs []docstore.Document, opts ...ClassifyOption) ([]docstore.Document, error) {
	if len(docs) == 0 {
		return docs, nil
	}

	// 过滤空内容文档，记录其位置以便保持顺序
	var texts []string
	var indices []int
	for i, doc := range docs {
		if dc.skipEmpty && doc.Content == "" {
			continue
		}
		texts = append(texts, doc.Content)
		indices = append(indices, i)
	}

	if len(texts) == 0 {
		return docs, nil
	}

	results, err := dc.classifyTexts(ctx, texts, opts...)
	if err != nil {
		return nil, err
	}

	// 将分类结果写回对应位置的文档元数据
	for j, idx := range indices {
		docs[idx].Meta = results[j].ApplyToMeta(docs[idx].Meta)
	}

	return docs, nil
}

// classifyTexts 将文本分成批次并行分类
func (dc *DocumentClassifier) classifyTexts(ctx context.Context, texts []string, opts ...ClassifyOption) ([]docstore.Classification, error) {
	// 分割成批次
	batches := make([][]string, 0, (len(texts)+dc.batchSize-1)/dc.batchSize)
	for i := 0; i < len(texts); i += dc.batchSize {
		end := i + dc.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}

	// 创建工作池和结果收集器
	wp := workerpool.New(dc.maxWorkers)
	resultsMu := sync.Mutex{}
	batchResults := make([][]docstore.Classification, len(batches))
	var processingErr error
	var errOnce sync.Once

	// 将任务提交到工作池
	for i, batch := range batches {
		i, batch := i, batch // 捕获循环变量
		wp.Submit(func() {
			// 检查上下文是否已取消
			select {
			case <-ctx.Done():
				errOnce.Do(func() {
					processingErr = ctx.Err()
				})
				return
			default:
				// 继续处理
			}

			// 调用分类客户端
			classifications, err := dc.client.ClassifyBatch(ctx, batch, opts...)

			resultsMu.Lock()
			defer resultsMu.Unlock()

			if err != nil {
				errOnce.Do(func() {
					processingErr = fmt.Errorf("batch %d classification error: %v", i, err)
				})
				return
			}

			batchResults[i] = classifications
		})
	}

	// 等待所有任务完成
	wp.StopWait()

	// 检查是否有错误发生
	if processingErr != nil {
		return nil, processingErr
	}

	// 按批次顺序合并结果
	var all []docstore.Classification
	for _, br := range batchResults {
		all = append(all, br...)
	}

	if len(all) != len(texts) {
		return nil, NewClassifierError(ErrCodeServerError,
			fmt.Sprintf("expected %d classifications, got %d", len(texts), len(all)))
	}

	return all, nil
}
