package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-classify-QA-system/internal/classifier"
	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/fyerfyer/doc-classify-QA-system/internal/document"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/fyerfyer/doc-classify-QA-system/internal/repository"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/storage"
	"github.com/fyerfyer/doc-classify-QA-system/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// setupAsyncTestEnv 创建用于测试异步文档处理的环境
// 使用miniredis作为任务队列后端
func setupAsyncTestEnv(t *testing.T, tempDir string, extraOpts ...DocumentOption) (*DocumentService, *DocumentStatusManager, taskqueue.Queue) {
	// 设置数据库
	_, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	// 启动miniredis并创建任务队列
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	queueConfig := &taskqueue.Config{
		RedisAddr:   mr.Addr(),
		RetryLimit:  2,
		RetryDelay:  time.Second,
		Concurrency: 2,
	}
	taskQueue, err := taskqueue.NewRedisQueue(queueConfig)
	require.NoError(t, err)
	t.Cleanup(func() {
		taskQueue.Close()
	})

	// 创建文档仓储和状态管理器
	repo := repository.NewDocumentRepositoryWithQueue(nil, taskQueue)
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	statusManager := NewDocumentStatusManager(repo, logger)

	// 创建存储服务
	storageService, err := storage.NewLocalStorage(storage.LocalConfig{Path: tempDir})
	require.NoError(t, err)

	// 按段落分段
	preprocessorConfig := document.DefaultPreprocessorConfig()
	preprocessorConfig.SplitBy = document.ByPassage
	preprocessorConfig.SplitLength = 1
	preprocessor, err := document.NewPreprocessor(preprocessorConfig)
	require.NoError(t, err)

	// 创建内存文档存储
	store, err := docstore.NewMemoryStore(docstore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// 创建文档服务
	opts := []DocumentOption{
		WithBatchSize(2),
		WithTimeout(5 * time.Second),
		WithDocumentRepository(repo),
		WithStatusManager(statusManager),
		WithLogger(logger),
	}
	opts = append(opts, extraOpts...)
	docService := NewDocumentService(storageService, preprocessor, store, opts...)

	return docService, statusManager, taskQueue
}

// createTestDocument 创建测试文档记录和文件
func createTestDocument(t *testing.T, tempDir string, statusManager *DocumentStatusManager) (string, string) {
	// 创建测试内容和文件
	testContent := "This is a test document for async processing.\n\nIt contains multiple paragraphs.\n\nEach paragraph should be processed separately."
	fileName := "test_async_doc.txt"
	filePath := filepath.Join(tempDir, fileName)
	err := os.WriteFile(filePath, []byte(testContent), 0644)
	require.NoError(t, err)

	// 生成文档 ID
	docID := "test-async-doc-" + uuid.New().String()

	// 创建文档记录
	ctx := context.Background()
	err = statusManager.MarkAsUploaded(ctx, docID, fileName, filePath, int64(len(testContent)))
	require.NoError(t, err)

	return docID, filePath
}

// TestEnableDisableAsyncProcessing 测试启用和禁用异步处理
func TestEnableDisableAsyncProcessing(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-async-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, _, taskQueue := setupAsyncTestEnv(t, tempDir)

	// 测试启用异步处理
	t.Run("enable async processing", func(t *testing.T) {
		// 初始状态应为未启用异步处理
		assert.False(t, docService.asyncEnabled)
		assert.Nil(t, docService.taskQueue)

		// 启用异步处理
		docService.EnableAsyncProcessing(taskQueue)

		// 检查是否启用了异步处理
		assert.True(t, docService.asyncEnabled)
		assert.NotNil(t, docService.taskQueue)
	})

	// 测试禁用异步处理
	t.Run("disable async processing", func(t *testing.T) {
		// 确保已启用
		docService.EnableAsyncProcessing(taskQueue)

		// 然后禁用
		docService.DisableAsyncProcessing()

		// 检查是否禁用了异步处理
		assert.False(t, docService.asyncEnabled)
		// 任务队列引用应保留
		assert.NotNil(t, docService.taskQueue)
	})
}

// TestProcessDocumentAsync 测试异步文档处理
func TestProcessDocumentAsync(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-async-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	// 创建测试文档
	docID, filePath := createTestDocument(t, tempDir, statusManager)

	// 启用异步处理
	docService.EnableAsyncProcessing(taskQueue)

	// 异步处理文档
	ctx := context.Background()
	err = docService.ProcessDocumentAsync(ctx, docID, filePath)
	require.NoError(t, err)

	// 检查文档状态是否更改为处理中
	status, err := statusManager.GetStatus(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, status)

	// 获取文档的任务
	tasks, err := taskQueue.GetTasksByDocument(ctx, docID)
	require.NoError(t, err)
	assert.NotEmpty(t, tasks, "预期至少创建一个任务")

	// 检查任务类型是否正确
	assert.Equal(t, taskqueue.TaskProcessComplete, tasks[0].Type)
}

// TestProcessDocumentAsyncWithOptions 测试带选项的异步文档处理
func TestProcessDocumentAsyncWithOptions(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-async-options-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	// 创建测试文档
	docID, filePath := createTestDocument(t, tempDir, statusManager)

	// 启用异步处理
	docService.EnableAsyncProcessing(taskQueue)

	// 使用自定义选项异步处理文档
	ctx := context.Background()
	err = docService.ProcessDocumentAsync(
		ctx,
		docID,
		filePath,
		WithSplitBy("sentence"),
		WithSplitLength(100),
		WithSplitOverlap(10),
		WithCandidateLabels("tech", "finance"),
		WithEmbeddingModel("test-model"),
		WithMetadata(map[string]string{"source": "test"}),
		WithPriority("high"),
	)
	require.NoError(t, err)

	// 获取任务并验证负载包含正确的选项
	tasks, err := taskQueue.GetTasksByDocument(ctx, docID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	var payload taskqueue.ProcessCompletePayload
	err = json.Unmarshal(tasks[0].Payload, &payload)
	require.NoError(t, err)

	// 检查选项是否正确传递到负载
	assert.Equal(t, "sentence", payload.SplitBy)
	assert.Equal(t, 100, payload.SplitLength)
	assert.Equal(t, 10, payload.SplitOverlap)
	assert.Equal(t, []string{"tech", "finance"}, payload.Labels)
	assert.Equal(t, "test-model", payload.Model)
	assert.Equal(t, map[string]string{"source": "test"}, payload.Metadata)
}

// TestDocumentConvertCallback 测试文档转换回调处理
func TestDocumentConvertCallback(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-convert-callback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	// 创建测试文档
	docID, _ := createTestDocument(t, tempDir, statusManager)

	// 启用异步处理
	docService.EnableAsyncProcessing(taskQueue)

	// 标记文档为处理中状态
	ctx := context.Background()
	err = statusManager.MarkAsProcessing(ctx, docID)
	require.NoError(t, err)

	// 创建模拟任务
	task := &taskqueue.Task{
		ID:         "test-convert-task-id",
		Type:       taskqueue.TaskDocumentConvert,
		DocumentID: docID,
		Status:     taskqueue.StatusCompleted,
	}

	// 创建结果数据
	result := taskqueue.DocumentConvertResult{
		Content: "Converted document content",
		Title:   "Test Document",
		Words:   3,
		Chars:   26,
	}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	// 调用处理函数
	err = docService.handleDocumentConvertResult(ctx, task, resultJSON)
	require.NoError(t, err)

	// 验证进度是否更新
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Greater(t, doc.Progress, 0)

	// 空内容应标记文档为失败
	t.Run("empty content marks document as failed", func(t *testing.T) {
		emptyDocID, _ := createTestDocument(t, tempDir, statusManager)
		err = statusManager.MarkAsProcessing(ctx, emptyDocID)
		require.NoError(t, err)

		emptyTask := &taskqueue.Task{
			ID:         "test-convert-empty-task-id",
			Type:       taskqueue.TaskDocumentConvert,
			DocumentID: emptyDocID,
			Status:     taskqueue.StatusCompleted,
		}
		emptyJSON, err := json.Marshal(taskqueue.DocumentConvertResult{Content: ""})
		require.NoError(t, err)

		err = docService.handleDocumentConvertResult(ctx, emptyTask, emptyJSON)
		assert.Error(t, err)

		status, err := statusManager.GetStatus(ctx, emptyDocID)
		require.NoError(t, err)
		assert.Equal(t, models.DocStatusFailed, status)
	})
}

// TestTextPreprocessCallback 测试文本预处理回调处理
func TestTextPreprocessCallback(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-preprocess-callback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, _ := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	ctx := context.Background()
	err = statusManager.MarkAsProcessing(ctx, docID)
	require.NoError(t, err)

	task := &taskqueue.Task{
		ID:         "test-preprocess-task-id",
		Type:       taskqueue.TaskTextPreprocess,
		DocumentID: docID,
		Status:     taskqueue.StatusCompleted,
	}

	result := taskqueue.TextPreprocessResult{
		DocumentID: docID,
		Chunks: []taskqueue.ChunkInfo{
			{Text: "Chunk 1", Index: 0},
			{Text: "Chunk 2", Index: 1},
		},
		ChunkCount: 2,
	}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	err = docService.handleTextPreprocessResult(ctx, task, resultJSON)
	require.NoError(t, err)

	// 验证进度是否更新
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 50, doc.Progress)
}

// TestDocumentClassifyCallback 测试文档分类回调处理
func TestDocumentClassifyCallback(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-classify-callback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, _ := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	ctx := context.Background()
	err = statusManager.MarkAsProcessing(ctx, docID)
	require.NoError(t, err)

	task := &taskqueue.Task{
		ID:         "test-classify-task-id",
		Type:       taskqueue.TaskDocumentClassify,
		DocumentID: docID,
		Status:     taskqueue.StatusCompleted,
	}

	result := taskqueue.DocumentClassifyResult{
		DocumentID: docID,
		Label:      "tech",
		Labels:     []string{"tech", "finance"},
		Scores:     []float64{0.8, 0.2},
	}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	err = docService.handleDocumentClassifyResult(ctx, task, resultJSON)
	require.NoError(t, err)

	// 验证文档标签和进度
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "tech", doc.Label)
	assert.Equal(t, 70, doc.Progress)
}

// TestDocumentIndexCallback 测试文档索引回调处理
// 索引是任务链的最后一步，文档应被标记为已完成
func TestDocumentIndexCallback(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-index-callback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, _ := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	ctx := context.Background()
	err = statusManager.MarkAsProcessing(ctx, docID)
	require.NoError(t, err)

	task := &taskqueue.Task{
		ID:         "test-index-task-id",
		Type:       taskqueue.TaskDocumentIndex,
		DocumentID: docID,
		Status:     taskqueue.StatusCompleted,
	}

	result := taskqueue.DocumentIndexResult{
		DocumentID:   docID,
		IndexedCount: 2,
		Dimension:    4,
	}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	err = docService.handleDocumentIndexResult(ctx, task, resultJSON)
	require.NoError(t, err)

	// 验证文档是否标记为已完成
	status, err := statusManager.GetStatus(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, status)
}

// TestProcessCompleteCallback 测试处理完成回调处理
func TestProcessCompleteCallback(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-complete-callback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, _ := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	ctx := context.Background()
	err = statusManager.MarkAsProcessing(ctx, docID)
	require.NoError(t, err)

	task := &taskqueue.Task{
		ID:         "test-complete-task-id",
		Type:       taskqueue.TaskProcessComplete,
		DocumentID: docID,
		Status:     taskqueue.StatusCompleted,
	}

	result := taskqueue.ProcessCompleteResult{
		DocumentID:       docID,
		ChunkCount:       3,
		IndexedCount:     3,
		Label:            "tech",
		ConvertStatus:    "completed",
		PreprocessStatus: "completed",
		ClassifyStatus:   "completed",
		IndexStatus:      "completed",
	}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	err = docService.handleProcessCompleteResult(ctx, task, resultJSON)
	require.NoError(t, err)

	// 验证文档是否标记为已完成且带有标签
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Equal(t, "tech", doc.Label)
	assert.Equal(t, 3, doc.SegmentCount)

	// 处理失败的结果应标记文档为失败
	t.Run("failed result marks document as failed", func(t *testing.T) {
		failedDocID, _ := createTestDocument(t, tempDir, statusManager)
		err = statusManager.MarkAsProcessing(ctx, failedDocID)
		require.NoError(t, err)

		failedTask := &taskqueue.Task{
			ID:         "test-complete-failed-task-id",
			Type:       taskqueue.TaskProcessComplete,
			DocumentID: failedDocID,
			Status:     taskqueue.StatusFailed,
		}
		failedJSON, err := json.Marshal(taskqueue.ProcessCompleteResult{
			DocumentID: failedDocID,
			Error:      "conversion failed",
		})
		require.NoError(t, err)

		err = docService.handleProcessCompleteResult(ctx, failedTask, failedJSON)
		assert.Error(t, err)

		status, err := statusManager.GetStatus(ctx, failedDocID)
		require.NoError(t, err)
		assert.Equal(t, models.DocStatusFailed, status)
	})
}

// TestDocumentTaskHandler 测试工作者进程内的文档处理
func TestDocumentTaskHandler(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-handler-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, filePath := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	handler := NewDocumentTaskHandler(docService)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskProcessComplete}, handler.GetTaskTypes())

	// 入队一个处理任务
	ctx := context.Background()
	err = docService.ProcessDocumentAsync(ctx, docID, filePath)
	require.NoError(t, err)

	tasks, err := taskQueue.GetTasksByDocument(ctx, docID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	// 模拟工作者执行任务
	err = handler.ProcessTask(ctx, tasks[0])
	require.NoError(t, err)

	// 验证文档处理完成
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.SegmentCount)

	// 验证任务结果已保存
	task, err := taskQueue.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.NotNil(t, task.Result)

	var result taskqueue.ProcessCompleteResult
	err = json.Unmarshal(task.Result, &result)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, "completed", result.ConvertStatus)
	assert.Equal(t, "skipped", result.ClassifyStatus)

	// 不支持的任务类型应报错
	err = handler.ProcessTask(ctx, &taskqueue.Task{Type: taskqueue.TaskDocumentConvert})
	assert.Error(t, err)
}

// TestDocumentTaskHandlerRequestOptions 测试任务载荷携带的候选标签在工作进程中生效
func TestDocumentTaskHandlerRequestOptions(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-handler-opts-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	classifyClient := new(classifier.MockClient)
	classifyClient.On("ClassifyBatch", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, texts []string, o *classifier.ClassifyOptions) []docstore.Classification {
			// 入队时指定的候选标签必须随任务载荷传到分类客户端
			require.Equal(t, []string{"history", "finance"}, o.Labels)
			results := make([]docstore.Classification, len(texts))
			for i, text := range texts {
				results[i] = docstore.Classification{
					Sequence: text,
					Labels:   o.Labels,
					Scores:   []float64{0.8, 0.2},
					Label:    o.Labels[0],
				}
			}
			return results
		}, nil)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir,
		WithClassifier(classifier.NewDocumentClassifier(classifyClient, 4, 1)))

	docID, filePath := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	ctx := context.Background()
	err = docService.ProcessDocumentAsync(ctx, docID, filePath,
		WithCandidateLabels("history", "finance"))
	require.NoError(t, err)

	tasks, err := taskQueue.GetTasksByDocument(ctx, docID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	handler := NewDocumentTaskHandler(docService)
	err = handler.ProcessTask(ctx, tasks[0])
	require.NoError(t, err)

	// 文档级标签来自请求指定的标签集
	doc, err := statusManager.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Equal(t, "history", doc.Label)

	task, err := taskQueue.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	var result taskqueue.ProcessCompleteResult
	require.NoError(t, json.Unmarshal(task.Result, &result))
	assert.Equal(t, "completed", result.ClassifyStatus)
	assert.Equal(t, "history", result.Label)
}

// TestWaitForDocumentProcessing 测试文档处理等待机制
func TestWaitForDocumentProcessing(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-wait-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, filePath := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	// 异步处理文档
	ctx := context.Background()
	err = docService.ProcessDocumentAsync(ctx, docID, filePath)
	require.NoError(t, err)

	// 尝试使用短超时时间等待 - 应超时
	err = docService.WaitForDocumentProcessing(ctx, docID, 100*time.Millisecond)
	assert.Error(t, err, "预期超时错误")

	// 修改任务和文档状态来模拟处理完成
	tasks, err := taskQueue.GetTasksByDocument(ctx, docID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)

	taskID := tasks[0].ID
	result := taskqueue.ProcessCompleteResult{
		DocumentID:   docID,
		ChunkCount:   2,
		IndexedCount: 2,
	}

	err = taskQueue.UpdateTaskStatus(ctx, taskID, taskqueue.StatusCompleted, result, "")
	require.NoError(t, err)

	// 通知任务更新
	err = taskQueue.NotifyTaskUpdate(ctx, taskID)
	require.NoError(t, err)

	// 将文档标记为已完成
	err = statusManager.MarkAsCompleted(ctx, docID, 2)
	require.NoError(t, err)

	// 再次等待，现在应该成功
	err = docService.WaitForDocumentProcessing(ctx, docID, 2*time.Second)
	assert.NoError(t, err, "当文档已完成时等待应成功")
}

// TestGetDocumentTasks 测试获取文档任务
func TestGetDocumentTasks(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-tasks-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, filePath := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	// 异步处理文档
	ctx := context.Background()
	err = docService.ProcessDocumentAsync(ctx, docID, filePath)
	require.NoError(t, err)

	// 获取文档任务
	tasks, err := docService.GetDocumentTasks(ctx, docID)
	require.NoError(t, err)
	assert.NotEmpty(t, tasks, "应返回文档的任务")
}

// TestWaitForTaskResult 测试等待任务结果
func TestWaitForTaskResult(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docqa-task-result-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	docService, statusManager, taskQueue := setupAsyncTestEnv(t, tempDir)

	docID, _ := createTestDocument(t, tempDir, statusManager)
	docService.EnableAsyncProcessing(taskQueue)

	// 创建测试任务
	ctx := context.Background()
	taskID, err := taskQueue.Enqueue(ctx, taskqueue.TaskProcessComplete, docID, map[string]string{"test": "data"})
	require.NoError(t, err)

	// 模拟任务完成
	result := taskqueue.ProcessCompleteResult{DocumentID: docID}
	err = taskQueue.UpdateTaskStatus(ctx, taskID, taskqueue.StatusCompleted, result, "")
	require.NoError(t, err)
	err = taskQueue.NotifyTaskUpdate(ctx, taskID)
	require.NoError(t, err)

	// 等待任务结果
	task, err := docService.WaitForTaskResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, task.Status)
}
