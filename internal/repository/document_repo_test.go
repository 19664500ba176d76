package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/doc-classify-QA-system/internal/database"
	"github.com/fyerfyer/doc-classify-QA-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// 每个用例独立的内存库，避免并行测试互相污染
	dbName := fmt.Sprintf("file:repo_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	err = db.AutoMigrate(&models.Document{}, &models.DocumentSegment{}, &models.DocumentTask{})
	require.NoError(t, err, "Failed to run migrations")

	originalDB := database.DB
	database.DB = db

	return db, func() {
		database.DB = originalDB
	}
}

// seedDocument 插入一条文档记录并返回它
func seedDocument(t *testing.T, repo DocumentRepository, doc *models.Document) *models.Document {
	t.Helper()
	require.NoError(t, repo.Create(doc), "seeding document should succeed")
	return doc
}

func TestDocRepoCreateAndGet(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-finance-001",
		FileName: "年度财务报告.pdf",
		FileType: "pdf",
		FilePath: "/uploads/doc-finance-001.pdf",
		FileSize: 204800,
		Status:   models.DocStatusUploaded,
		Tags:     "finance,annual",
	})

	saved, err := repo.GetByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "年度财务报告.pdf", saved.FileName)
	assert.Equal(t, models.DocStatusUploaded, saved.Status)
	assert.Equal(t, "finance,annual", saved.Tags)

	// 空ID不允许入库
	err = repo.Create(&models.Document{FileName: "nameless.txt"})
	assert.Error(t, err)

	// 查询不存在的文档
	missing, err := repo.GetByID("doc-missing")
	assert.Error(t, err)
	assert.Nil(t, missing)
	assert.Contains(t, err.Error(), "document not found")
}

func TestDocRepoUpdate(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-law-001",
		FileName: "数据合规指引.md",
		FileType: "md",
		Status:   models.DocStatusUploaded,
	})

	doc.Status = models.DocStatusProcessing
	doc.Progress = 40
	doc.Tags = "law,compliance"
	require.NoError(t, repo.Update(doc))

	updated, err := repo.GetByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, updated.Status)
	assert.Equal(t, 40, updated.Progress)
	assert.Equal(t, "law,compliance", updated.Tags)
}

func TestDocRepoListFilters(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	now := time.Now()
	seedDocument(t, repo, &models.Document{
		ID:         "doc-list-1",
		FileName:   "西方音乐史.pdf",
		Status:     models.DocStatusCompleted,
		Label:      "music",
		Tags:       "history,music",
		UploadedAt: now.Add(-3 * time.Hour),
	})
	seedDocument(t, repo, &models.Document{
		ID:         "doc-list-2",
		FileName:   "季度审计报告.pdf",
		Status:     models.DocStatusProcessing,
		Tags:       "finance,report",
		UploadedAt: now.Add(-1 * time.Hour),
	})
	seedDocument(t, repo, &models.Document{
		ID:         "doc-list-3",
		FileName:   "内控制度报告.docx",
		Status:     models.DocStatusCompleted,
		Label:      "finance",
		Tags:       "finance,report",
		UploadedAt: now,
	})

	t.Run("no filters ordered by upload time", func(t *testing.T) {
		docs, total, err := repo.List(0, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, docs, 3)
		// 最新上传的排在最前
		assert.Equal(t, "doc-list-3", docs[0].ID)
		assert.Equal(t, "doc-list-1", docs[2].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		docs, total, err := repo.List(1, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, docs, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		docs, total, err := repo.List(0, 10, map[string]interface{}{
			"status": string(models.DocStatusProcessing),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, docs, 1)
		assert.Equal(t, "doc-list-2", docs[0].ID)
	})

	t.Run("tags filter matches substring", func(t *testing.T) {
		_, total, err := repo.List(0, 10, map[string]interface{}{"tags": "report"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("label filter", func(t *testing.T) {
		docs, total, err := repo.List(0, 10, map[string]interface{}{"label": "music"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, docs, 1)
		assert.Equal(t, "西方音乐史.pdf", docs[0].FileName)
	})

	t.Run("file name filter", func(t *testing.T) {
		_, total, err := repo.List(0, 10, map[string]interface{}{"file_name": "报告"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})
}

func TestDocRepoDeleteCascadesSegments(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-del-1",
		FileName: "残卷.txt",
		Status:   models.DocStatusCompleted,
	})

	require.NoError(t, repo.SaveSegment(&models.DocumentSegment{
		DocumentID: doc.ID,
		SegmentID:  "doc-del-1-seg-0",
		Position:   0,
		Text:       "第一章 总则",
	}))

	require.NoError(t, repo.Delete(doc.ID))

	_, err := repo.GetByID(doc.ID)
	assert.Error(t, err, "deleted document should not be retrievable")

	segments, err := repo.GetSegments(doc.ID)
	require.NoError(t, err)
	assert.Empty(t, segments, "segments should be removed with the document")
}

func TestDocRepoStatusUpdates(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-status-1",
		FileName: "监管问答.txt",
		Status:   models.DocStatusUploaded,
	})

	require.NoError(t, repo.UpdateStatus(doc.ID, models.DocStatusProcessing, ""))
	current, err := repo.GetByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, current.Status)
	assert.Nil(t, current.ProcessedAt, "processed_at should stay empty before a terminal status")

	// 失败时记录错误并写入完成时间
	require.NoError(t, repo.UpdateStatus(doc.ID, models.DocStatusFailed, "classifier unavailable"))
	current, err = repo.GetByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, current.Status)
	assert.Equal(t, "classifier unavailable", current.Error)
	assert.NotNil(t, current.ProcessedAt, "terminal status must set processed_at")
}

func TestDocRepoProgressClamped(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-prog-1",
		FileName: "长文档.pdf",
		Status:   models.DocStatusProcessing,
	})

	cases := []struct {
		input int
		want  int
	}{
		{55, 55},
		{-20, 0},
		{130, 100},
	}

	for _, tc := range cases {
		require.NoError(t, repo.UpdateProgress(doc.ID, tc.input))
		current, err := repo.GetByID(doc.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, current.Progress, "progress %d should be stored as %d", tc.input, tc.want)
	}
}

func TestDocRepoUpdateLabel(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-label-1",
		FileName: "交响曲分析.txt",
		Status:   models.DocStatusCompleted,
	})

	require.NoError(t, repo.UpdateLabel(doc.ID, "music"))

	current, err := repo.GetByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "music", current.Label)

	// 分类结果落库后可以按标签筛选
	docs, total, err := repo.List(0, 10, map[string]interface{}{"label": "music"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestDocRepoSegments(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDocumentRepository()

	doc := seedDocument(t, repo, &models.Document{
		ID:       "doc-seg-1",
		FileName: "分段样本.md",
		Status:   models.DocStatusProcessing,
	})

	// 乱序写入，读取时按position排序
	require.NoError(t, repo.SaveSegments([]*models.DocumentSegment{
		{DocumentID: doc.ID, SegmentID: "doc-seg-1-2", Position: 2, Text: "第三段：检索与问答。"},
		{DocumentID: doc.ID, SegmentID: "doc-seg-1-1", Position: 1, Text: "第二段：预处理与分类。"},
	}))
	require.NoError(t, repo.SaveSegment(&models.DocumentSegment{
		DocumentID: doc.ID, SegmentID: "doc-seg-1-0", Position: 0, Text: "第一段：文档接入。",
	}))

	segments, err := repo.GetSegments(doc.ID)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, "第一段：文档接入。", segments[0].Text)
	assert.Equal(t, "第三段：检索与问答。", segments[2].Text)

	count, err := repo.CountSegments(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// 空批次直接返回
	assert.NoError(t, repo.SaveSegments(nil))

	require.NoError(t, repo.DeleteSegments(doc.ID))
	segments, err = repo.GetSegments(doc.ID)
	require.NoError(t, err)
	assert.Empty(t, segments)

	count, err = repo.CountSegments(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
