package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 表名只允许字母数字和下划线，防止拼接SQL时注入
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgVectorStore 基于Postgres+pgvector扩展的文档存储
// 向量相似度由pgvector计算，文本相关度由Postgres全文检索计算
type PgVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
	dimension int
	distType  DistanceType
}

// NewPgVectorStore 创建pgvector文档存储
// config.DSN为连接串，config.Index作为表名
func NewPgVectorStore(config Config) (Store, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("pgvector store requires a DSN")
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	tableName := config.Index
	if tableName == "" {
		tableName = defaultESIndex
	}
	if !validTableName.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("error parsing connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	store := &PgVectorStore{
		pool:      pool,
		tableName: tableName,
		dimension: config.Dimension,
		distType:  distType,
	}

	if config.CreateIfNotExists {
		if err := store.initSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return store, nil
}

// initSchema 初始化表结构和索引
func (s *PgVectorStore) initSchema(ctx context.Context) error {
	// 启用pgvector扩展
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("error creating vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			meta JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)
	`, s.tableName, s.dimension)

	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}

	// 向量相似度索引
	indexSQL := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding %s)
		WITH (lists = 100)
	`, s.tableName, s.tableName, s.vectorOpClass())

	if _, err := s.pool.Exec(ctx, indexSQL); err != nil {
		return fmt.Errorf("error creating vector index: %w", err)
	}

	// 全文检索索引
	ftsSQL := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_content_fts_idx
		ON %s
		USING gin (to_tsvector('english', content))
	`, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, ftsSQL); err != nil {
		return fmt.Errorf("error creating fulltext index: %w", err)
	}

	return nil
}

// vectorOperator 返回距离度量对应的pgvector运算符
func (s *PgVectorStore) vectorOperator() string {
	switch s.distType {
	case Euclidean:
		return "<->"
	case DotProduct:
		return "<#>"
	default: // Cosine
		return "<=>"
	}
}

// vectorOpClass 返回距离度量对应的索引操作符类
func (s *PgVectorStore) vectorOpClass() string {
	switch s.distType {
	case Euclidean:
		return "vector_l2_ops"
	case DotProduct:
		return "vector_ip_ops"
	default: // Cosine
		return "vector_cosine_ops"
	}
}

// WriteDocuments 写入一批文档，按ID覆盖
func (s *PgVectorStore) WriteDocuments(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, content, content_type, meta, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			content_type = EXCLUDED.content_type,
			meta = EXCLUDED.meta,
			embedding = EXCLUDED.embedding
	`, s.tableName)

	batch := &pgx.Batch{}
	for _, doc := range docs {
		if doc.ID == "" {
			return 0, ErrInvalidID
		}

		contentType := doc.ContentType
		if contentType == "" {
			contentType = "text"
		}

		metaJSON, err := json.Marshal(doc.Meta)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal meta for document %s: %w", doc.ID, err)
		}

		var vectorValue interface{}
		if len(doc.Embedding) > 0 {
			if err := ValidateVector(doc.Embedding, s.dimension); err != nil {
				return 0, fmt.Errorf("invalid vector for document %s: %w", doc.ID, err)
			}
			vectorValue = formatVector(doc.Embedding)
		}

		batch.Queue(upsertSQL, doc.ID, doc.Content, contentType, metaJSON, vectorValue)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for i := 0; i < len(docs); i++ {
		if _, err := results.Exec(); err != nil {
			return written, fmt.Errorf("error writing document %s: %w", docs[i].ID, err)
		}
		written++
	}

	return written, nil
}

// GetDocument 根据ID获取单个文档
func (s *PgVectorStore) GetDocument(ctx context.Context, id string) (Document, error) {
	if id == "" {
		return Document{}, ErrInvalidID
	}

	query := fmt.Sprintf(`
		SELECT id, content, content_type, meta, embedding::text
		FROM %s WHERE id = $1
	`, s.tableName)

	doc, err := s.scanDocument(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, fmt.Errorf("error querying document: %w", err)
	}

	return doc, nil
}

// GetAllDocuments 获取全部文档，按ID排序
func (s *PgVectorStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id, content, content_type, meta, embedding::text
		FROM %s ORDER BY id
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return docs, nil
}

// DeleteDocuments 删除指定ID的文档；ids为空时清空表
func (s *PgVectorStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.tableName))
		if err != nil {
			return fmt.Errorf("error clearing documents: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.tableName), ids)
	if err != nil {
		return fmt.Errorf("error deleting documents: %w", err)
	}
	return nil
}

// Query 按文本相关度检索文档
// 使用Postgres全文检索，排序由ts_rank完成
func (s *PgVectorStore) Query(ctx context.Context, query string, filter SearchFilter) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	args := []interface{}{query, maxResults}
	whereClauses := []string{"to_tsvector('english', content) @@ plainto_tsquery('english', $1)"}
	whereClauses, args = s.appendFilterClauses(whereClauses, args, filter)

	sql := fmt.Sprintf(`
		SELECT id, content, content_type, meta, embedding::text,
			ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC
		LIMIT $2
	`, s.tableName, strings.Join(whereClauses, " AND "))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing fulltext search: %w", err)
	}
	defer rows.Close()

	return s.collectResults(rows, filter.MinScore)
}

// QueryByEmbedding 按向量相似度检索文档
func (s *PgVectorStore) QueryByEmbedding(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	operator := s.vectorOperator()

	// 根据距离度量换算[0,1]区间的相似度得分
	var scoreExpr string
	switch s.distType {
	case DotProduct:
		scoreExpr = fmt.Sprintf("((embedding %s $1::vector) * -1 + 1) / 2", operator)
	case Euclidean:
		scoreExpr = fmt.Sprintf("1 / (1 + (embedding %s $1::vector))", operator)
	default: // Cosine
		scoreExpr = fmt.Sprintf("1 - (embedding %s $1::vector)", operator)
	}

	args := []interface{}{formatVector(vector), maxResults}
	whereClauses := []string{"embedding IS NOT NULL"}
	whereClauses, args = s.appendFilterClauses(whereClauses, args, filter)

	sql := fmt.Sprintf(`
		SELECT id, content, content_type, meta, embedding::text,
			%s AS score
		FROM %s
		WHERE %s
		ORDER BY embedding %s $1::vector
		LIMIT $2
	`, scoreExpr, s.tableName, strings.Join(whereClauses, " AND "), operator)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing similarity search: %w", err)
	}
	defer rows.Close()

	return s.collectResults(rows, filter.MinScore)
}

// Count 获取文档总数
func (s *PgVectorStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting documents: %w", err)
	}
	return count, nil
}

// MetadataValues 统计某个元数据键的取值分布
func (s *PgVectorStore) MetadataValues(ctx context.Context, key string) ([]MetadataCount, error) {
	path, err := metaJSONPath(key)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT meta #>> %s AS value, COUNT(*) AS count
		FROM %s
		WHERE meta #>> %s IS NOT NULL
		GROUP BY value
		ORDER BY count DESC, value ASC
		LIMIT 100
	`, path, s.tableName, path)

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("error aggregating metadata values: %w", err)
	}
	defer rows.Close()

	var counts []MetadataCount
	for rows.Next() {
		var mc MetadataCount
		if err := rows.Scan(&mc.Value, &mc.Count); err != nil {
			return nil, fmt.Errorf("error scanning aggregation row: %w", err)
		}
		counts = append(counts, mc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})

	return counts, nil
}

// Close 关闭连接池
func (s *PgVectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// appendFilterClauses 将过滤条件转换为WHERE子句
func (s *PgVectorStore) appendFilterClauses(clauses []string, args []interface{}, filter SearchFilter) ([]string, []interface{}) {
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	for key, values := range filter.Meta {
		if len(values) == 0 {
			continue
		}
		path, err := metaJSONPath(key)
		if err != nil {
			continue // 非法键直接忽略
		}
		args = append(args, values)
		clauses = append(clauses, fmt.Sprintf("meta #>> %s = ANY($%d)", path, len(args)))
	}

	return clauses, args
}

// collectResults 将查询行收集为检索结果
func (s *PgVectorStore) collectResults(rows pgx.Rows, minScore float64) ([]SearchResult, error) {
	var results []SearchResult

	for rows.Next() {
		var (
			id          string
			content     string
			contentType string
			metaJSON    []byte
			vectorText  *string
			score       float64
		)

		if err := rows.Scan(&id, &content, &contentType, &metaJSON, &vectorText, &score); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}

		if minScore > 0 && score < minScore {
			continue
		}

		doc := Document{
			ID:          id,
			Content:     content,
			ContentType: contentType,
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &doc.Meta); err != nil {
				return nil, fmt.Errorf("error parsing meta for document %s: %w", id, err)
			}
		}
		if vectorText != nil {
			doc.Embedding = parseVector(*vectorText)
		}

		results = append(results, SearchResult{Document: doc, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// pgRow 统一QueryRow和Rows的扫描入口
type pgRow interface {
	Scan(dest ...interface{}) error
}

// scanDocument 扫描单行为文档模型
func (s *PgVectorStore) scanDocument(row pgRow) (Document, error) {
	var (
		id          string
		content     string
		contentType string
		metaJSON    []byte
		vectorText  *string
	)

	if err := row.Scan(&id, &content, &contentType, &metaJSON, &vectorText); err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:          id,
		Content:     content,
		ContentType: contentType,
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &doc.Meta); err != nil {
			return Document{}, fmt.Errorf("error parsing meta for document %s: %w", id, err)
		}
	}
	if vectorText != nil {
		doc.Embedding = parseVector(*vectorText)
	}

	return doc, nil
}

// metaJSONPath 将点号路径转换为Postgres的jsonb路径字面量
// 键名只允许字母数字、下划线和点号
func metaJSONPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("metadata key is required")
	}

	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" || !validTableName.MatchString(part) {
			return "", fmt.Errorf("invalid metadata key: %s", key)
		}
	}

	return "'{" + strings.Join(parts, ",") + "}'", nil
}

// formatVector 将向量转换为pgvector的文本格式
func formatVector(vector []float32) string {
	var b strings.Builder
	b.WriteString("[")
	for i, v := range vector {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteString("]")
	return b.String()
}

// parseVector 解析pgvector的文本格式为向量
func parseVector(text string) []float32 {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")
	if text == "" {
		return nil
	}

	parts := strings.Split(text, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil
		}
		vector = append(vector, float32(f))
	}

	return vector
}

func init() {
	RegisterStore("pgvector", NewPgVectorStore)
}
