package reader

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyerfyer/doc-classify-QA-system/internal/docstore"
	"github.com/gammazero/workerpool"
)

// 默认上下文窗口大小（rune数）
const defaultContextWindow = 150

// Reader 抽取式问答阅读器
// 将问题与一批候选文档逐一送入问答模型，汇总抽取出的答案片段
type Reader struct {
	client        Client // 问答模型客户端
	topK          int    // 最终返回的答案数量
	perDocTopK    int    // 每篇文档抽取的候选答案数量
	contextWindow int    // 答案两侧保留的上下文rune数
	maxWorkers    int    // 最大并行工作线程数
	dropNoAnswer  bool   // 是否丢弃"无答案"结果
}

// ReaderOption 阅读器配置选项
type ReaderOption func(*Reader)

// NewReader 创建抽取式问答阅读器
func NewReader(client Client, opts ...ReaderOption) *Reader {
	r := &Reader{
		client:        client,
		topK:          5,
		perDocTopK:    3,
		contextWindow: defaultContextWindow,
		maxWorkers:    4,
		dropNoAnswer:  true,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithReaderTopK 设置最终返回的答案数量
func WithReaderTopK(topK int) ReaderOption {
	return func(r *Reader) {
		if topK > 0 {
			r.topK = topK
		}
	}
}

// WithPerDocumentTopK 设置每篇文档抽取的候选答案数量
func WithPerDocumentTopK(topK int) ReaderOption {
	return func(r *Reader) {
		if topK > 0 {
			r.perDocTopK = topK
		}
	}
}

// WithContextWindow 设置答案两侧保留的上下文大小
func WithContextWindow(window int) ReaderOption {
	return func(r *Reader) {
		if window >= 0 {
			r.contextWindow = window
		}
	}
}

// WithMaxWorkers 设置最大并行工作线程数
func WithMaxWorkers(workers int) ReaderOption {
	return func(r *Reader) {
		if workers > 0 {
			r.maxWorkers = workers
		}
	}
}

// WithNoAnswerResults 设置是否保留"无答案"结果
func WithNoAnswerResults(keep bool) ReaderOption {
	return func(r *Reader) {
		r.dropNoAnswer = !keep
	}
}

// Read 从一批文档中抽取问题的答案
// 各文档并行处理；返回全局按置信度降序排列的前topK个答案
func (r *Reader) Read(ctx context.Context, question string, docs []docstore.Document) ([]docstore.Answer, error) {
	if question == "" {
		return nil, NewReaderError(ErrCodeEmptyQuestion, ErrMsgEmptyQuestion)
	}
	if len(docs) == 0 {
		return []docstore.Answer{}, nil
	}

	wp := workerpool.New(r.maxWorkers)
	resultsMu := sync.Mutex{}
	docAnswers := make([][]docstore.Answer, len(docs))
	var processingErr error
	var errOnce sync.Once

	for i, doc := range docs {
		i, doc := i, doc // 捕获循环变量
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

			if doc.Content == "" {
				return
			}

			raw, err := r.client.Extract(ctx, question, doc.Content,
				WithExtractTopK(r.perDocTopK))

			resultsMu.Lock()
			defer resultsMu.Unlock()

			if err != nil {
				errOnce.Do(func() {
					processingErr = fmt.Errorf("failed to extract from document %s: %v", doc.ID, err)
				})
				return
			}

			answers := make([]docstore.Answer, 0, len(raw))
			for _, ra := range raw {
				answer := r.buildAnswer(ra, doc)
				if r.dropNoAnswer && answer.IsNoAnswer() {
					continue
				}
				answers = append(answers, answer)
			}
			docAnswers[i] = answers
		})
	}

	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}

	// 汇总所有文档的答案并按得分全局排序
	var all []docstore.Answer
	for _, answers := range docAnswers {
		all = append(all, answers...)
	}
	sortAnswers(all)

	if len(all) > r.topK {
		all = all[:r.topK]
	}
	if all == nil {
		all = []docstore.Answer{}
	}

	return all, nil
}

// buildAnswer 将模型的原始答案转换为答案记录
// 在答案两侧截取上下文片段，所有位置都以rune为单位计算
func (r *Reader) buildAnswer(raw RawAnswer, doc docstore.Document) docstore.Answer {
	answer := docstore.Answer{
		Answer:     raw.Answer,
		Score:      raw.Score,
		DocumentID: doc.ID,
		Meta:       doc.Meta,
	}

	// 无答案结果不携带位置信息
	if raw.Answer == "" {
		return answer
	}

	runes := []rune(doc.Content)

	start := clamp(raw.Start, 0, len(runes))
	end := clamp(raw.End, start, len(runes))

	// 模型偏移异常时回退到文本匹配定位
	if string(runes[start:end]) != raw.Answer {
		if s, e, ok := locateSpan(doc.Content, raw.Answer); ok {
			start, end = s, e
		}
	}

	ctxStart := start - r.contextWindow
	if ctxStart < 0 {
		ctxStart = 0
	}
	ctxEnd := end + r.contextWindow
	if ctxEnd > len(runes) {
		ctxEnd = len(runes)
	}

	answer.Context = string(runes[ctxStart:ctxEnd])
	answer.OffsetInDocument = docstore.Span{Start: start, End: end}
	answer.OffsetInContext = docstore.Span{Start: start - ctxStart, End: end - ctxStart}

	return answer
}

// locateSpan 在文本中查找答案片段的rune位置
func locateSpan(content, answer string) (int, int, bool) {
	runes := []rune(content)
	target := []rune(answer)
	if len(target) == 0 || len(target) > len(runes) {
		return 0, 0, false
	}

	for i := 0; i+len(target) <= len(runes); i++ {
		if string(runes[i:i+len(target)]) == answer {
			return i, i + len(target), true
		}
	}

	return 0, 0, false
}

// clamp 将值限制在[lo, hi]范围内
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sortAnswers 按得分降序排列答案（稳定排序，保持同分答案的文档顺序）
func sortAnswers(answers []docstore.Answer) {
	for i := 1; i < len(answers); i++ {
		current := answers[i]
		j := i - 1

		for j >= 0 && answers[j].Score < current.Score {
			answers[j+1] = answers[j]
			j--
		}
		answers[j+1] = current
	}
}
