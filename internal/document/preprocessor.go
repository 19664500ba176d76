package document

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// SplitUnit 文本分割的基本单位
type SplitUnit string

const (
	// ByWord 按词分割
	ByWord SplitUnit = "word"
	// BySentence 按句子分割
	BySentence SplitUnit = "sentence"
	// ByPassage 按段落分割
	ByPassage SplitUnit = "passage"
	// ByToken 按模型token分割
	ByToken SplitUnit = "token"
)

// 默认的token编码器
const defaultTokenEncoding = "cl100k_base"

// PreprocessorConfig 预处理器配置
// 清洗选项决定分割前的文本规整，分割选项决定窗口大小和重叠
type PreprocessorConfig struct {
	CleanWhitespace   bool // 去除每行首尾的空白
	CleanEmptyLines   bool // 将连续空行压缩为一个
	CleanHeaderFooter bool // 移除跨页重复的页眉页脚

	SplitBy      SplitUnit // 分割单位
	SplitLength  int       // 每个分段包含的单位数量
	SplitOverlap int       // 相邻分段重叠的单位数量

	// 按词分割时保持句子完整，分段在句子边界处断开
	RespectSentenceBoundary bool

	// token模式使用的编码器名称，留空使用cl100k_base
	TokenEncoding string

	// 最大分段数量（0表示不限制）
	MaxChunks int
}

// DefaultPreprocessorConfig 返回默认预处理器配置
func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		CleanWhitespace:         true,
		CleanEmptyLines:         true,
		CleanHeaderFooter:       false,
		SplitBy:                 ByWord,
		SplitLength:             200,
		SplitOverlap:            0,
		RespectSentenceBoundary: true,
	}
}

// Preprocessor 文本预处理器
// 实现Splitter接口：先清洗文本，再按配置的单位切分成带重叠的窗口
type Preprocessor struct {
	config   PreprocessorConfig
	encoding *tiktoken.Tiktoken
}

// NewPreprocessor 创建文本预处理器
func NewPreprocessor(config PreprocessorConfig) (*Preprocessor, error) {
	if config.SplitBy == "" {
		config.SplitBy = ByWord
	}
	if config.SplitLength <= 0 {
		return nil, fmt.Errorf("split length must be positive, got %d", config.SplitLength)
	}
	if config.SplitOverlap < 0 {
		return nil, fmt.Errorf("split overlap must be non-negative, got %d", config.SplitOverlap)
	}
	if config.SplitOverlap >= config.SplitLength {
		return nil, fmt.Errorf("split overlap %d must be less than split length %d",
			config.SplitOverlap, config.SplitLength)
	}

	p := &Preprocessor{config: config}

	// token模式需要预先加载编码器
	if config.SplitBy == ByToken {
		name := config.TokenEncoding
		if name == "" {
			name = defaultTokenEncoding
		}
		encoding, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoding %s: %w", name, err)
		}
		p.encoding = encoding
	}

	return p, nil
}

// Config 返回预处理器的配置副本
func (p *Preprocessor) Config() PreprocessorConfig {
	return p.config
}

// Split 将文本清洗后分割成内容分段
func (p *Preprocessor) Split(text string) ([]Content, error) {
	text = p.Clean(text)
	if text == "" {
		return []Content{}, nil
	}

	var chunks []string
	var err error

	switch p.config.SplitBy {
	case ByWord:
		if p.config.RespectSentenceBoundary {
			chunks = p.splitWordsBySentence(text)
		} else {
			chunks = windowJoin(strings.Fields(text), p.config.SplitLength, p.config.SplitOverlap, " ")
		}
	case BySentence:
		chunks = windowJoin(splitSentences(text), p.config.SplitLength, p.config.SplitOverlap, " ")
	case ByPassage:
		chunks = windowJoin(splitPassages(text), p.config.SplitLength, p.config.SplitOverlap, "\n\n")
	case ByToken:
		chunks, err = p.splitTokens(text)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown split unit: %s", p.config.SplitBy)
	}

	// 应用最大分段数量限制
	if p.config.MaxChunks > 0 && len(chunks) > p.config.MaxChunks {
		chunks = chunks[:p.config.MaxChunks]
	}

	contents := make([]Content, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		contents = append(contents, Content{
			Text:  chunk,
			Index: len(contents),
		})
	}

	return contents, nil
}

// Clean 清洗文本
// 依次执行：换行规范化、页眉页脚移除、行内空白清理、空行压缩
func (p *Preprocessor) Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if p.config.CleanHeaderFooter {
		text = stripRepeatedHeaderFooter(text)
	}

	if p.config.CleanWhitespace {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimSpace(line)
		}
		text = strings.Join(lines, "\n")
	}

	if p.config.CleanEmptyLines {
		for strings.Contains(text, "\n\n\n") {
			text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
		}
	}

	return strings.TrimSpace(text)
}

// splitWordsBySentence 按词数分窗但保持句子完整
// 句子逐个累积，超出窗口词数时在句子边界断开；重叠部分由完整句子组成
func (p *Preprocessor) splitWordsBySentence(text string) []string {
	sentences := splitSentences(text)

	var chunks []string
	var current []string
	currentWords := 0

	for _, sentence := range sentences {
		words := len(strings.Fields(sentence))

		// 单个句子超过窗口时退化为纯词窗口切分
		if words > p.config.SplitLength {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current, currentWords = nil, 0
			}
			sub := windowJoin(strings.Fields(sentence), p.config.SplitLength, p.config.SplitOverlap, " ")
			chunks = append(chunks, sub...)
			continue
		}

		if currentWords+words > p.config.SplitLength && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			tail := p.overlapTail(current)
			// 重叠不允许覆盖整个分段，否则无法前进
			if len(tail) == len(current) {
				tail = nil
			}
			current, currentWords = tail, 0
			for _, s := range current {
				currentWords += len(strings.Fields(s))
			}
		}

		current = append(current, sentence)
		currentWords += words
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// overlapTail 取分段末尾的若干完整句子作为下一分段的开头
// 累计词数不超过SplitOverlap
func (p *Preprocessor) overlapTail(sentences []string) []string {
	if p.config.SplitOverlap <= 0 {
		return nil
	}

	var tail []string
	words := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		w := len(strings.Fields(sentences[i]))
		if words+w > p.config.SplitOverlap {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		words += w
	}

	return tail
}

// splitTokens 按模型token分窗
func (p *Preprocessor) splitTokens(text string) ([]string, error) {
	if p.encoding == nil {
		return nil, fmt.Errorf("token encoding not initialized")
	}

	tokens := p.encoding.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < len(tokens) {
		end := start + p.config.SplitLength
		if end > len(tokens) {
			end = len(tokens)
		}

		chunks = append(chunks, p.encoding.Decode(tokens[start:end]))

		if end == len(tokens) {
			break
		}
		start = end - p.config.SplitOverlap
	}

	return chunks, nil
}

// windowJoin 将单位序列按窗口大小和重叠组合成分段
func windowJoin(units []string, length, overlap int, sep string) []string {
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(units) {
		end := start + length
		if end > len(units) {
			end = len(units)
		}

		chunks = append(chunks, strings.Join(units[start:end], sep))

		if end == len(units) {
			break
		}
		start = end - overlap
	}

	return chunks
}

// 句子结束符，兼容中英文标点
var sentenceDelimiters = []rune{'.', '!', '?', '；', '。', '！', '？'}

// splitSentences 将文本分割成句子
// 以结束符切分，保留结束符本身；不以结束符结尾的余下文本作为最后一句
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, char := range text {
		current.WriteRune(char)

		isSentenceEnd := false
		for _, delimiter := range sentenceDelimiters {
			if char == delimiter {
				isSentenceEnd = true
				break
			}
		}

		if isSentenceEnd {
			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}

	last := strings.TrimSpace(current.String())
	if last != "" {
		sentences = append(sentences, last)
	}

	return sentences
}

// splitPassages 按空行将文本分割成段落
func splitPassages(text string) []string {
	var passages []string
	for _, passage := range strings.Split(text, "\n\n") {
		passage = strings.TrimSpace(passage)
		if passage != "" {
			passages = append(passages, passage)
		}
	}
	return passages
}

// stripRepeatedHeaderFooter 移除跨页重复的页眉页脚
// 以换页符划分页面，出现在多数页面首行/末行的相同文本视为页眉/页脚
func stripRepeatedHeaderFooter(text string) string {
	pages := strings.Split(text, "\f")
	if len(pages) < 2 {
		return text
	}

	firstLines := make(map[string]int)
	lastLines := make(map[string]int)
	for _, page := range pages {
		lines := nonEmptyLines(page)
		if len(lines) == 0 {
			continue
		}
		firstLines[lines[0]]++
		lastLines[lines[len(lines)-1]]++
	}

	threshold := len(pages)/2 + 1
	header := repeatedEdgeLine(firstLines, threshold)
	footer := repeatedEdgeLine(lastLines, threshold)
	if header == "" && footer == "" {
		return text
	}

	for i, page := range pages {
		pages[i] = stripEdgeLines(page, header, footer)
	}

	return strings.Join(pages, "\f")
}

// nonEmptyLines 返回页面中去除空白后的非空行
func nonEmptyLines(page string) []string {
	var lines []string
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// repeatedEdgeLine 返回出现次数达到阈值的行
func repeatedEdgeLine(counts map[string]int, threshold int) string {
	for line, count := range counts {
		if count >= threshold {
			return line
		}
	}
	return ""
}

// stripEdgeLines 移除页面首部的页眉行和尾部的页脚行
func stripEdgeLines(page, header, footer string) string {
	lines := strings.Split(page, "\n")

	if header != "" {
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if trimmed == header {
				lines = append(lines[:i], lines[i+1:]...)
			}
			break
		}
	}

	if footer != "" {
		for i := len(lines) - 1; i >= 0; i-- {
			trimmed := strings.TrimSpace(lines[i])
			if trimmed == "" {
				continue
			}
			if trimmed == footer {
				lines = append(lines[:i], lines[i+1:]...)
			}
			break
		}
	}

	return strings.Join(lines, "\n")
}
