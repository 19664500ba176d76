package document

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
// 先渲染为HTML再提取纯文本，保留段落结构
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := ioutil.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown content: %v", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	doc := mdParser.Parse(content)

	htmlFlags := html.CommonFlags | html.HrefTargetBlank
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})

	htmlContent := markdown.Render(doc, renderer)

	return stripHTMLTags(string(htmlContent)), nil
}

// blockTagBreaks 块级HTML标签到文本分隔符的映射
// 保留段落和列表结构，便于后续按段落分割
var blockTagBreaks = []struct {
	Tag   string
	Break string
}{
	{"<br>", "\n"},
	{"<br/>", "\n"},
	{"<br />", "\n"},
	{"</p>", "\n\n"},
	{"<li>", "- "},
	{"</li>", "\n"},
	{"</ul>", "\n"},
	{"</ol>", "\n"},
	{"</h1>", "\n\n"},
	{"</h2>", "\n\n"},
	{"</h3>", "\n\n"},
	{"</h4>", "\n\n"},
	{"</h5>", "\n\n"},
	{"</h6>", "\n\n"},
	{"</pre>", "\n\n"},
	{"</blockquote>", "\n\n"},
	{"</table>", "\n\n"},
	{"</tr>", "\n"},
}

// stripHTMLTags 从HTML中提取纯文本
// 简化实现：块级标签转为换行，其余标签直接移除
func stripHTMLTags(htmlText string) string {
	result := htmlText
	for _, b := range blockTagBreaks {
		result = strings.ReplaceAll(result, b.Tag, b.Break)
	}

	// 移除剩余的所有HTML标签
	var sb strings.Builder
	sb.Grow(len(result))
	inTag := false
	for _, r := range result {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			if inTag {
				inTag = false
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(r)
			}
		case !inTag:
			sb.WriteRune(r)
		}
	}

	return collapseSpaces(sb.String())
}

// collapseSpaces 压缩行内多余空格并限制连续空行
func collapseSpaces(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	result := strings.Join(lines, "\n")

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
