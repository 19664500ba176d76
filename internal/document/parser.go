package document

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// Parser 把上传的原始文档转换为纯文本
// 转换是处理管线的第一阶段，后续分段、分类、索引都基于纯文本
type Parser interface {
	// Parse 解析磁盘文件
	Parse(filePath string) (string, error)

	// ParseReader 解析流式内容，filename只用于判断格式
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 支持的文档格式
type ContentType string

const (
	PDF       ContentType = "pdf"
	Markdown  ContentType = "markdown"
	PlainText ContentType = "plaintext"
	Docx      ContentType = "docx"
	Unknown   ContentType = "unknown"
)

// ParserFactory 按文件格式选择解析器
func ParserFactory(filePath string) (Parser, error) {
	contentType := DetectContentType(filePath)

	switch contentType {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	case Docx:
		return NewDocxParser(), nil
	default:
		return nil, errors.New("unsupported document type")
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt", ".text":
		return PlainText
	case ".docx":
		return Docx
	default:
		return Unknown
	}
}

// Document 转换得到的纯文本文档
type Document struct {
	Content string            // 全文
	Title   string            // 标题，部分格式可提取
	Source  string            // 源文件名
	Meta    map[string]string // 附加元数据
}

// Content 预处理产出的一个分段
type Content struct {
	Text  string
	Index int // 在文档中的顺序
}

// Splitter 把长文本切成适合分类和检索的段落
type Splitter interface {
	Split(text string) ([]Content, error)
}
