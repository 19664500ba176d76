package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"
)

// DocxParser Word文档解析器
// 解析docx压缩包中的word/document.xml，提取段落文本
type DocxParser struct{}

// NewDocxParser 创建一个新的Word文档解析器
func NewDocxParser() Parser {
	return &DocxParser{}
}

// docxDocument word/document.xml的结构
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

// Parse 解析docx文件并提取文本内容
func (p *DocxParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open docx file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析docx内容
// zip读取需要随机访问，先将内容读入内存
func (p *DocxParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := ioutil.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read docx content: %v", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("invalid docx file: %v", err)
	}

	for _, f := range zipReader.File {
		if f.Name != "word/document.xml" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document.xml: %v", err)
		}

		xmlContent, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document.xml: %v", err)
		}

		return extractDocxText(xmlContent)
	}

	return "", fmt.Errorf("no document.xml found in docx file")
}

// extractDocxText 从document.xml中提取段落文本
// 段落之间以换行符分隔
func extractDocxText(content []byte) (string, error) {
	var doc docxDocument
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("failed to parse document.xml: %v", err)
	}

	var sb strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, text := range run.Text {
				sb.WriteString(text.Content)
			}
		}
	}

	result := strings.TrimSpace(sb.String())
	if result == "" {
		return "", fmt.Errorf("no text content found in docx")
	}

	return result, nil
}
