package document

import (
	"archive/zip"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

func createTempFile(t *testing.T, content, ext string) string {
	tmpFile, err := ioutil.TempFile("", "docqa-test-*"+ext)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func createTempPDF(t *testing.T, text string) string {
	tmpFile, err := ioutil.TempFile("", "docqa-test-*.pdf")
	if err != nil {
		t.Fatalf("Failed to create temp PDF file: %v", err)
	}
	defer tmpFile.Close()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 10, text, "", "", false)
	if err := pdf.Output(tmpFile); err != nil {
		t.Fatalf("Failed to write PDF: %v", err)
	}
	return tmpFile.Name()
}

// createTempDocx 构造一个最小的docx测试文件
func createTempDocx(t *testing.T, paragraphs []string) string {
	tmpFile, err := ioutil.TempFile("", "docqa-test-*.docx")
	if err != nil {
		t.Fatalf("Failed to create temp docx file: %v", err)
	}
	defer tmpFile.Close()

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>`)
		sb.WriteString(p)
		sb.WriteString(`</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)

	zipWriter := zip.NewWriter(tmpFile)
	entry, err := zipWriter.Create("word/document.xml")
	if err != nil {
		t.Fatalf("Failed to create zip entry: %v", err)
	}
	if _, err := entry.Write([]byte(sb.String())); err != nil {
		t.Fatalf("Failed to write zip entry: %v", err)
	}
	if err := zipWriter.Close(); err != nil {
		t.Fatalf("Failed to close zip writer: %v", err)
	}
	return tmpFile.Name()
}

func TestPlainTextParser(t *testing.T) {
	content := "Hello, this is a plain text file.\nSecond line."
	file := createTempFile(t, content, ".txt")
	defer os.Remove(file)

	parser := NewPlainTextParser()
	text, err := parser.Parse(file)
	if err != nil {
		t.Fatalf("PlainTextParser.Parse failed: %v", err)
	}
	if !strings.Contains(text, "plain text file") {
		t.Errorf("Expected content not found in parsed text: %s", text)
	}
}

func TestPlainTextParserStripsBOM(t *testing.T) {
	content := "\uFEFFBOM prefixed content."
	file := createTempFile(t, content, ".txt")
	defer os.Remove(file)

	parser := NewPlainTextParser()
	text, err := parser.Parse(file)
	if err != nil {
		t.Fatalf("PlainTextParser.Parse failed: %v", err)
	}
	if text != "BOM prefixed content." {
		t.Errorf("Expected BOM to be stripped, got: %q", text)
	}
}

func TestMarkdownParser(t *testing.T) {
	content := "# Title\n\nThis is a **markdown** file.\n\n- Item 1\n- Item 2"
	file := createTempFile(t, content, ".md")
	defer os.Remove(file)

	parser := NewMarkdownParser()
	text, err := parser.Parse(file)
	if err != nil {
		t.Fatalf("MarkdownParser.Parse failed: %v", err)
	}
	if !strings.Contains(text, "markdown file") {
		t.Errorf("Expected content not found in parsed text: %s", text)
	}
	if !strings.Contains(text, "Item 1") {
		t.Errorf("Expected list item not found in parsed text: %s", text)
	}
}

func TestPDFParser(t *testing.T) {
	content := "This is a PDF test.\nSecond line."
	file := createTempPDF(t, content)
	defer os.Remove(file)

	parser := NewPDFParser()
	text, err := parser.Parse(file)
	if err != nil {
		t.Fatalf("PDFParser.Parse failed: %v", err)
	}
	if !strings.Contains(text, "PDF test") {
		t.Errorf("Expected content not found in parsed PDF text: %s", text)
	}
}

func TestDocxParser(t *testing.T) {
	file := createTempDocx(t, []string{"Hello from Word.", "Second paragraph."})
	defer os.Remove(file)

	parser := NewDocxParser()
	text, err := parser.Parse(file)
	if err != nil {
		t.Fatalf("DocxParser.Parse failed: %v", err)
	}
	if !strings.Contains(text, "Hello from Word.") {
		t.Errorf("Expected content not found in parsed docx text: %s", text)
	}
	// 段落之间应以换行分隔
	if !strings.Contains(text, "\n") {
		t.Errorf("Expected paragraph separator in parsed docx text: %s", text)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		file     string
		expected ContentType
	}{
		{"doc.pdf", PDF},
		{"doc.md", Markdown},
		{"doc.markdown", Markdown},
		{"doc.txt", PlainText},
		{"doc.docx", Docx},
		{"doc.DOCX", Docx},
		{"doc.xyz", Unknown},
		{"noextension", Unknown},
	}

	for _, tt := range tests {
		if got := DetectContentType(tt.file); got != tt.expected {
			t.Errorf("DetectContentType(%s) = %s, expected %s", tt.file, got, tt.expected)
		}
	}
}

func TestParserFactory(t *testing.T) {
	txtFile := createTempFile(t, "plain text", ".txt")
	defer os.Remove(txtFile)
	mdFile := createTempFile(t, "# Markdown", ".md")
	defer os.Remove(mdFile)
	pdfFile := createTempPDF(t, "PDF content")
	defer os.Remove(pdfFile)
	docxFile := createTempDocx(t, []string{"Docx content"})
	defer os.Remove(docxFile)

	tests := []struct {
		file     string
		expected string
	}{
		{txtFile, "plain text"},
		{mdFile, "Markdown"},
		{pdfFile, "PDF content"},
		{docxFile, "Docx content"},
	}

	for _, tt := range tests {
		parser, err := ParserFactory(tt.file)
		if err != nil {
			t.Fatalf("ParserFactory failed for %s: %v", tt.file, err)
		}
		text, err := parser.Parse(tt.file)
		if err != nil {
			t.Fatalf("Parser.Parse failed for %s: %v", tt.file, err)
		}
		if !strings.Contains(text, tt.expected) {
			t.Errorf("Expected '%s' in parsed text, got: %s", tt.expected, text)
		}
	}

	// 不支持的类型应报错
	if _, err := ParserFactory("file.xyz"); err == nil {
		t.Error("ParserFactory should fail for unsupported file type")
	}
}
