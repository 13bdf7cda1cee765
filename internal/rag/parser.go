package rag

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// FileParser 按文件类型提取纯文本
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(filename string) bool
}

// TextParser 纯文本与Markdown
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".txt" || ext == ".md" || ext == ".markdown"
}

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(content), nil
}

// PDFParser PDF文本提取
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("read pdf pages: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// WordParser docx文本提取
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".docx"
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// ExcelParser xlsx文本提取，表格按行拼接
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".xlsx"
}

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read xlsx: %w", err)
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		fmt.Fprintf(&textBuilder, "%s\n", sheet.Name())
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// ParserRegistry 解析器注册表，按扩展名分发
type ParserRegistry struct {
	parsers []FileParser
}

// NewParserRegistry 创建默认解析器注册表
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&TextParser{},
		},
	}
}

// Parse 解析文件内容，不支持的格式返回ValidationError
func (r *ParserRegistry) Parse(reader io.Reader, filename string) (string, error) {
	for _, parser := range r.parsers {
		if parser.Supports(filename) {
			return parser.Parse(reader, filename)
		}
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unsupported file format: %s", filepath.Ext(filename)))
}

// Supports 检查文件格式是否受支持
func (r *ParserRegistry) Supports(filename string) bool {
	for _, parser := range r.parsers {
		if parser.Supports(filename) {
			return true
		}
	}
	return false
}

// SupportedFormats 返回受支持的扩展名列表
func (r *ParserRegistry) SupportedFormats() []string {
	formats := []string{".pdf", ".docx", ".xlsx", ".txt", ".md", ".markdown"}
	sort.Strings(formats)
	return formats
}
