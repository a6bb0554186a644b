// Package textextract pulls raw text out of receipt documents for the
// bill records' ocr field. The decision pipeline consumes the text
// verbatim; no field parsing happens here.
package textextract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// Extractor extracts per-page text from a receipt document.
type Extractor interface {
	Extract(path string) (string, error)
	Supports(path string) bool
}

// PDFExtractor reads text layers from PDF receipts.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates a PDF text extractor.
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger}
}

// Supports reports whether the file looks like a PDF.
func (e *PDFExtractor) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Extract returns the concatenated text of every page. Pages that fail
// to render are skipped with a warning.
func (e *PDFExtractor) Extract(path string) (string, error) {
	if !e.Supports(path) {
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}

	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	e.logger.Debug("Extracting PDF text",
		zap.String("path", path),
		zap.Int("total_pages", pageCount))

	var pages []string
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		text, err := doc.Text(pageNum)
		if err != nil {
			e.logger.Warn("Failed to extract page text",
				zap.String("path", path),
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return strings.Join(pages, "\n"), nil
}
