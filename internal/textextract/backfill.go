package textextract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/pkg/utils"
)

// OCRBackfill fills empty ocr fields in an extraction output file from
// the source documents under the resources tree. It runs upstream of the
// decision stages; bills that already carry text are left alone.
type OCRBackfill struct {
	resourcesDir string
	registry     *category.Registry
	extractors   []Extractor
	logger       *zap.Logger
}

// NewOCRBackfill creates a backfill over resourcesDir using the PDF
// extractor.
func NewOCRBackfill(resourcesDir string, registry *category.Registry, logger *zap.Logger) *OCRBackfill {
	return &OCRBackfill{
		resourcesDir: resourcesDir,
		registry:     registry,
		extractors:   []Extractor{NewPDFExtractor(logger)},
		logger:       logger,
	}
}

// Run rewrites billsPath in place with ocr text extracted from each
// bill's source document. A bill whose source cannot be found or read is
// skipped with a warning.
func (b *OCRBackfill) Run(billsPath string) error {
	data, err := os.ReadFile(billsPath)
	if err != nil {
		return fmt.Errorf("failed to read bills file: %w", err)
	}
	var billsMap map[string][]models.Bill
	if err := json.Unmarshal(data, &billsMap); err != nil {
		return fmt.Errorf("failed to parse bills file: %w", err)
	}

	filled := 0
	for key, bills := range billsMap {
		empID, _, err := utils.SplitEmployeeKey(key)
		if err != nil {
			return err
		}
		for i := range bills {
			if strings.TrimSpace(bills[i].OCR) != "" {
				continue
			}
			text, ok := b.extractBill(empID, &bills[i])
			if ok {
				bills[i].OCR = text
				filled++
			}
		}
		billsMap[key] = bills
	}

	if filled == 0 {
		b.logger.Info("No bills needed OCR backfill", zap.String("bills_path", billsPath))
		return nil
	}

	out, err := json.MarshalIndent(billsMap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bills file: %w", err)
	}
	if err := os.WriteFile(billsPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write bills file: %w", err)
	}
	b.logger.Info("OCR backfill complete",
		zap.String("bills_path", billsPath),
		zap.Int("bills_filled", filled))
	return nil
}

func (b *OCRBackfill) extractBill(empID string, bill *models.Bill) (string, bool) {
	path := b.findSourceFile(empID, bill)
	if path == "" {
		b.logger.Warn("No source document for bill",
			zap.String("bill_id", bill.ID),
			zap.String("filename", bill.Filename))
		return "", false
	}
	for _, ex := range b.extractors {
		if !ex.Supports(path) {
			continue
		}
		text, err := ex.Extract(path)
		if err != nil {
			b.logger.Warn("Text extraction failed",
				zap.String("bill_id", bill.ID),
				zap.String("path", path),
				zap.Error(err))
			return "", false
		}
		return text, true
	}
	b.logger.Debug("No extractor supports source document",
		zap.String("bill_id", bill.ID),
		zap.String("path", path))
	return "", false
}

// findSourceFile locates the bill's document: the first file under the
// employee's category folder whose name contains the bill's recorded
// filename.
func (b *OCRBackfill) findSourceFile(empID string, bill *models.Bill) string {
	if strings.TrimSpace(bill.Filename) == "" {
		return ""
	}
	categoryDir := filepath.Join(b.resourcesDir, b.registry.Canonical(bill.Category))
	dirEntries, err := os.ReadDir(categoryDir)
	if err != nil {
		return ""
	}
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), empID) {
			continue
		}
		empDir := filepath.Join(categoryDir, de.Name())
		files, err := os.ReadDir(empDir)
		if err != nil {
			return ""
		}
		for _, f := range files {
			if !f.IsDir() && strings.Contains(f.Name(), bill.Filename) {
				return filepath.Join(empDir, f.Name())
			}
		}
		return ""
	}
	return ""
}
