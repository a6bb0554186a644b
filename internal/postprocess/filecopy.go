package postprocess

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/pkg/utils"
)

// FileCopier replicates the reviewed source files into per-employee
// valid_bills and invalid_bills trees under
// {outputDir}/{category}/{model}/. A missing employee source folder is
// logged and skipped; the decision artifacts remain authoritative.
type FileCopier struct {
	outputDir    string
	resourcesDir string
	model        string
	registry     *category.Registry
	logger       *zap.Logger
}

// NewFileCopier creates a FileCopier rooted at resourcesDir for sources
// and outputDir for destinations.
func NewFileCopier(outputDir, resourcesDir, model string, registry *category.Registry, logger *zap.Logger) *FileCopier {
	return &FileCopier{
		outputDir:    outputDir,
		resourcesDir: resourcesDir,
		model:        model,
		registry:     registry,
		logger:       logger,
	}
}

// CopyAll processes every save entry. Per-entry failures degrade to a
// warning so one employee's missing folder does not abort the stage.
func (c *FileCopier) CopyAll(entries []models.SaveEntry) {
	for _, entry := range entries {
		if err := c.copyEntry(entry); err != nil {
			c.logger.Warn("Failed to copy bill files",
				zap.String("employee_id", entry.EmployeeID),
				zap.String("category", entry.Category),
				zap.Error(err))
		}
	}
}

func (c *FileCopier) copyEntry(entry models.SaveEntry) error {
	cat := c.registry.Canonical(entry.Category)
	srcDir, err := c.findEmployeeResourcesDir(cat, entry.EmployeeID)
	if err != nil {
		return err
	}
	if srcDir == "" {
		c.logger.Warn("No source folder for employee, skipping file copy",
			zap.String("employee_id", entry.EmployeeID),
			zap.String("category", cat))
		return nil
	}

	empFolder := utils.SanitizeName(entry.EmployeeID + "_" + entry.EmployeeName)
	base := filepath.Join(c.outputDir, cat, c.model)
	if len(entry.ValidFiles) > 0 {
		dst := filepath.Join(base, "valid_bills", empFolder)
		if err := c.copyFilesMatching(srcDir, dst, entry.ValidFiles); err != nil {
			return err
		}
	}
	if len(entry.InvalidFiles) > 0 {
		dst := filepath.Join(base, "invalid_bills", empFolder)
		if err := c.copyFilesMatching(srcDir, dst, entry.InvalidFiles); err != nil {
			return err
		}
	}
	return nil
}

// findEmployeeResourcesDir returns the first directory under
// {resourcesDir}/{category} whose name starts with the employee id, or ""
// when none exists.
func (c *FileCopier) findEmployeeResourcesDir(cat, employeeID string) (string, error) {
	categoryDir := filepath.Join(c.resourcesDir, cat)
	dirEntries, err := os.ReadDir(categoryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read category dir %s: %w", categoryDir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() && strings.HasPrefix(de.Name(), employeeID) {
			return filepath.Join(categoryDir, de.Name()), nil
		}
	}
	return "", nil
}

// copyFilesMatching copies every file in srcDir whose name contains any of
// the wanted names as a substring. Extraction records filenames without
// extensions, so substring matching re-associates them with the originals.
func (c *FileCopier) copyFilesMatching(srcDir, dstDir string, wanted []string) error {
	dirEntries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("failed to read source dir %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination dir %s: %w", dstDir, err)
	}
	copied := 0
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if !nameMatchesAny(de.Name(), wanted) {
			continue
		}
		src := filepath.Join(srcDir, de.Name())
		dst := filepath.Join(dstDir, de.Name())
		if err := copyFile(src, dst); err != nil {
			return err
		}
		copied++
	}
	c.logger.Debug("Copied bill files",
		zap.String("destination", dstDir),
		zap.Int("copied", copied))
	return nil
}

func nameMatchesAny(name string, wanted []string) bool {
	for _, w := range wanted {
		if w != "" && strings.Contains(name, w) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
