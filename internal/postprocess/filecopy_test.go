package postprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
)

func writeSourceFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("bill"), 0644))
}

func TestCopyAll_SortsValidAndInvalid(t *testing.T) {
	resources := t.TempDir()
	output := t.TempDir()

	srcDir := filepath.Join(resources, "meal", "E1_Asha_April")
	writeSourceFile(t, srcDir, "lunch_0104.pdf")
	writeSourceFile(t, srcDir, "dinner_0204.jpg")
	writeSourceFile(t, srcDir, "unrelated.png")

	c := NewFileCopier(output, resources, "gpt-test", category.DefaultRegistry(), zap.NewNop())
	c.CopyAll([]models.SaveEntry{{
		EmployeeID:   "E1",
		EmployeeName: "Asha",
		Category:     "meals",
		ValidFiles:   []string{"lunch_0104"},
		InvalidFiles: []string{"dinner_0204"},
	}})

	base := filepath.Join(output, "meal", "gpt-test")
	assert.FileExists(t, filepath.Join(base, "valid_bills", "E1_Asha", "lunch_0104.pdf"))
	assert.FileExists(t, filepath.Join(base, "invalid_bills", "E1_Asha", "dinner_0204.jpg"))
	assert.NoFileExists(t, filepath.Join(base, "valid_bills", "E1_Asha", "unrelated.png"))
	assert.NoFileExists(t, filepath.Join(base, "invalid_bills", "E1_Asha", "unrelated.png"))
}

func TestCopyAll_SubstringMatching(t *testing.T) {
	resources := t.TempDir()
	output := t.TempDir()

	// Extraction records names without extensions; the copier matches the
	// recorded name as a substring of the on-disk filename.
	srcDir := filepath.Join(resources, "commute", "E2_Ravi")
	writeSourceFile(t, srcDir, "cab_receipt_final.pdf")

	c := NewFileCopier(output, resources, "gpt-test", category.DefaultRegistry(), zap.NewNop())
	c.CopyAll([]models.SaveEntry{{
		EmployeeID:   "E2",
		EmployeeName: "Ravi",
		Category:     "cab",
		ValidFiles:   []string{"cab_receipt"},
	}})

	assert.FileExists(t, filepath.Join(output, "commute", "gpt-test", "valid_bills", "E2_Ravi", "cab_receipt_final.pdf"))
}

func TestCopyAll_MissingEmployeeFolderSkipped(t *testing.T) {
	resources := t.TempDir()
	output := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(resources, "meal"), 0755))

	c := NewFileCopier(output, resources, "gpt-test", category.DefaultRegistry(), zap.NewNop())
	c.CopyAll([]models.SaveEntry{{
		EmployeeID:   "E9",
		EmployeeName: "Nobody",
		Category:     "meal",
		ValidFiles:   []string{"anything"},
	}})

	assert.NoDirExists(t, filepath.Join(output, "meal", "gpt-test", "valid_bills", "E9_Nobody"))
}

func TestCopyAll_MissingCategoryDirSkipped(t *testing.T) {
	c := NewFileCopier(t.TempDir(), t.TempDir(), "gpt-test", category.DefaultRegistry(), zap.NewNop())

	// Whole resources category absent: entry skipped without error.
	c.CopyAll([]models.SaveEntry{{
		EmployeeID:   "E1",
		EmployeeName: "Asha",
		Category:     "travel",
		ValidFiles:   []string{"ticket"},
	}})
}

func TestFindEmployeeResourcesDir_PrefixMatch(t *testing.T) {
	resources := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(resources, "meal", "E10_Asha"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(resources, "meal", "E1_Ravi"), 0755))

	c := NewFileCopier(t.TempDir(), resources, "gpt-test", category.DefaultRegistry(), zap.NewNop())

	dir, err := c.findEmployeeResourcesDir("meal", "E1_")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resources, "meal", "E1_Ravi"), dir)
}
