package postprocess

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
)

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestWriteOutputs_Artifacts(t *testing.T) {
	dir := t.TempDir()
	p := NewPostprocessor(category.DefaultRegistry(), dir, "gpt-test", "INR", zap.NewNop())

	d := decision("E1", "Asha", "meals", "2024-04", models.VerdictApprove, 350, 350)
	require.NoError(t, p.WriteOutputs([]models.Decision{d}, nil))

	outDir := filepath.Join(dir, "decisions", "gpt-test", "postprocessing")

	t.Run("json artifact", func(t *testing.T) {
		doc := readJSON(t, filepath.Join(outDir, "postprocessing_output.json"))

		meta := doc["_meta"].(map[string]any)
		assert.Equal(t, "gpt-test", meta["model"])
		assert.NotEmpty(t, meta["generated_at"])

		byEmployee := doc["by_employee"].(map[string]any)
		section := byEmployee["E1_Asha"].(map[string]any)
		decisions := section["decisions"].([]any)
		require.Len(t, decisions, 1)

		rec := decisions[0].(map[string]any)
		assert.Equal(t, "meal", rec["category"], "artifact carries the canonical category")
		_, hasClaimed := rec["claimed_amount"]
		assert.False(t, hasClaimed, "claimed_amount is dropped from per-decision records")
		assert.Equal(t, 350.0, rec["approved_amount"])

		assert.NotNil(t, section["summary"])
	})

	t.Run("summary csv", func(t *testing.T) {
		f, err := os.Open(filepath.Join(outDir, "postprocessing_summary.csv"))
		require.NoError(t, err)
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, []string{
			"emp_key", "category", "month", "decision", "claimed_amount", "approved_amount",
			"currency", "valid_bill_count", "invalid_bill_count", "period_count", "invalid_reasons",
		}, rows[0])
		assert.Equal(t, "E1_Asha", rows[1][0])
		assert.Equal(t, "meal", rows[1][1])
		assert.Equal(t, "2024-04", rows[1][2])
		assert.Equal(t, "APPROVE", rows[1][3])
		assert.Equal(t, "350.00", rows[1][4])
	})

	t.Run("workbook and readme", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(outDir, "postprocessing_summary.xlsx"))
		assert.NoError(t, err)
		readme, err := os.ReadFile(filepath.Join(outDir, "README.md"))
		require.NoError(t, err)
		assert.Contains(t, string(readme), "postprocessing_summary.csv")
	})
}

func TestWriteOutputs_MergesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	p := NewPostprocessor(category.DefaultRegistry(), dir, "gpt-test", "INR", zap.NewNop())

	require.NoError(t, p.WriteOutputs([]models.Decision{
		decision("E1", "Asha", "meal", "2024-04", models.VerdictApprove, 100, 100),
	}, nil))
	require.NoError(t, p.WriteOutputs([]models.Decision{
		decision("E1", "Asha", "cab", "2024-04", models.VerdictApprove, 200, 200),
	}, nil))
	// Rerun of the meal category replaces, not duplicates.
	require.NoError(t, p.WriteOutputs([]models.Decision{
		decision("E1", "Asha", "meal", "2024-04", models.VerdictReject, 100, 0),
	}, nil))

	doc := readJSON(t, filepath.Join(dir, "decisions", "gpt-test", "postprocessing", "postprocessing_output.json"))
	stats := doc["meta"].(map[string]any)
	assert.Equal(t, float64(2), stats["decision_count"])

	byEmployee := doc["by_employee"].(map[string]any)
	section := byEmployee["E1_Asha"].(map[string]any)
	decisions := section["decisions"].([]any)
	require.Len(t, decisions, 2)

	verdicts := make(map[string]string)
	for _, el := range decisions {
		rec := el.(map[string]any)
		verdicts[rec["category"].(string)] = rec["decision"].(string)
	}
	assert.Equal(t, models.VerdictReject, verdicts["meal"], "newest run wins on conflict")
	assert.Equal(t, models.VerdictApprove, verdicts["commute"])
}

func TestWriteOutputs_EmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	p := NewPostprocessor(category.DefaultRegistry(), dir, "gpt-test", "INR", zap.NewNop())

	require.NoError(t, p.WriteOutputs(nil, nil))
	_, err := os.Stat(filepath.Join(dir, "decisions"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteOutputs_OrgDataFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPostprocessor(category.DefaultRegistry(), dir, "gpt-test", "INR", zap.NewNop())

	orgData := map[string]any{"E1": map[string]any{"grade": "L4"}}
	d := decision("E1", "Asha", "meal", "2024-04", models.VerdictApprove, 100, 100)
	require.NoError(t, p.WriteOutputs([]models.Decision{d}, orgData))

	doc := readJSON(t, filepath.Join(dir, "decisions", "gpt-test", "postprocessing", "employee_org_data.json"))
	assert.Contains(t, doc, "E1")
}
