package preprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/models"
)

// ArtifactWriter persists the pre-processing output as one JSON document
// nested by employee key. The engine runs once per category, so writes
// merge into any existing artifact instead of replacing it; groups are
// keyed by (employee, category, date) and save entries by (employee,
// category), with the newest run winning on conflict. Re-running a
// category therefore replaces that category's entries rather than
// double-counting them.
type ArtifactWriter struct {
	outputDir string
	model     string
	logger    *zap.Logger
}

// NewArtifactWriter creates an ArtifactWriter rooted at
// {outputDir}/decisions/{model}/preprocessing.
func NewArtifactWriter(outputDir, model string, logger *zap.Logger) *ArtifactWriter {
	return &ArtifactWriter{outputDir: outputDir, model: model, logger: logger}
}

type employeeSection struct {
	Groups   []map[string]any `json:"groups"`
	SaveData []map[string]any `json:"save_data"`
}

type artifact struct {
	ByEmployee       map[string]*employeeSection `json:"by_employee"`
	GroupCount       int                         `json:"group_count"`
	SaveEntriesCount int                         `json:"save_entries_count"`
}

// Path returns the artifact file path.
func (w *ArtifactWriter) Path() string {
	return filepath.Join(w.outputDir, "decisions", w.model, "preprocessing", "preprocessing_output.json")
}

// Write merges this run's groups and save entries into the artifact and
// rewrites it. Counters are recomputed after the merge so they stay equal
// to the number of distinct entries present.
func (w *ArtifactWriter) Write(groups []models.DecisionGroup, saves []models.SaveEntry) (string, error) {
	path := w.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create preprocessing dir: %w", err)
	}

	doc := w.load(path)

	for _, g := range groups {
		section := w.section(doc, g.EmployeeID+"_"+g.EmployeeName)
		section.Groups = upsert(section.Groups, g.ToDict(), groupKey)
	}
	for _, s := range saves {
		section := w.section(doc, s.EmployeeID+"_"+s.EmployeeName)
		entry := map[string]any{
			"employee_id":   s.EmployeeID,
			"employee_name": s.EmployeeName,
			"category":      s.Category,
			"valid_files":   s.ValidFiles,
			"invalid_files": s.InvalidFiles,
		}
		section.SaveData = upsert(section.SaveData, entry, saveKey)
	}

	doc.GroupCount = 0
	doc.SaveEntriesCount = 0
	for _, section := range doc.ByEmployee {
		doc.GroupCount += len(section.Groups)
		doc.SaveEntriesCount += len(section.SaveData)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal preprocessing output: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write preprocessing output: %w", err)
	}

	w.logger.Info("Pre-processing output saved",
		zap.String("path", path),
		zap.Int("group_count", doc.GroupCount),
		zap.Int("save_entries", doc.SaveEntriesCount))
	return path, nil
}

// load reads the existing artifact; a missing or corrupt file starts fresh.
func (w *ArtifactWriter) load(path string) *artifact {
	doc := &artifact{ByEmployee: make(map[string]*employeeSection)}
	data, err := os.ReadFile(path)
	if err != nil {
		return doc
	}
	var existing artifact
	if err := json.Unmarshal(data, &existing); err != nil {
		w.logger.Warn("Existing preprocessing artifact is unreadable, starting fresh",
			zap.String("path", path), zap.Error(err))
		return doc
	}
	if existing.ByEmployee == nil {
		existing.ByEmployee = make(map[string]*employeeSection)
	}
	return &existing
}

func (w *ArtifactWriter) section(doc *artifact, empKey string) *employeeSection {
	section, ok := doc.ByEmployee[empKey]
	if !ok {
		section = &employeeSection{Groups: []map[string]any{}, SaveData: []map[string]any{}}
		doc.ByEmployee[empKey] = section
	}
	return section
}

// upsert replaces the entry with the same key or appends a new one.
func upsert(entries []map[string]any, entry map[string]any, key func(map[string]any) string) []map[string]any {
	k := key(entry)
	for i, existing := range entries {
		if key(existing) == k {
			entries[i] = entry
			return entries
		}
	}
	return append(entries, entry)
}

func groupKey(g map[string]any) string {
	return fmt.Sprintf("%v|%v|%v", g["employee_id"], g["category"], g["date"])
}

func saveKey(s map[string]any) string {
	return fmt.Sprintf("%v|%v", s["employee_id"], s["category"])
}
