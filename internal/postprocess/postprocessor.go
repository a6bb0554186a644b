// Package postprocess aggregates the flat decision list into audit and
// summary artifacts (JSON, CSV, XLSX, README) and replicates source bill
// files into valid/invalid directory trees.
package postprocess

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
)

var summaryHeader = []string{
	"emp_key", "category", "month", "decision", "claimed_amount", "approved_amount",
	"currency", "valid_bill_count", "invalid_bill_count", "period_count", "invalid_reasons",
}

// Postprocessor writes the post-processing artifacts under
// {outputDir}/decisions/{model}/postprocessing.
type Postprocessor struct {
	registry        *category.Registry
	outputDir       string
	model           string
	defaultCurrency string
	logger          *zap.Logger
}

// NewPostprocessor creates a Postprocessor.
func NewPostprocessor(registry *category.Registry, outputDir, model, defaultCurrency string, logger *zap.Logger) *Postprocessor {
	return &Postprocessor{
		registry:        registry,
		outputDir:       outputDir,
		model:           model,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

func (p *Postprocessor) stageDir() string {
	return filepath.Join(p.outputDir, "decisions", p.model, "postprocessing")
}

type postEmployeeSection struct {
	Decisions []map[string]any                   `json:"decisions"`
	Summary   map[string]map[string]SummaryEntry `json:"summary"`
}

type postArtifact struct {
	Meta struct {
		Model       string `json:"model"`
		GeneratedAt string `json:"generated_at"`
	} `json:"_meta"`
	Stats      map[string]any                  `json:"meta"`
	ByEmployee map[string]*postEmployeeSection `json:"by_employee"`
}

// WriteOutputs writes the merged postprocessing JSON, the summary CSV and
// XLSX, the README, and the optional org-data file. Empty decision lists
// are a no-op.
func (p *Postprocessor) WriteOutputs(decisions []models.Decision, orgData map[string]any) error {
	if len(decisions) == 0 {
		return nil
	}
	outDir := p.stageDir()
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create postprocessing dir: %w", err)
	}

	grouped := p.GroupDecisions(decisions)
	summary := p.BuildSummaryFromGrouped(grouped)

	if err := p.writeJSON(outDir, decisions, grouped, summary); err != nil {
		return err
	}
	if err := p.writeSummaryCSV(outDir, summary); err != nil {
		return err
	}
	if err := p.writeSummaryXLSX(outDir, summary); err != nil {
		// The CSV is the artifact of record; a workbook failure degrades.
		p.logger.Warn("Failed to write summary workbook", zap.Error(err))
	}
	if err := p.writeReadme(outDir); err != nil {
		return err
	}
	if len(orgData) > 0 {
		if err := writeJSONFile(filepath.Join(outDir, "employee_org_data.json"), orgData); err != nil {
			return err
		}
	}
	return nil
}

// writeJSON merges this run's decisions into the postprocessing artifact.
// Decisions are keyed by (category, month, date) within each employee so
// re-running one category replaces its entries; summaries merge per
// category/month.
func (p *Postprocessor) writeJSON(outDir string, decisions []models.Decision, grouped Grouped, summary Summary) error {
	path := filepath.Join(outDir, "postprocessing_output.json")

	doc := p.loadArtifact(path)
	doc.Meta.Model = p.model
	doc.Meta.GeneratedAt = time.Now().Format(time.RFC3339)

	for _, d := range decisions {
		normalized, err := p.normalizeDecision(d)
		if err != nil {
			return err
		}
		section := p.artifactSection(doc, d.EmployeeKey())
		section.Decisions = upsertDecision(section.Decisions, normalized)
	}
	for empKey, empSummary := range summary {
		section := p.artifactSection(doc, empKey)
		for cat, byMonth := range empSummary {
			if section.Summary[cat] == nil {
				section.Summary[cat] = make(map[string]SummaryEntry, len(byMonth))
			}
			for month, entry := range byMonth {
				section.Summary[cat][month] = entry
			}
		}
	}

	decisionCount := 0
	for _, section := range doc.ByEmployee {
		decisionCount += len(section.Decisions)
	}
	empKeys := make([]string, 0, len(doc.ByEmployee))
	for k := range doc.ByEmployee {
		empKeys = append(empKeys, k)
	}
	sort.Strings(empKeys)
	doc.Stats = map[string]any{
		"decision_count":         decisionCount,
		"grouped_employee_count": len(doc.ByEmployee),
		"summary_keys":           empKeys,
		"artifacts": []string{
			"postprocessing_output.json",
			"postprocessing_summary.csv",
			"postprocessing_summary.xlsx",
			"README.md",
		},
	}

	if err := writeJSONFile(path, doc); err != nil {
		return err
	}
	p.logger.Info("Postprocessing output saved",
		zap.String("path", path),
		zap.Int("decision_count", decisionCount))
	return nil
}

func (p *Postprocessor) loadArtifact(path string) *postArtifact {
	doc := &postArtifact{ByEmployee: make(map[string]*postEmployeeSection)}
	data, err := os.ReadFile(path)
	if err != nil {
		return doc
	}
	var existing postArtifact
	if err := json.Unmarshal(data, &existing); err != nil {
		p.logger.Warn("Existing postprocessing artifact is unreadable, starting fresh",
			zap.String("path", path), zap.Error(err))
		return doc
	}
	if existing.ByEmployee == nil {
		existing.ByEmployee = make(map[string]*postEmployeeSection)
	}
	return &existing
}

func (p *Postprocessor) artifactSection(doc *postArtifact, empKey string) *postEmployeeSection {
	section, ok := doc.ByEmployee[empKey]
	if !ok {
		section = &postEmployeeSection{
			Decisions: []map[string]any{},
			Summary:   make(map[string]map[string]SummaryEntry),
		}
		doc.ByEmployee[empKey] = section
	}
	if section.Summary == nil {
		section.Summary = make(map[string]map[string]SummaryEntry)
	}
	return section
}

// normalizeDecision converts a decision to the artifact shape: canonical
// category, claimed_amount dropped. The admin-facing summary keeps the
// claimed amount; the per-decision audit records do not.
func (p *Postprocessor) normalizeDecision(d models.Decision) (map[string]any, error) {
	d.Category = p.registry.Canonical(d.Category)
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize decision: %w", err)
	}
	delete(out, "claimed_amount")
	return out, nil
}

func upsertDecision(decisions []map[string]any, d map[string]any) []map[string]any {
	for i, existing := range decisions {
		if decisionKey(existing) == decisionKey(d) {
			decisions[i] = d
			return decisions
		}
	}
	return append(decisions, d)
}

func decisionKey(d map[string]any) string {
	str := func(key string) string {
		if v, ok := d[key].(string); ok {
			return v
		}
		return ""
	}
	return str("category") + "|" + str("month") + "|" + str("date")
}

// summaryRows flattens the summary to sorted CSV rows.
func (p *Postprocessor) summaryRows(summary Summary) [][]string {
	var rows [][]string
	for _, empKey := range sortedKeys(summary) {
		byCat := summary[empKey]
		for _, cat := range sortedKeys(byCat) {
			byMonth := byCat[cat]
			for _, month := range sortedKeys(byMonth) {
				entry := byMonth[month]
				rows = append(rows, []string{
					empKey,
					cat,
					month,
					entry.Decision,
					formatAmount(entry.ClaimedAmount),
					formatAmount(entry.ApprovedAmount),
					entry.Currency,
					fmt.Sprintf("%d", entry.ValidBillCount),
					fmt.Sprintf("%d", entry.InvalidBillCount),
					fmt.Sprintf("%d", entry.PeriodCount),
					consolidateReasons(entry.InvalidReasons),
				})
			}
		}
	}
	return rows
}

func (p *Postprocessor) writeSummaryCSV(outDir string, summary Summary) error {
	path := filepath.Join(outDir, "postprocessing_summary.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(summaryHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := w.WriteAll(p.summaryRows(summary)); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	p.logger.Info("Postprocessing summary (CSV) saved", zap.String("path", path))
	return nil
}

// writeSummaryXLSX mirrors the CSV into a worksheet for reviewers who
// work in spreadsheets.
func (p *Postprocessor) writeSummaryXLSX(outDir string, summary Summary) error {
	path := filepath.Join(outDir, "postprocessing_summary.xlsx")
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Summary"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(summaryHeader), 1)
		_ = f.SetCellStyle(sheet, "A1", endCell, headerStyle)
	}
	for col, h := range summaryHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell: %w", err)
		}
	}
	for rowIdx, row := range p.summaryRows(summary) {
		for col, value := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save summary workbook: %w", err)
	}
	p.logger.Info("Postprocessing summary (XLSX) saved", zap.String("path", path))
	return nil
}

func (p *Postprocessor) writeReadme(outDir string) error {
	const readme = `# Postprocessing outputs

- **postprocessing_output.json** – Raw audit trail at employee level
  (same nesting as preprocessing): _meta, meta, by_employee (each
  employee: decisions with bill ids, summary by category/month).
- **postprocessing_summary.csv** – Admin-facing summary without bill ids:
  emp_key, category, month, decision, claimed_amount, approved_amount,
  currency, valid_bill_count, invalid_bill_count, period_count,
  invalid_reasons.
- **postprocessing_summary.xlsx** – The same summary as a workbook.
`
	path := filepath.Join(outDir, "README.md")
	if err := os.WriteFile(path, []byte(readme), 0644); err != nil {
		return fmt.Errorf("failed to write README: %w", err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func formatAmount(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
