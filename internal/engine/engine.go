// Package engine orchestrates the decision stage: it serializes the
// policy and decision groups into a single generation request, invokes
// the text-generation service once per category batch, defensively
// parses the response, and reconciles every decision against the group's
// pre-computed truth so an unreliable generator can never corrupt the
// financial ledger.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
)

// Engine decides APPROVE/REJECT per group via one text-generation call.
type Engine struct {
	generator TextGenerator
	registry  *category.Registry
	cfg       ConfidenceConfig
	outputDir string
	model     string
	logger    *zap.Logger
}

// NewEngine creates a decision engine. outputDir and model locate the
// raw-output audit files under {outputDir}/decisions/{model}/engine.
func NewEngine(
	generator TextGenerator,
	registry *category.Registry,
	cfg ConfidenceConfig,
	outputDir, model string,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		generator: generator,
		registry:  registry,
		cfg:       cfg,
		outputDir: outputDir,
		model:     model,
		logger:    logger,
	}
}

// Decide runs the engine over one category's groups and returns exactly
// one enriched decision per group, in group order. A transport failure or
// unparseable output degrades to parse-failed REJECT placeholders rather
// than an error; only an empty group list short-circuits.
func (e *Engine) Decide(
	ctx context.Context,
	groups []models.DecisionGroup,
	policy map[string]any,
	orgData map[string]any,
	categoryName string,
) ([]models.Decision, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	user, err := e.buildUserContent(groups, policy, orgData)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Invoking decision generator",
		zap.String("category", categoryName),
		zap.Int("group_count", len(groups)))

	raw, genErr := e.generator.Generate(ctx, decisionSystemPrompt, user, decisionResponseSchema)
	rawPath := e.persistRawOutput(categoryName, raw, genErr)

	var items []parsedItem
	if genErr != nil {
		e.logger.Error("Generation call failed, emitting manual-review placeholders",
			zap.String("category", categoryName),
			zap.Error(genErr))
		items = make([]parsedItem, len(groups))
		for i := range items {
			items[i] = placeholder("parse_failed")
		}
	} else {
		var parsed bool
		items, parsed = parseDecisionItems(raw, len(groups))
		if !parsed {
			e.logger.Error("Could not parse decision output as JSON",
				zap.String("category", categoryName),
				zap.String("raw_output_path", rawPath),
				zap.String("snippet", diagnosticSnippet(raw)))
		} else if padded := countPlaceholders(items); padded > 0 {
			e.logger.Warn("Decision output incomplete, padded with placeholders",
				zap.String("category", categoryName),
				zap.Int("placeholders", padded),
				zap.String("raw_output_path", rawPath))
		}
	}

	decisions := make([]models.Decision, 0, len(groups))
	for i := range groups {
		group := &groups[i]
		decisions = append(decisions, enrichDecisionItem(items[i], group, e.registry.Canonical(group.Category), e.cfg))
	}

	e.logger.Info("Decision engine completed",
		zap.String("category", categoryName),
		zap.Int("decisions", len(decisions)),
		zap.Int("parse_failed", countParseFailed(decisions)))
	return decisions, nil
}

// buildUserContent serializes {policy, groups[, employee_org_data]} as
// the user turn.
func (e *Engine) buildUserContent(groups []models.DecisionGroup, policy map[string]any, orgData map[string]any) (string, error) {
	groupDicts := make([]map[string]any, 0, len(groups))
	for i := range groups {
		groupDicts = append(groupDicts, groups[i].ToDict())
	}
	payload := map[string]any{
		"policy": policy,
		"groups": groupDicts,
	}
	if len(orgData) > 0 {
		payload["employee_org_data"] = orgData
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal decision payload: %w", err)
	}
	return string(data), nil
}

// persistRawOutput writes the verbatim generator text (or the transport
// error) for audit. Failures to persist are logged, never fatal.
func (e *Engine) persistRawOutput(categoryName, raw string, genErr error) string {
	dir := filepath.Join(e.outputDir, "decisions", e.model, "engine")
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.logger.Warn("Failed to create engine output dir", zap.Error(err))
		return ""
	}
	label := "all"
	if categoryName != "" {
		label = e.registry.Canonical(categoryName)
	}
	path := filepath.Join(dir, fmt.Sprintf("engine_raw_output_%s.txt", label))
	content := raw
	if genErr != nil {
		content = fmt.Sprintf("GENERATION ERROR: %v\n", genErr)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.logger.Warn("Failed to persist raw generator output",
			zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func countPlaceholders(items []parsedItem) int {
	n := 0
	for _, it := range items {
		if it.failed() {
			n++
		}
	}
	return n
}

func countParseFailed(decisions []models.Decision) int {
	n := 0
	for _, d := range decisions {
		if d.ParseFailed {
			n++
		}
	}
	return n
}
