// Package pipeline composes the decision stages into one batch run:
// pre-process, decide, post-process, persist, notify.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/engine"
	"github.com/billdesk/expense-decisions/internal/ledger"
	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/internal/notify"
	"github.com/billdesk/expense-decisions/internal/orgapi"
	"github.com/billdesk/expense-decisions/internal/postprocess"
	"github.com/billdesk/expense-decisions/internal/preprocess"
	"github.com/billdesk/expense-decisions/internal/rag"
)

// Options holds per-run inputs and switches.
type Options struct {
	BillsPath     string
	PolicyPath    string
	Categories    []string
	EnableRAG     bool
	CopyBillFiles bool
}

// Runner drives one batch decision run across the configured categories.
type Runner struct {
	pre       *preprocess.Preprocessor
	artifact  *preprocess.ArtifactWriter
	engine    *engine.Engine
	post      *postprocess.Postprocessor
	copier    *postprocess.FileCopier
	retriever rag.PolicyRetriever
	org       *orgapi.Client
	repo      *ledger.Repository
	notifier  notify.Notifier
	model     string
	logger    *zap.Logger
}

// NewRunner wires the pipeline stages. retriever, org, and repo may be
// nil; the corresponding step is skipped.
func NewRunner(
	pre *preprocess.Preprocessor,
	artifact *preprocess.ArtifactWriter,
	eng *engine.Engine,
	post *postprocess.Postprocessor,
	copier *postprocess.FileCopier,
	retriever rag.PolicyRetriever,
	org *orgapi.Client,
	repo *ledger.Repository,
	notifier notify.Notifier,
	model string,
	logger *zap.Logger,
) *Runner {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Runner{
		pre:       pre,
		artifact:  artifact,
		engine:    eng,
		post:      post,
		copier:    copier,
		retriever: retriever,
		org:       org,
		repo:      repo,
		notifier:  notifier,
		model:     model,
		logger:    logger,
	}
}

// Run executes the pipeline and returns every enriched decision. One
// failing category aborts the run; degradations inside a category (LLM
// failures, missing folders) are handled by the stages themselves.
func (r *Runner) Run(ctx context.Context, opts Options) ([]models.Decision, error) {
	billsMap, err := LoadBills(opts.BillsPath)
	if err != nil {
		return nil, err
	}
	policy, err := LoadPolicy(opts.PolicyPath)
	if err != nil {
		return nil, err
	}

	categories := opts.Categories
	if len(categories) == 0 {
		// No filter: one pass over everything.
		categories = []string{""}
	}

	var allDecisions []models.Decision
	var allSaves []models.SaveEntry
	for _, cat := range categories {
		decisions, saves, err := r.runCategory(ctx, billsMap, policy, cat, opts.EnableRAG)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", cat, err)
		}
		allDecisions = append(allDecisions, decisions...)
		allSaves = append(allSaves, saves...)
	}

	if len(allDecisions) == 0 {
		r.logger.Info("No decision groups produced, nothing to write")
		return nil, nil
	}

	orgData := r.collectOrgData(ctx, allDecisions)
	if err := r.post.WriteOutputs(allDecisions, orgData); err != nil {
		return nil, err
	}
	if opts.CopyBillFiles && r.copier != nil {
		r.copier.CopyAll(allSaves)
	}
	if r.repo != nil {
		if err := r.repo.InsertBatch(allDecisions, r.model); err != nil {
			r.logger.Warn("Ledger persistence failed, artifacts remain authoritative", zap.Error(err))
		}
	}
	r.notifier.NotifyManualReview(ctx, allDecisions)

	r.logger.Info("Pipeline run complete",
		zap.Int("decision_count", len(allDecisions)),
		zap.String("model", r.model))
	return allDecisions, nil
}

func (r *Runner) runCategory(
	ctx context.Context,
	billsMap map[string][]models.Bill,
	policy map[string]any,
	categoryName string,
	enableRAG bool,
) ([]models.Decision, []models.SaveEntry, error) {
	groups, saves, err := r.pre.Run(billsMap, policy, categoryName, r.retriever, enableRAG)
	if err != nil {
		return nil, nil, err
	}
	if len(groups) == 0 {
		r.logger.Info("No bills for category", zap.String("category", categoryName))
		return nil, nil, nil
	}

	if _, err := r.artifact.Write(groups, saves); err != nil {
		return nil, nil, err
	}

	orgData := r.collectGroupOrgData(ctx, groups)
	decisions, err := r.engine.Decide(ctx, groups, policy, orgData, categoryName)
	if err != nil {
		return nil, nil, err
	}
	return decisions, saves, nil
}

func (r *Runner) collectGroupOrgData(ctx context.Context, groups []models.DecisionGroup) map[string]any {
	if r.org == nil || !r.org.Enabled() {
		return nil
	}
	ids := make([]string, 0, len(groups))
	seen := make(map[string]bool)
	for _, g := range groups {
		if !seen[g.EmployeeID] {
			seen[g.EmployeeID] = true
			ids = append(ids, g.EmployeeID)
		}
	}
	return r.org.CollectEmployeeData(ctx, ids)
}

func (r *Runner) collectOrgData(ctx context.Context, decisions []models.Decision) map[string]any {
	if r.org == nil || !r.org.Enabled() {
		return nil
	}
	ids := make([]string, 0, len(decisions))
	seen := make(map[string]bool)
	for _, d := range decisions {
		if !seen[d.EmployeeID] {
			seen[d.EmployeeID] = true
			ids = append(ids, d.EmployeeID)
		}
	}
	return r.org.CollectEmployeeData(ctx, ids)
}

// LoadBills reads the extraction output: employee key to bill list.
func LoadBills(path string) (map[string][]models.Bill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bills file: %w", err)
	}
	var billsMap map[string][]models.Bill
	if err := json.Unmarshal(data, &billsMap); err != nil {
		return nil, fmt.Errorf("failed to parse bills file: %w", err)
	}
	return billsMap, nil
}

// LoadPolicy reads the reimbursement policy document.
func LoadPolicy(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var policy map[string]any
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return policy, nil
}
