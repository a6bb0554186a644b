// Package preprocess turns validated bills into the DecisionGroups and
// SaveEntries the decision engine and post-processor operate on. It
// applies category grouping (per-day for per-diem categories), policy
// caps, and optional RAG policy context.
package preprocess

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/internal/rag"
	"github.com/billdesk/expense-decisions/pkg/utils"
)

// Preprocessor builds decision groups from a bills map keyed by
// "employee_id_employee_name".
type Preprocessor struct {
	registry        *category.Registry
	defaultCurrency string
	logger          *zap.Logger
}

// NewPreprocessor creates a new Preprocessor.
func NewPreprocessor(registry *category.Registry, defaultCurrency string, logger *zap.Logger) *Preprocessor {
	return &Preprocessor{
		registry:        registry,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// FilterBillsByCategory restricts billsMap to bills whose category equals
// filter (case-insensitive) and drops employees left with no bills. A
// blank filter is a no-op.
func (p *Preprocessor) FilterBillsByCategory(billsMap map[string][]models.Bill, filter string) map[string][]models.Bill {
	if strings.TrimSpace(filter) == "" {
		return billsMap
	}
	want := strings.ToLower(strings.TrimSpace(filter))
	filtered := make(map[string][]models.Bill, len(billsMap))
	for key, bills := range billsMap {
		var kept []models.Bill
		for _, b := range bills {
			if strings.ToLower(strings.TrimSpace(b.Category)) == want {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 {
			filtered[key] = kept
		}
	}
	return filtered
}

// PrepareGroups partitions each employee's bills by category and
// valid/invalid, then emits one group per (employee, category, date) for
// per-diem categories and one per (employee, category) otherwise.
// A malformed employee key (no "_" separator) is a configuration error
// and fails the batch.
func (p *Preprocessor) PrepareGroups(billsMap map[string][]models.Bill) ([]models.DecisionGroup, []models.SaveEntry, error) {
	keys := make([]string, 0, len(billsMap))
	for key := range billsMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var groups []models.DecisionGroup
	var saves []models.SaveEntry

	for _, key := range keys {
		empID, empName, err := utils.SplitEmployeeKey(key)
		if err != nil {
			return nil, nil, err
		}

		// Partition by category, preserving first-seen order.
		var catOrder []string
		byCategory := make(map[string][]models.Bill)
		for _, b := range billsMap[key] {
			cat := b.Category
			if strings.TrimSpace(cat) == "" {
				cat = "unknown"
			}
			if _, seen := byCategory[cat]; !seen {
				catOrder = append(catOrder, cat)
			}
			byCategory[cat] = append(byCategory[cat], b)
		}

		for _, cat := range catOrder {
			var valid, invalid []models.Bill
			for _, b := range byCategory[cat] {
				if b.IsValid() {
					valid = append(valid, b)
				} else {
					invalid = append(invalid, b)
				}
			}
			groups = append(groups, p.groupsForCategory(empID, empName, cat, valid, invalid)...)
			saves = append(saves, models.SaveEntry{
				EmployeeID:   empID,
				EmployeeName: empName,
				Category:     cat,
				ValidFiles:   billFilenames(valid),
				InvalidFiles: billFilenames(invalid),
			})
		}
	}

	p.logger.Info("Prepared decision groups",
		zap.Int("group_count", len(groups)),
		zap.Int("save_entries", len(saves)))
	return groups, saves, nil
}

// groupsForCategory emits per-date groups for per-diem categories with
// valid bills, a single monthly group otherwise.
func (p *Preprocessor) groupsForCategory(empID, empName, cat string, valid, invalid []models.Bill) []models.DecisionGroup {
	// Currency: valid bills first, then any bill, then the default.
	groupCurrency := currencyFromBills(valid)
	if groupCurrency == "" {
		groupCurrency = currencyFromBills(invalid)
	}
	if groupCurrency == "" {
		groupCurrency = p.defaultCurrency
	}

	if p.registry.IsPerDiem(cat) && len(valid) > 0 {
		dates, totals := dailyTotals(valid)
		groups := make([]models.DecisionGroup, 0, len(dates))
		for _, date := range dates {
			var dateBills, invForDate []models.Bill
			for _, b := range valid {
				if b.Date == date {
					dateBills = append(dateBills, b)
				}
			}
			for _, b := range invalid {
				if b.Date == date {
					invForDate = append(invForDate, b)
				}
			}
			month := monthFromDate(date)
			if month == "" {
				month = monthFromBills(dateBills)
			}
			currency := currencyFromBills(dateBills)
			if currency == "" {
				currency = groupCurrency
			}
			total := totals[date]
			d := date
			groups = append(groups, models.DecisionGroup{
				EmployeeID:         empID,
				EmployeeName:       empName,
				Category:           cat,
				Date:               &d,
				Month:              month,
				ValidBills:         billIDs(dateBills),
				InvalidBills:       billIDs(invForDate),
				InvalidBillReasons: invalidBillReasons(invForDate),
				DailyTotal:         &total,
				Currency:           currency,
			})
		}
		return groups
	}

	var monthly float64
	for _, b := range valid {
		monthly += b.ClaimAmount()
	}
	all := append(append([]models.Bill{}, valid...), invalid...)
	return []models.DecisionGroup{{
		EmployeeID:         empID,
		EmployeeName:       empName,
		Category:           cat,
		Month:              monthFromBills(all),
		ValidBills:         billIDs(valid),
		InvalidBills:       billIDs(invalid),
		InvalidBillReasons: invalidBillReasons(invalid),
		MonthlyTotal:       &monthly,
		Currency:           groupCurrency,
	}}
}

// ApplyPerDiemLimits reads the numeric per-diem limit from the policy
// document and caps each per-diem group's reimbursable total. Groups of
// other categories and policies without the limit key are untouched.
func (p *Preprocessor) ApplyPerDiemLimits(groups []models.DecisionGroup, policy map[string]any) {
	limit, ok := perDiemLimit(policy)
	if !ok {
		return
	}
	for i := range groups {
		g := &groups[i]
		if !p.registry.IsPerDiem(g.Category) || g.DailyTotal == nil {
			continue
		}
		l := limit
		capped := min(*g.DailyTotal, limit)
		exceeds := *g.DailyTotal > limit
		g.DailyLimit = &l
		g.ReimbursableDailyTotal = &capped
		g.DailyTotalExceedsLimit = &exceeds
	}
}

// perDiemLimit extracts meal_allowance.limit as a float.
func perDiemLimit(policy map[string]any) (float64, bool) {
	allowance, ok := policy["meal_allowance"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := allowance["limit"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AddRAGContext attaches free-text policy excerpts per group category via
// the retriever. Retrieval failures are logged and skipped, never fatal.
func (p *Preprocessor) AddRAGContext(groups []models.DecisionGroup, retriever rag.PolicyRetriever, enabled bool) {
	if retriever == nil || !enabled {
		return
	}
	for i := range groups {
		g := &groups[i]
		context, err := retriever.RelevantPolicy(g.Category)
		if err != nil {
			p.logger.Warn("Failed to get RAG context",
				zap.String("category", g.Category),
				zap.Error(err))
			continue
		}
		if context != "" {
			g.RAGPolicyContext = context
			p.logger.Debug("Added RAG context", zap.String("category", g.Category))
		}
	}
}

// Run composes the pre-processing steps: filter, group, cap, RAG.
// Returns empty slices when the filter eliminates every bill.
func (p *Preprocessor) Run(
	billsMap map[string][]models.Bill,
	policy map[string]any,
	categoryFilter string,
	retriever rag.PolicyRetriever,
	enableRAG bool,
) ([]models.DecisionGroup, []models.SaveEntry, error) {
	billsMap = p.FilterBillsByCategory(billsMap, categoryFilter)
	if len(billsMap) == 0 {
		return nil, nil, nil
	}
	groups, saves, err := p.PrepareGroups(billsMap)
	if err != nil {
		return nil, nil, err
	}
	p.ApplyPerDiemLimits(groups, policy)
	p.AddRAGContext(groups, retriever, enableRAG)
	return groups, saves, nil
}
