package postprocess

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/billdesk/expense-decisions/internal/models"
)

// Grouped nests decisions by employee key, canonical category, and month.
type Grouped map[string]map[string]map[string][]models.Decision

// ReasonCount is one deduplicated invalid reason with its occurrence count.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// SummaryEntry is the admin-facing rollup for one (employee, category,
// month) period: totals, the overall verdict, and deduplicated reasons.
type SummaryEntry struct {
	Decision         string        `json:"decision"`
	ClaimedAmount    float64       `json:"claimed_amount"`
	ApprovedAmount   float64       `json:"approved_amount"`
	Currency         string        `json:"currency"`
	ValidBillCount   int           `json:"valid_bill_count"`
	InvalidBillCount int           `json:"invalid_bill_count"`
	PeriodCount      int           `json:"period_count"`
	InvalidReasons   []ReasonCount `json:"invalid_reasons,omitempty"`
}

// Summary maps employee key → category → month → entry.
type Summary map[string]map[string]map[string]SummaryEntry

var scoreSuffixRe = regexp.MustCompile(`\s*\(\d+%\)\s*$`)

// NormalizeReason strips a trailing "(NN%)" score suffix so variants like
// "Name mismatch (50%)" and "Name mismatch (28%)" merge into one bucket.
// Empty reasons become "Other".
func NormalizeReason(reason string) string {
	r := scoreSuffixRe.ReplaceAllString(strings.TrimSpace(reason), "")
	if r == "" {
		return "Other"
	}
	return r
}

// GroupDecisions nests the flat decision list for the audit and summary
// artifacts. Category aliases were already folded during enrichment, but
// folding is repeated here so externally loaded decisions group the same.
func (p *Postprocessor) GroupDecisions(decisions []models.Decision) Grouped {
	grouped := make(Grouped)
	for _, d := range decisions {
		empKey := d.EmployeeKey()
		cat := p.registry.Canonical(d.Category)
		month := d.Month
		if month == "" {
			month = "unknown"
		}
		if grouped[empKey] == nil {
			grouped[empKey] = make(map[string]map[string][]models.Decision)
		}
		if grouped[empKey][cat] == nil {
			grouped[empKey][cat] = make(map[string][]models.Decision)
		}
		grouped[empKey][cat][month] = append(grouped[empKey][cat][month], d)
	}
	return grouped
}

// BuildSummaryFromGrouped rolls each (employee, category, month) period
// up into one entry. The period decision is REJECT when any item in the
// period is REJECT.
func (p *Postprocessor) BuildSummaryFromGrouped(grouped Grouped) Summary {
	summary := make(Summary, len(grouped))
	for empKey, byCat := range grouped {
		summary[empKey] = make(map[string]map[string]SummaryEntry, len(byCat))
		for cat, byMonth := range byCat {
			summary[empKey][cat] = make(map[string]SummaryEntry, len(byMonth))
			for month, items := range byMonth {
				summary[empKey][cat][month] = buildPeriodEntry(items, p.defaultCurrency)
			}
		}
	}
	return summary
}

func buildPeriodEntry(items []models.Decision, defaultCurrency string) SummaryEntry {
	entry := SummaryEntry{
		Decision:    models.VerdictApprove,
		Currency:    defaultCurrency,
		PeriodCount: len(items),
	}
	if len(items) > 0 && items[0].Currency != "" {
		entry.Currency = items[0].Currency
	}

	reasonCounts := make(map[string]int)
	for _, d := range items {
		entry.ClaimedAmount += d.ClaimedAmount
		entry.ApprovedAmount += d.ApprovedAmount
		entry.ValidBillCount += len(d.ValidBillIDs)
		entry.InvalidBillCount += len(d.InvalidBillIDs)
		if strings.EqualFold(d.Decision, models.VerdictReject) {
			entry.Decision = models.VerdictReject
		}
		for _, es := range d.ErrorSummary {
			count := es.Count
			if count == 0 {
				count = len(es.BillIDs)
			}
			reasonCounts[NormalizeReason(es.Reason)] += count
		}
	}
	entry.ClaimedAmount = round2(entry.ClaimedAmount)
	entry.ApprovedAmount = round2(entry.ApprovedAmount)

	if len(reasonCounts) > 0 {
		reasons := make([]string, 0, len(reasonCounts))
		for r := range reasonCounts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			entry.InvalidReasons = append(entry.InvalidReasons, ReasonCount{Reason: r, Count: reasonCounts[r]})
		}
	}
	return entry
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// consolidateReasons flattens invalid reasons to the semicolon-joined
// "reason (count)" form the summary CSV carries.
func consolidateReasons(reasons []ReasonCount) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s (%d)", r.Reason, r.Count))
	}
	return strings.Join(parts, "; ")
}
