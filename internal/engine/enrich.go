package engine

import (
	"strconv"
	"strings"

	"github.com/billdesk/expense-decisions/internal/models"
)

// fallbackReason is used when neither validation nor the generator
// supplied a reason for a rejected bill.
const fallbackReason = "Rejected (no specific reason provided)"

// ConfidenceConfig holds the scoring penalties and the manual-review
// threshold. The weights are policy, not law; deployments tune them.
type ConfidenceConfig struct {
	UnknownMonthPenalty   float64
	MissingAmountPenalty  float64
	NoValidBillsPenalty   float64
	InvalidBillsPenalty   float64
	ManualReviewThreshold float64
}

// DefaultConfidenceConfig returns the standard weights.
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		UnknownMonthPenalty:   0.25,
		MissingAmountPenalty:  0.35,
		NoValidBillsPenalty:   0.30,
		InvalidBillsPenalty:   0.10,
		ManualReviewThreshold: 0.5,
	}
}

// enrichDecisionItem reconciles one parsed-or-placeholder item against
// its group's pre-computed truth. Every numeric and categorical field the
// generator could corrupt is overwritten from the group; only the verdict
// and per-bill reason text are taken from the generator (and even those
// are constrained).
func enrichDecisionItem(item parsedItem, group *models.DecisionGroup, canonicalCategory string, cfg ConfidenceConfig) models.Decision {
	d := models.Decision{
		EmployeeID:             group.EmployeeID,
		EmployeeName:           group.EmployeeName,
		Category:               canonicalCategory,
		Currency:               group.Currency,
		Month:                  group.Month,
		Date:                   group.Date,
		DailyTotal:             group.DailyTotal,
		MonthlyTotal:           group.MonthlyTotal,
		DailyLimit:             group.DailyLimit,
		ReimbursableDailyTotal: group.ReimbursableDailyTotal,
		DailyTotalExceedsLimit: group.DailyTotalExceedsLimit,
		ClaimedAmount:          group.PeriodTotal(),
	}

	if item.failed() {
		d.Decision = models.VerdictReject
		d.ParseFailed = true
		d.Reasoning = "Generator output could not be parsed for this group"
	} else {
		verdict := strings.ToUpper(strings.TrimSpace(stringField(item.fields, "decision")))
		if verdict == models.VerdictReject {
			d.Decision = models.VerdictReject
		} else {
			d.Decision = models.VerdictApprove
		}
		d.Reasoning = stringField(item.fields, "reasoning")
	}

	if d.Decision == models.VerdictReject {
		// A REJECT approves nothing and disqualifies every bill in the
		// group, whatever the generator reported.
		d.ValidBillIDs = []string{}
		d.InvalidBillIDs = group.AllBillIDs()
		d.ApprovedAmount = 0
	} else {
		d.ValidBillIDs = append([]string{}, group.ValidBills...)
		d.InvalidBillIDs = append([]string{}, group.InvalidBills...)
		d.ApprovedAmount = group.ApprovableTotal()
	}

	d.InvalidBillReasons = reconcileReasons(item, group, d.InvalidBillIDs)
	d.ErrorSummary = summarizeReasons(d.InvalidBillReasons)

	d.ConfidenceScore = confidenceScore(group, cfg)
	d.ManualReview = d.ConfidenceScore < cfg.ManualReviewThreshold || d.ParseFailed

	return d
}

// reconcileReasons builds the reason per invalid bill id: validation
// reasons first, overlaid by non-empty generator reasons, with a generic
// fallback for ids neither source covered.
func reconcileReasons(item parsedItem, group *models.DecisionGroup, invalidIDs []string) []models.InvalidBillReason {
	lookup := make(map[string]string, len(group.InvalidBillReasons))
	for _, r := range group.InvalidBillReasons {
		lookup[r.BillID] = r.Reason
	}
	if !item.failed() {
		for _, r := range reasonField(item.fields, "invalid_bill_reasons") {
			if r.BillID != "" && strings.TrimSpace(r.Reason) != "" {
				lookup[r.BillID] = strings.TrimSpace(r.Reason)
			}
		}
	}
	out := make([]models.InvalidBillReason, 0, len(invalidIDs))
	for _, id := range invalidIDs {
		reason := lookup[id]
		if reason == "" {
			reason = fallbackReason
		}
		out = append(out, models.InvalidBillReason{BillID: id, Reason: reason})
	}
	return out
}

// summarizeReasons groups identical reason text into error_summary
// records, preserving first-seen order.
func summarizeReasons(reasons []models.InvalidBillReason) []models.ErrorSummary {
	var order []string
	byReason := make(map[string]*models.ErrorSummary)
	for _, r := range reasons {
		s, ok := byReason[r.Reason]
		if !ok {
			s = &models.ErrorSummary{Reason: r.Reason}
			byReason[r.Reason] = s
			order = append(order, r.Reason)
		}
		s.BillIDs = append(s.BillIDs, r.BillID)
		s.Count++
	}
	out := make([]models.ErrorSummary, 0, len(order))
	for _, reason := range order {
		out = append(out, *byReason[reason])
	}
	return out
}

// confidenceScore starts at 1.0 and subtracts per degraded signal:
// unknown month, missing/zero claim amount, no valid bills, and a share
// proportional to the invalid-bill count (saturating at three bills).
// Clamped to [0, 1].
func confidenceScore(group *models.DecisionGroup, cfg ConfidenceConfig) float64 {
	score := 1.0
	if group.Month == "" || group.Month == "unknown" {
		score -= cfg.UnknownMonthPenalty
	}
	if group.PeriodTotal() == 0 {
		score -= cfg.MissingAmountPenalty
	}
	if len(group.ValidBills) == 0 {
		score -= cfg.NoValidBillsPenalty
	}
	if n := len(group.InvalidBills); n > 0 {
		score -= cfg.InvalidBillsPenalty * min(1, float64(n)/3)
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// stringField reads a string value defensively from untrusted JSON.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// reasonField decodes an invalid_bill_reasons-shaped value, tolerating
// missing keys and wrong element types.
func reasonField(fields map[string]any, key string) []models.InvalidBillReason {
	arr, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	out := make([]models.InvalidBillReason, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.InvalidBillReason{
			BillID: stringField(obj, "bill_id"),
			Reason: stringField(obj, "reason"),
		})
	}
	return out
}
