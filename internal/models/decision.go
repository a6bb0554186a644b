package models

// Verdict values. The generator's verdict string is compared
// case-insensitively; anything that is not REJECT is treated as APPROVE.
const (
	VerdictApprove = "APPROVE"
	VerdictReject  = "REJECT"
)

// ErrorSummary aggregates invalid-bill reasons with identical text.
type ErrorSummary struct {
	Reason  string   `json:"reason"`
	BillIDs []string `json:"bill_ids"`
	Count   int      `json:"count"`
}

// Decision is the enriched engine output for one DecisionGroup (same
// ordinal position as the group it decides). All numeric and categorical
// fields are reconciled against the group's pre-computed truth; nothing
// financial is taken from the generator.
type Decision struct {
	Decision           string              `json:"decision"`
	EmployeeID         string              `json:"employee_id"`
	EmployeeName       string              `json:"employee_name"`
	Category           string              `json:"category"`
	ValidBillIDs       []string            `json:"valid_bill_ids"`
	InvalidBillIDs     []string            `json:"invalid_bill_ids"`
	InvalidBillReasons []InvalidBillReason `json:"invalid_bill_reasons"`
	ErrorSummary       []ErrorSummary      `json:"error_summary"`
	ClaimedAmount      float64             `json:"claimed_amount"`
	ApprovedAmount     float64             `json:"approved_amount"`
	Currency           string              `json:"currency"`
	Month              string              `json:"month"`
	Date               *string             `json:"date,omitempty"`

	// Group amounts carried through for the audit artifacts.
	DailyTotal             *float64 `json:"daily_total,omitempty"`
	MonthlyTotal           *float64 `json:"monthly_total,omitempty"`
	DailyLimit             *float64 `json:"daily_limit,omitempty"`
	ReimbursableDailyTotal *float64 `json:"reimbursable_daily_total,omitempty"`
	DailyTotalExceedsLimit *bool    `json:"daily_total_exceeds_limit,omitempty"`

	ConfidenceScore float64 `json:"confidence_score"`
	ManualReview    bool    `json:"manual_review"`
	ParseFailed     bool    `json:"parse_failed,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// IsReject reports whether the enriched verdict is REJECT.
func (d *Decision) IsReject() bool {
	return d.Decision == VerdictReject
}

// EmployeeKey returns the employee_id_employee_name grouping key used by
// all artifacts.
func (d *Decision) EmployeeKey() string {
	return d.EmployeeID + "_" + d.EmployeeName
}
