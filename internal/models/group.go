package models

// InvalidBillReason pairs a bill id with the reason it was rejected.
type InvalidBillReason struct {
	BillID string `json:"bill_id"`
	Reason string `json:"reason"`
}

// DecisionGroup is the unit the generator decides APPROVE/REJECT on:
// one employee + category, optionally scoped to a single date for
// per-diem categories. Exactly one of DailyTotal/MonthlyTotal is set.
// Groups are immutable once built; the engine only reads ToDict snapshots.
type DecisionGroup struct {
	EmployeeID         string              `json:"employee_id"`
	EmployeeName       string              `json:"employee_name"`
	Category           string              `json:"category"`
	Date               *string             `json:"date"`
	Month              string              `json:"month"`
	ValidBills         []string            `json:"valid_bills"`
	InvalidBills       []string            `json:"invalid_bills"`
	InvalidBillReasons []InvalidBillReason `json:"invalid_bill_reasons"`
	DailyTotal         *float64            `json:"daily_total"`
	MonthlyTotal       *float64            `json:"monthly_total"`
	Currency           string              `json:"currency"`

	// Set later in the pipeline (per-diem cap, RAG).
	DailyLimit             *float64 `json:"daily_limit,omitempty"`
	ReimbursableDailyTotal *float64 `json:"reimbursable_daily_total,omitempty"`
	DailyTotalExceedsLimit *bool    `json:"daily_total_exceeds_limit,omitempty"`
	RAGPolicyContext       string   `json:"rag_policy_context,omitempty"`
}

// PerDiemTotal returns the group's daily total, 0 when unset.
func (g *DecisionGroup) PerDiemTotal() float64 {
	if g.DailyTotal != nil {
		return *g.DailyTotal
	}
	return 0
}

// PeriodTotal returns the relevant claim total: the daily total for
// per-diem groups, the monthly total otherwise.
func (g *DecisionGroup) PeriodTotal() float64 {
	if g.DailyTotal != nil {
		return *g.DailyTotal
	}
	if g.MonthlyTotal != nil {
		return *g.MonthlyTotal
	}
	return 0
}

// ApprovableTotal is what an APPROVE verdict pays out: the capped daily
// total for per-diem groups (falling back to the raw daily total when no
// cap applies), the monthly total otherwise.
func (g *DecisionGroup) ApprovableTotal() float64 {
	if g.DailyTotal != nil {
		if g.ReimbursableDailyTotal != nil {
			return *g.ReimbursableDailyTotal
		}
		return *g.DailyTotal
	}
	if g.MonthlyTotal != nil {
		return *g.MonthlyTotal
	}
	return 0
}

// AllBillIDs returns valid followed by invalid bill ids.
func (g *DecisionGroup) AllBillIDs() []string {
	ids := make([]string, 0, len(g.ValidBills)+len(g.InvalidBills))
	ids = append(ids, g.ValidBills...)
	ids = append(ids, g.InvalidBills...)
	return ids
}

// ToDict serializes the group for the generator payload and the
// pre-processing artifact. Optional fields are omitted when unset, so
// the payload matches exactly what the pipeline computed.
func (g *DecisionGroup) ToDict() map[string]any {
	reasons := make([]map[string]any, 0, len(g.InvalidBillReasons))
	for _, r := range g.InvalidBillReasons {
		reasons = append(reasons, map[string]any{"bill_id": r.BillID, "reason": r.Reason})
	}
	d := map[string]any{
		"employee_id":          g.EmployeeID,
		"employee_name":        g.EmployeeName,
		"category":             g.Category,
		"date":                 nilOrString(g.Date),
		"month":                g.Month,
		"valid_bills":          append([]string{}, g.ValidBills...),
		"invalid_bills":        append([]string{}, g.InvalidBills...),
		"invalid_bill_reasons": reasons,
		"daily_total":          nilOrFloat(g.DailyTotal),
		"monthly_total":        nilOrFloat(g.MonthlyTotal),
		"currency":             g.Currency,
	}
	if g.DailyLimit != nil {
		d["daily_limit"] = *g.DailyLimit
	}
	if g.ReimbursableDailyTotal != nil {
		d["reimbursable_daily_total"] = *g.ReimbursableDailyTotal
	}
	if g.DailyTotalExceedsLimit != nil {
		d["daily_total_exceeds_limit"] = *g.DailyTotalExceedsLimit
	}
	if g.RAGPolicyContext != "" {
		d["rag_policy_context"] = g.RAGPolicyContext
	}
	return d
}

func nilOrString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nilOrFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
