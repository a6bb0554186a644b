package models

// ValidationResult holds the per-bill validation flags computed by the
// extraction stage. Absent flags (nil) count as passing; only an explicit
// false contributes a rejection reason.
type ValidationResult struct {
	IsValid           bool     `json:"is_valid"`
	MonthMatch        *bool    `json:"month_match,omitempty"`
	NameMatch         *bool    `json:"name_match,omitempty"`
	NameMatchScore    *float64 `json:"name_match_score,omitempty"`
	AddressMatch      *bool    `json:"address_match,omitempty"`
	AddressMatchScore *float64 `json:"address_match_score,omitempty"`
}

// Bill is one extracted expense receipt record. Bills are produced by the
// extraction stage and consumed read-only by the decision pipeline.
type Bill struct {
	ID                 string            `json:"id"`
	Filename           string            `json:"filename"`
	Category           string            `json:"category"`
	Date               string            `json:"date"` // DD/MM/YYYY
	Amount             float64           `json:"amount"`
	ReimbursableAmount float64           `json:"reimbursable_amount,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	OCR                string            `json:"ocr,omitempty"`
	Validation         *ValidationResult `json:"validation,omitempty"`
}

// IsValid reports whether the extraction stage marked this bill valid.
func (b *Bill) IsValid() bool {
	return b.Validation != nil && b.Validation.IsValid
}

// ClaimAmount returns the reimbursable amount when set, else the raw amount.
func (b *Bill) ClaimAmount() float64 {
	if b.ReimbursableAmount > 0 {
		return b.ReimbursableAmount
	}
	return b.Amount
}

// SaveEntry drives the file-copy side effect in post-processing: per
// employee and category, which source filenames landed valid vs invalid.
type SaveEntry struct {
	EmployeeID   string   `json:"employee_id"`
	EmployeeName string   `json:"employee_name"`
	Category     string   `json:"category"`
	ValidFiles   []string `json:"valid_files"`
	InvalidFiles []string `json:"invalid_files"`
}
