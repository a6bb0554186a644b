package preprocess

import (
	"fmt"
	"strings"
	"time"

	"github.com/billdesk/expense-decisions/internal/models"
)

// Bill dates arrive as DD/MM/YYYY; months are emitted as YYYY-MM.
const (
	billDateLayout = "02/01/2006"
	monthLayout    = "2006-01"

	// UnknownMonth is used when no bill in a group carries a parseable date.
	UnknownMonth = "unknown"
)

// monthFromDate parses a DD/MM/YYYY date into YYYY-MM, "" when unparseable.
func monthFromDate(date string) string {
	t, err := time.Parse(billDateLayout, strings.TrimSpace(date))
	if err != nil {
		return ""
	}
	return t.Format(monthLayout)
}

// monthFromBills derives YYYY-MM from the first bill with a parseable
// date, UnknownMonth when none has one.
func monthFromBills(bills []models.Bill) string {
	for _, b := range bills {
		if m := monthFromDate(b.Date); m != "" {
			return m
		}
	}
	return UnknownMonth
}

// currencyFromBills returns the first non-empty currency, "" when none.
func currencyFromBills(bills []models.Bill) string {
	for _, b := range bills {
		if c := strings.TrimSpace(b.Currency); c != "" {
			return c
		}
	}
	return ""
}

// dailyTotals sums claim amounts by bill date, preserving first-seen
// date order so groups are emitted deterministically.
func dailyTotals(bills []models.Bill) ([]string, map[string]float64) {
	order := make([]string, 0, len(bills))
	totals := make(map[string]float64, len(bills))
	for _, b := range bills {
		if _, seen := totals[b.Date]; !seen {
			order = append(order, b.Date)
		}
		totals[b.Date] += b.ClaimAmount()
	}
	return order, totals
}

// validationToReason builds the rejection reason string from validation
// flags: failed checks joined by "; ", or "Validation failed" when the
// bill is invalid without any explicit failing flag.
func validationToReason(v *models.ValidationResult) string {
	if v == nil {
		return "Validation failed"
	}
	var reasons []string
	if v.MonthMatch != nil && !*v.MonthMatch {
		reasons = append(reasons, "Month mismatch")
	}
	if v.NameMatch != nil && !*v.NameMatch {
		if v.NameMatchScore != nil {
			reasons = append(reasons, fmt.Sprintf("Name mismatch (%d%%)", int(*v.NameMatchScore)))
		} else {
			reasons = append(reasons, "Name mismatch")
		}
	}
	if v.AddressMatch != nil && !*v.AddressMatch {
		if v.AddressMatchScore != nil {
			reasons = append(reasons, fmt.Sprintf("Address mismatch (%d%%)", int(*v.AddressMatchScore)))
		} else {
			reasons = append(reasons, "Address mismatch")
		}
	}
	if len(reasons) == 0 {
		return "Validation failed"
	}
	return strings.Join(reasons, "; ")
}

// invalidBillReasons builds {bill_id, reason} records for invalid bills.
func invalidBillReasons(bills []models.Bill) []models.InvalidBillReason {
	out := make([]models.InvalidBillReason, 0, len(bills))
	for _, b := range bills {
		out = append(out, models.InvalidBillReason{BillID: b.ID, Reason: validationToReason(b.Validation)})
	}
	return out
}

func billIDs(bills []models.Bill) []string {
	ids := make([]string, 0, len(bills))
	for _, b := range bills {
		ids = append(ids, b.ID)
	}
	return ids
}

func billFilenames(bills []models.Bill) []string {
	names := make([]string, 0, len(bills))
	for _, b := range bills {
		names = append(names, b.Filename)
	}
	return names
}
