// Package ledger persists enriched decisions to sqlite so runs can be
// queried after the artifact files have been archived.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/pkg/database"
)

// Record is one persisted decision row.
type Record struct {
	ID               int64                 `json:"id"`
	EmployeeID       string                `json:"employee_id"`
	EmployeeName     string                `json:"employee_name"`
	Category         string                `json:"category"`
	Month            string                `json:"month"`
	Date             string                `json:"date,omitempty"`
	Verdict          string                `json:"verdict"`
	ClaimedAmount    float64               `json:"claimed_amount"`
	ApprovedAmount   float64               `json:"approved_amount"`
	Currency         string                `json:"currency"`
	ValidBillCount   int                   `json:"valid_bill_count"`
	InvalidBillCount int                   `json:"invalid_bill_count"`
	ConfidenceScore  float64               `json:"confidence_score"`
	ManualReview     bool                  `json:"manual_review"`
	ParseFailed      bool                  `json:"parse_failed"`
	Reasons          []models.ErrorSummary `json:"reasons,omitempty"`
	Model            string                `json:"model"`
	CreatedAt        time.Time             `json:"created_at"`
}

// Filter narrows List queries. Zero-value fields are ignored.
type Filter struct {
	EmployeeID string
	Category   string
	Month      string
	Limit      int
}

// Repository handles decision ledger database operations
type Repository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(db *database.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertBatch upserts one run's decisions in a single transaction. Rows
// are keyed by (employee, category, month, date, model), so re-running a
// category replaces its earlier rows.
func (r *Repository) InsertBatch(decisions []models.Decision, model string) error {
	if len(decisions) == 0 {
		return nil
	}

	query := `
		INSERT INTO decisions (
			employee_id, employee_name, category, month, date, verdict,
			claimed_amount, approved_amount, currency,
			valid_bill_count, invalid_bill_count,
			confidence_score, manual_review, parse_failed, reasons, model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, category, month, date, model) DO UPDATE SET
			employee_name = excluded.employee_name,
			verdict = excluded.verdict,
			claimed_amount = excluded.claimed_amount,
			approved_amount = excluded.approved_amount,
			currency = excluded.currency,
			valid_bill_count = excluded.valid_bill_count,
			invalid_bill_count = excluded.invalid_bill_count,
			confidence_score = excluded.confidence_score,
			manual_review = excluded.manual_review,
			parse_failed = excluded.parse_failed,
			reasons = excluded.reasons
	`

	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range decisions {
			reasons, err := json.Marshal(d.ErrorSummary)
			if err != nil {
				return fmt.Errorf("failed to marshal reasons: %w", err)
			}
			date := ""
			if d.Date != nil {
				date = *d.Date
			}
			_, err = stmt.Exec(
				d.EmployeeID, d.EmployeeName, d.Category, d.Month, date, d.Decision,
				d.ClaimedAmount, d.ApprovedAmount, d.Currency,
				len(d.ValidBillIDs), len(d.InvalidBillIDs),
				d.ConfidenceScore, d.ManualReview, d.ParseFailed, string(reasons), model,
			)
			if err != nil {
				return fmt.Errorf("failed to insert decision for %s: %w", d.EmployeeID, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to persist decisions", zap.Error(err))
		return err
	}

	r.logger.Info("Decisions persisted to ledger",
		zap.Int("count", len(decisions)),
		zap.String("model", model))
	return nil
}

// List returns decisions matching the filter, newest first.
func (r *Repository) List(filter Filter) ([]Record, error) {
	query := `
		SELECT id, employee_id, employee_name, category, month, date, verdict,
			claimed_amount, approved_amount, currency,
			valid_bill_count, invalid_bill_count,
			confidence_score, manual_review, parse_failed, reasons, model, created_at
		FROM decisions
		WHERE 1=1
	`
	var args []any
	if filter.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, filter.EmployeeID)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Month != "" {
		query += " AND month = ?"
		args = append(args, filter.Month)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return r.queryRecords(query, args...)
}

// ListManualReview returns decisions flagged for a human pass, lowest
// confidence first.
func (r *Repository) ListManualReview(limit int) ([]Record, error) {
	query := `
		SELECT id, employee_id, employee_name, category, month, date, verdict,
			claimed_amount, approved_amount, currency,
			valid_bill_count, invalid_bill_count,
			confidence_score, manual_review, parse_failed, reasons, model, created_at
		FROM decisions
		WHERE manual_review = 1
		ORDER BY confidence_score ASC, created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryRecords(query, args...)
}

// SummaryRow is one aggregated (category, month) line for the report API.
type SummaryRow struct {
	Category       string  `json:"category"`
	Month          string  `json:"month"`
	DecisionCount  int     `json:"decision_count"`
	ApprovedCount  int     `json:"approved_count"`
	RejectedCount  int     `json:"rejected_count"`
	ClaimedAmount  float64 `json:"claimed_amount"`
	ApprovedAmount float64 `json:"approved_amount"`
}

// Summarize aggregates the ledger by category and month.
func (r *Repository) Summarize() ([]SummaryRow, error) {
	query := `
		SELECT category, month,
			COUNT(*),
			SUM(CASE WHEN verdict = 'APPROVE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN verdict = 'REJECT' THEN 1 ELSE 0 END),
			SUM(claimed_amount),
			SUM(approved_amount)
		FROM decisions
		GROUP BY category, month
		ORDER BY category, month
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize decisions: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(
			&row.Category, &row.Month, &row.DecisionCount,
			&row.ApprovedCount, &row.RejectedCount,
			&row.ClaimedAmount, &row.ApprovedAmount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var reasons string
		if err := rows.Scan(
			&rec.ID, &rec.EmployeeID, &rec.EmployeeName, &rec.Category,
			&rec.Month, &rec.Date, &rec.Verdict,
			&rec.ClaimedAmount, &rec.ApprovedAmount, &rec.Currency,
			&rec.ValidBillCount, &rec.InvalidBillCount,
			&rec.ConfidenceScore, &rec.ManualReview, &rec.ParseFailed,
			&reasons, &rec.Model, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		if reasons != "" {
			if err := json.Unmarshal([]byte(reasons), &rec.Reasons); err != nil {
				r.logger.Warn("Unreadable reasons blob in ledger row",
					zap.Int64("id", rec.ID), zap.Error(err))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
