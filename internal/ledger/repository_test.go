package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/pkg/database"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "decisions.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations())
	return NewRepository(db, logger)
}

func strPtr(s string) *string { return &s }

func sampleDecisions() []models.Decision {
	return []models.Decision{
		{
			Decision:        models.VerdictApprove,
			EmployeeID:      "E1",
			EmployeeName:    "Asha",
			Category:        "meal",
			Month:           "2024-04",
			Date:            strPtr("01/04/2024"),
			ClaimedAmount:   600,
			ApprovedAmount:  500,
			Currency:        "INR",
			ValidBillIDs:    []string{"b1", "b2"},
			ConfidenceScore: 1.0,
		},
		{
			Decision:        models.VerdictReject,
			EmployeeID:      "E2",
			EmployeeName:    "Ravi",
			Category:        "commute",
			Month:           "2024-04",
			ClaimedAmount:   900,
			ApprovedAmount:  0,
			Currency:        "INR",
			InvalidBillIDs:  []string{"b3"},
			ErrorSummary:    []models.ErrorSummary{{Reason: "Month mismatch", BillIDs: []string{"b3"}, Count: 1}},
			ConfidenceScore: 0.4,
			ManualReview:    true,
		},
	}
}

func TestInsertBatchAndList(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.InsertBatch(sampleDecisions(), "gpt-test"))

	t.Run("all rows", func(t *testing.T) {
		records, err := repo.List(Filter{})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("filter by employee", func(t *testing.T) {
		records, err := repo.List(Filter{EmployeeID: "E1"})
		require.NoError(t, err)
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, models.VerdictApprove, rec.Verdict)
		assert.Equal(t, "01/04/2024", rec.Date)
		assert.Equal(t, 500.0, rec.ApprovedAmount)
		assert.Equal(t, 2, rec.ValidBillCount)
		assert.Equal(t, "gpt-test", rec.Model)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("reasons round-trip", func(t *testing.T) {
		records, err := repo.List(Filter{EmployeeID: "E2"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Len(t, records[0].Reasons, 1)
		assert.Equal(t, "Month mismatch", records[0].Reasons[0].Reason)
	})

	t.Run("filter by category and month", func(t *testing.T) {
		records, err := repo.List(Filter{Category: "commute", Month: "2024-04"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "E2", records[0].EmployeeID)
	})

	t.Run("limit", func(t *testing.T) {
		records, err := repo.List(Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestInsertBatch_RerunReplaces(t *testing.T) {
	repo := newTestRepository(t)
	decisions := sampleDecisions()
	require.NoError(t, repo.InsertBatch(decisions, "gpt-test"))

	// Second run for the same periods flips E1 to a reject. The upsert
	// replaces the earlier row instead of stacking a duplicate.
	decisions[0].Decision = models.VerdictReject
	decisions[0].ApprovedAmount = 0
	require.NoError(t, repo.InsertBatch(decisions, "gpt-test"))

	records, err := repo.List(Filter{EmployeeID: "E1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.VerdictReject, records[0].Verdict)
	assert.Equal(t, 0.0, records[0].ApprovedAmount)
}

func TestInsertBatch_DifferentModelsCoexist(t *testing.T) {
	repo := newTestRepository(t)
	decisions := sampleDecisions()[:1]
	require.NoError(t, repo.InsertBatch(decisions, "gpt-a"))
	require.NoError(t, repo.InsertBatch(decisions, "gpt-b"))

	records, err := repo.List(Filter{EmployeeID: "E1"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestListManualReview(t *testing.T) {
	repo := newTestRepository(t)
	decisions := sampleDecisions()
	decisions = append(decisions, models.Decision{
		Decision:        models.VerdictApprove,
		EmployeeID:      "E3",
		EmployeeName:    "Mira",
		Category:        "meal",
		Month:           "2024-04",
		Currency:        "INR",
		ConfidenceScore: 0.2,
		ManualReview:    true,
	})
	require.NoError(t, repo.InsertBatch(decisions, "gpt-test"))

	records, err := repo.ListManualReview(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "E3", records[0].EmployeeID, "lowest confidence surfaces first")
	assert.Equal(t, "E2", records[1].EmployeeID)

	limited, err := repo.ListManualReview(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSummarize(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.InsertBatch(sampleDecisions(), "gpt-test"))

	rows, err := repo.Summarize()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byCategory := make(map[string]SummaryRow)
	for _, row := range rows {
		byCategory[row.Category] = row
	}

	meal := byCategory["meal"]
	assert.Equal(t, 1, meal.DecisionCount)
	assert.Equal(t, 1, meal.ApprovedCount)
	assert.Equal(t, 0, meal.RejectedCount)
	assert.Equal(t, 600.0, meal.ClaimedAmount)
	assert.Equal(t, 500.0, meal.ApprovedAmount)

	commute := byCategory["commute"]
	assert.Equal(t, 1, commute.RejectedCount)
	assert.Equal(t, 0.0, commute.ApprovedAmount)
}

func TestInsertBatch_EmptyIsNoop(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.InsertBatch(nil, "gpt-test"))

	records, err := repo.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
