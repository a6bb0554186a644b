package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/ledger"
	"github.com/billdesk/expense-decisions/internal/models"
	"github.com/billdesk/expense-decisions/pkg/database"
)

func newTestServer(t *testing.T) *Server {
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

	repo := ledger.NewRepository(db, logger)
	require.NoError(t, repo.InsertBatch([]models.Decision{
		{
			Decision:        models.VerdictApprove,
			EmployeeID:      "E1",
			EmployeeName:    "Asha",
			Category:        "meal",
			Month:           "2024-04",
			ClaimedAmount:   600,
			ApprovedAmount:  500,
			Currency:        "INR",
			ConfidenceScore: 1.0,
		},
		{
			Decision:        models.VerdictReject,
			EmployeeID:      "E2",
			EmployeeName:    "Ravi",
			Category:        "commute",
			Month:           "2024-04",
			ClaimedAmount:   900,
			Currency:        "INR",
			ConfidenceScore: 0.4,
			ManualReview:    true,
		},
	}, "gpt-test"))

	return NewServer(ServerConfig{Host: "127.0.0.1", Port: 0}, repo, logger)
}

func doGet(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	status, body := doGet(t, s, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleListDecisions(t *testing.T) {
	s := newTestServer(t)

	t.Run("unfiltered", func(t *testing.T) {
		status, body := doGet(t, s, "/api/v1/decisions")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(2), body["count"])
	})

	t.Run("filtered by employee", func(t *testing.T) {
		status, body := doGet(t, s, "/api/v1/decisions?employee_id=E1")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(1), body["count"])

		decisions := body["decisions"].([]any)
		rec := decisions[0].(map[string]any)
		assert.Equal(t, "meal", rec["category"])
		assert.Equal(t, 500.0, rec["approved_amount"])
	})

	t.Run("limit", func(t *testing.T) {
		status, body := doGet(t, s, "/api/v1/decisions?limit=1")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("bad limit ignored", func(t *testing.T) {
		status, body := doGet(t, s, "/api/v1/decisions?limit=nope")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(2), body["count"])
	})
}

func TestHandleManualReview(t *testing.T) {
	s := newTestServer(t)

	status, body := doGet(t, s, "/api/v1/decisions/manual-review")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	decisions := body["decisions"].([]any)
	rec := decisions[0].(map[string]any)
	assert.Equal(t, "E2", rec["employee_id"])
}

func TestHandleSummary(t *testing.T) {
	s := newTestServer(t)

	status, body := doGet(t, s, "/api/v1/summary")
	assert.Equal(t, http.StatusOK, status)

	rows := body["summary"].([]any)
	require.Len(t, rows, 2)

	first := rows[0].(map[string]any)
	assert.Equal(t, "commute", first["category"], "summary is ordered by category")
	assert.Equal(t, float64(1), first["rejected_count"])
}
