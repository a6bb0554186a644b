package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/models"
)

// MockGenerator implements TextGenerator for testing
type MockGenerator struct {
	response string
	err      error
	lastUser string
}

func (m *MockGenerator) Generate(_ context.Context, _, user string, _ json.RawMessage) (string, error) {
	m.lastUser = user
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func newTestEngine(gen TextGenerator, dir string) *Engine {
	return NewEngine(gen, category.DefaultRegistry(), DefaultConfidenceConfig(), dir, "gpt-test", zap.NewNop())
}

func testGroups() []models.DecisionGroup {
	return []models.DecisionGroup{
		{
			EmployeeID:   "E1",
			EmployeeName: "Asha",
			Category:     "meal",
			Month:        "2024-04",
			ValidBills:   []string{"m1"},
			DailyTotal:   floatPtr(300),
			Currency:     "INR",
		},
		{
			EmployeeID:   "E2",
			EmployeeName: "Ravi",
			Category:     "cab",
			Month:        "2024-04",
			ValidBills:   []string{"c1"},
			MonthlyTotal: floatPtr(650),
			Currency:     "INR",
		},
	}
}

func TestEngine_Decide(t *testing.T) {
	dir := t.TempDir()
	gen := &MockGenerator{response: `[
		{"decision": "APPROVE", "reasoning": "ok"},
		{"decision": "REJECT", "reasoning": "no receipts"}
	]`}
	e := newTestEngine(gen, dir)

	decisions, err := e.Decide(context.Background(), testGroups(), map[string]any{"x": 1}, nil, "meal")
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	assert.Equal(t, models.VerdictApprove, decisions[0].Decision)
	assert.Equal(t, 300.0, decisions[0].ApprovedAmount)
	assert.Equal(t, models.VerdictReject, decisions[1].Decision)
	assert.Equal(t, 0.0, decisions[1].ApprovedAmount)

	// The user turn carries the policy and every group.
	assert.Contains(t, gen.lastUser, `"policy"`)
	assert.Contains(t, gen.lastUser, `"E1"`)
	assert.Contains(t, gen.lastUser, `"E2"`)

	// Raw output persisted under decisions/{model}/engine.
	raw, err := os.ReadFile(filepath.Join(dir, "decisions", "gpt-test", "engine", "engine_raw_output_meal.txt"))
	require.NoError(t, err)
	assert.Equal(t, gen.response, string(raw))
}

func TestEngine_Decide_EmptyGroups(t *testing.T) {
	e := newTestEngine(&MockGenerator{}, t.TempDir())
	decisions, err := e.Decide(context.Background(), nil, nil, nil, "meal")
	require.NoError(t, err)
	assert.Nil(t, decisions)
}

func TestEngine_Decide_TransportFailure(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(&MockGenerator{err: errors.New("connection refused")}, dir)

	decisions, err := e.Decide(context.Background(), testGroups(), nil, nil, "")
	require.NoError(t, err, "transport failures degrade, they do not abort the batch")
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.Equal(t, models.VerdictReject, d.Decision)
		assert.True(t, d.ParseFailed)
		assert.True(t, d.ManualReview)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "decisions", "gpt-test", "engine", "engine_raw_output_all.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "GENERATION ERROR: connection refused")
}

func TestEngine_Decide_UnparseableOutput(t *testing.T) {
	e := newTestEngine(&MockGenerator{response: "I refuse to answer in JSON."}, t.TempDir())

	decisions, err := e.Decide(context.Background(), testGroups(), nil, nil, "meal")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.True(t, d.ParseFailed)
		assert.Equal(t, models.VerdictReject, d.Decision)
	}
}

func TestEngine_Decide_OrgDataInPayload(t *testing.T) {
	gen := &MockGenerator{response: `[{"decision": "APPROVE"}, {"decision": "APPROVE"}]`}
	e := newTestEngine(gen, t.TempDir())

	orgData := map[string]any{"E1": map[string]any{"grade": "L4"}}
	_, err := e.Decide(context.Background(), testGroups(), nil, orgData, "meal")
	require.NoError(t, err)
	assert.Contains(t, gen.lastUser, `"employee_org_data"`)
	assert.Contains(t, gen.lastUser, `"grade"`)
}
