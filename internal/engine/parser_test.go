package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionItems_FencedBlock(t *testing.T) {
	raw := "Here are the decisions:\n```json\n[{\"decision\": \"APPROVE\", \"employee_id\": \"E1\"}]\n```\nLet me know if you need anything else."

	items, ok := parseDecisionItems(raw, 1)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.False(t, items[0].failed())
	assert.Equal(t, "APPROVE", items[0].fields["decision"])
}

func TestParseDecisionItems_TrailingComma(t *testing.T) {
	raw := `[{"decision": "APPROVE",}, {"decision": "REJECT",},]`

	items, ok := parseDecisionItems(raw, 2)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "APPROVE", items[0].fields["decision"])
	assert.Equal(t, "REJECT", items[1].fields["decision"])
}

func TestParseDecisionItems_TruncatedOutput(t *testing.T) {
	// Mid-generation cutoff: unterminated string and unclosed brackets.
	raw := `[{"decision": "APPROVE", "employee_id": "E1"}, {"decision": "REJECT", "reasoning": "limit exc`

	items, ok := parseDecisionItems(raw, 2)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "APPROVE", items[0].fields["decision"])
	assert.Equal(t, "REJECT", items[1].fields["decision"])
}

func TestParseDecisionItems_DecisionsKeyObject(t *testing.T) {
	raw := `{"decisions": [{"decision": "APPROVE"}, {"decision": "APPROVE"}]}`

	items, ok := parseDecisionItems(raw, 2)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.False(t, items[0].failed())
	assert.False(t, items[1].failed())
}

func TestParseDecisionItems_ShortArrayPadded(t *testing.T) {
	raw := `[{"decision": "APPROVE"}]`

	items, ok := parseDecisionItems(raw, 3)
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.False(t, items[0].failed())
	assert.True(t, items[1].failed(), "missing positions become placeholders")
	assert.True(t, items[2].failed())
}

func TestParseDecisionItems_ExtraElementsTruncated(t *testing.T) {
	raw := `[{"decision": "APPROVE"}, {"decision": "REJECT"}, {"decision": "REJECT"}]`

	items, ok := parseDecisionItems(raw, 2)
	require.True(t, ok)
	require.Len(t, items, 2)
}

func TestParseDecisionItems_NonObjectElements(t *testing.T) {
	raw := `[{"decision": "APPROVE"}, "oops", 42]`

	items, ok := parseDecisionItems(raw, 3)
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.False(t, items[0].failed())
	assert.True(t, items[1].failed())
	assert.True(t, items[2].failed())
}

func TestParseDecisionItems_NoJSONAtAll(t *testing.T) {
	raw := "I cannot make these decisions without more information."

	items, ok := parseDecisionItems(raw, 4)
	assert.False(t, ok)
	require.Len(t, items, 4, "total failure still yields one placeholder per group")
	for _, it := range items {
		assert.True(t, it.failed())
	}
}

func TestParseDecisionItems_BracketsInsideStrings(t *testing.T) {
	raw := `prose [{"decision": "APPROVE", "reasoning": "matches [policy] {rule}"}] prose`

	items, ok := parseDecisionItems(raw, 1)
	require.True(t, ok)
	assert.Equal(t, "matches [policy] {rule}", items[0].fields["reasoning"])
}

func TestDiagnosticSnippet(t *testing.T) {
	t.Run("short output returned whole", func(t *testing.T) {
		assert.Equal(t, "short", diagnosticSnippet("short"))
	})

	t.Run("long output trimmed to head and tail", func(t *testing.T) {
		long := make([]byte, 1000)
		for i := range long {
			long[i] = 'x'
		}
		snippet := diagnosticSnippet(string(long))
		assert.Len(t, snippet, 400+len(" … ")+200)
	})
}
