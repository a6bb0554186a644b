package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmployeeKey(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		id, name, err := SplitEmployeeKey("E1_Asha")
		require.NoError(t, err)
		assert.Equal(t, "E1", id)
		assert.Equal(t, "Asha", name)
	})

	t.Run("name keeps later underscores", func(t *testing.T) {
		id, name, err := SplitEmployeeKey("E1_Asha_Rao")
		require.NoError(t, err)
		assert.Equal(t, "E1", id)
		assert.Equal(t, "Asha_Rao", name)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, key := range []string{"E1", "_Asha", "E1_", ""} {
			_, _, err := SplitEmployeeKey(key)
			assert.Error(t, err, key)
		}
	})
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "E1_Asha", SanitizeName("E1_\x00Asha\x1f"))
	assert.Equal(t, "plain", SanitizeName("plain"))
}
