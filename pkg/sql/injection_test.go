package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLiteral(t *testing.T) {
	tests := []struct {
		name            string
		value           string
		expectInjection bool
	}{
		{name: "numeric string", value: "12345"},
		{name: "date", value: "2024-01-15"},
		{name: "multi-word phrase", value: "laptop computers"},
		{name: "apostrophe in name", value: "O'Brien"},
		{name: "empty", value: ""},
		{name: "natural language with keywords", value: "SELECT the best option from the menu"},

		{name: "classic quote injection", value: "' OR '1'='1", expectInjection: true},
		{name: "drop table", value: "'; DROP TABLE users--", expectInjection: true},
		{name: "union select", value: "1 UNION SELECT * FROM passwords", expectInjection: true},
		{name: "comment injection", value: "admin'--", expectInjection: true},
		{name: "stacked queries", value: "admin'; DELETE FROM logs; --", expectInjection: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckLiteral("category", tt.value)
			if !tt.expectInjection {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.True(t, result.IsSQLi)
			assert.NotEmpty(t, result.Fingerprint)
			assert.Equal(t, "category", result.Name)
			assert.Equal(t, tt.value, result.Value)
		})
	}
}

func TestQuoteLiteral(t *testing.T) {
	got, err := QuoteLiteral("name", "O'Brien")
	require.NoError(t, err)
	assert.Equal(t, "'O''Brien'", got)

	_, err = QuoteLiteral("name", "' OR '1'='1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "possible SQL injection in name")
}
