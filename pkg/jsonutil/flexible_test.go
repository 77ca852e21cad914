package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{name: "string", input: json.RawMessage(`"hello"`), want: "hello"},
		{name: "integer", input: json.RawMessage(`42`), want: "42"},
		{name: "float", input: json.RawMessage(`3.14`), want: "3.14"},
		{name: "boolean", input: json.RawMessage(`true`), want: "true"},
		{name: "null", input: json.RawMessage(`null`), want: ""},
		{name: "nil", input: nil, want: ""},
		{name: "large integer keeps precision", input: json.RawMessage(`9007199254740992`), want: "9007199254740992"},
		{name: "negative", input: json.RawMessage(`-7`), want: "-7"},
		{name: "object falls back to raw", input: json.RawMessage(`{"key":"value"}`), want: `{"key":"value"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexibleStringValue(tt.input))
		})
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "list", input: `["a", " b "]`, want: []string{"a", "b"}},
		{name: "blank items dropped", input: `["x", "", "  ", "y"]`, want: []string{"x", "y"}},
		{name: "mixed scalars", input: `["top 5", 10, true]`, want: []string{"top 5", "10", "true"}},
		{name: "single string", input: `"Which plant has the most?"`, want: []string{"Which plant has the most?"}},
		{name: "single number", input: `7`, want: []string{"7"}},
		{name: "blank string", input: `"  "`, want: nil},
		{name: "null", input: `null`, want: nil},
		{name: "empty list", input: `[]`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Strings(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrings_RejectsObjects(t *testing.T) {
	_, err := Strings(json.RawMessage(`{"a": 1}`))
	assert.ErrorIs(t, err, ErrNotStrings)

	_, err = Strings(json.RawMessage(`[1, `))
	assert.Error(t, err)
}
