package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
)

func TestParseEnvelope(t *testing.T) {
	text := "Sure!\n```json\n" + `{
  "schema": "public.crm_complaint_dtls",
  "sql": "SELECT COUNT(*) FROM public.crm_complaint_dtls WHERE active_status = 'Y' LIMIT 50",
  "response": "Counts open complaints.",
  "follow_up": "Which plant has the most?",
  "confidence": 0.9
}` + "\n```"

	env, err := ParseEnvelope(text)
	require.NoError(t, err)
	assert.Equal(t, "public.crm_complaint_dtls", env.Schema)
	assert.Contains(t, env.SQL, "active_status = 'Y'")
	assert.Equal(t, "Counts open complaints.", env.Response)
	assert.Equal(t, []string{"Which plant has the most?"}, env.FollowUp)
}

func TestParseEnvelope_FlexibleFields(t *testing.T) {
	env, err := ParseEnvelope(`{"schema": ["public.a", "public.b"], "sql": "", "response": "Not in the data.", "follow_up": ["x", "", "y"]}`)
	require.NoError(t, err)
	assert.Equal(t, "public.a, public.b", env.Schema)
	assert.Empty(t, env.SQL)
	assert.Equal(t, []string{"x", "y"}, env.FollowUp)

	env, err = ParseEnvelope(`{"sql": "SELECT 1", "response": "r", "follow_up": null}`)
	require.NoError(t, err)
	assert.Nil(t, env.FollowUp)
}

func TestParseEnvelope_StripsSQLFence(t *testing.T) {
	env, err := ParseEnvelope(`{"sql": "` + "```sql\\nSELECT 1\\n```" + `", "response": "r"}`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", env.SQL)
}

func TestParseEnvelope_Malformed(t *testing.T) {
	for _, text := range []string{
		"I cannot help with that.",
		`{"response": "missing sql"}`,
		`{"sql": "SELECT 1"}`,
		`{"sql": 42, "response": "wrong type"}`,
	} {
		_, err := ParseEnvelope(text)
		require.Error(t, err, text)
		assert.Equal(t, apperrors.KindLLMMalformed, apperrors.KindOf(err), text)
	}
}
