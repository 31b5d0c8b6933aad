package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePlan struct {
	Plan       string `json:"plan"`
	IsComplete bool   `json:"is_complete"`
	Response   string `json:"response"`
}

func fallbackPlan(raw string, _ error) samplePlan {
	return samplePlan{Plan: "Direct response", IsComplete: true, Response: raw}
}

func TestDecodeFencedBlock(t *testing.T) {
	raw := "Explanation ```json {\"plan\":\"p\",\"is_complete\":true,\"response\":\"r\"} ``` "
	got := Decode(raw, fallbackPlan)

	require.False(t, got.Fallback)
	require.NoError(t, got.Err)
	assert.Equal(t, samplePlan{Plan: "p", IsComplete: true, Response: "r"}, got.Value)
}

func TestDecodeBraceSpan(t *testing.T) {
	raw := `Sure! {"plan":"check mail","is_complete":false} hope this helps`
	got := Decode(raw, fallbackPlan)

	require.False(t, got.Fallback)
	assert.Equal(t, "check mail", got.Value.Plan)
	assert.False(t, got.Value.IsComplete)
}

func TestDecodeFallsBackWithoutBraces(t *testing.T) {
	raw := "I can answer that directly: it is sunny."
	got := Decode(raw, fallbackPlan)

	require.True(t, got.Fallback)
	assert.ErrorIs(t, got.Err, ErrNoJSON)
	assert.True(t, got.Value.IsComplete)
	assert.Equal(t, raw, got.Value.Response)
}

func TestDecodeFallsBackOnInvalidJSON(t *testing.T) {
	got := Decode(`{"plan": "unterminated}`, fallbackPlan)
	require.True(t, got.Fallback)
	assert.Error(t, got.Err)
}

func TestExtractJSONUnclosedFence(t *testing.T) {
	fragment, err := ExtractJSON("```json\n{\"a\":1}\n")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, fragment)
}
