package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence with prose", "Here is the result:\n```json\n{\"a\": 1}\n```\nLet me know!", `{"a": 1}`},
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"whitespace only trim", "  \n{\"a\": 1}\n  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripFences(tt.input))
		})
	}
}

func TestRepairJSONTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, RepairJSON(`{"a": 1,}`))
	assert.Equal(t, `[1, 2]`, RepairJSON(`[1, 2,]`))
	assert.Equal(t, `{"a": [1, 2]}`, RepairJSON(`{"a": [1, 2,],}`))
}

func TestRepairJSONExtractsOutermost(t *testing.T) {
	input := `The summary follows. {"title": "T", "nested": {"k": "v"}} Hope this helps.`
	assert.Equal(t, `{"title": "T", "nested": {"k": "v"}}`, RepairJSON(input))
}

func TestRepairJSONRespectsStringLiterals(t *testing.T) {
	input := `{"answer": "use struct{} as a set value", "quote": "he said \"hi\"", "brace": "}"}`
	assert.Equal(t, input, RepairJSON(input))
}

func TestParseJSONResponseDirect(t *testing.T) {
	var out map[string]int
	require.NoError(t, ParseJSONResponse(`{"a": 1}`, &out))
	assert.Equal(t, 1, out["a"])
}

func TestParseJSONResponseFencedWithTrailingComma(t *testing.T) {
	response := "```json\n{\"questions\": [{\"question\": \"Q?\", \"answer\": \"A.\", \"icon\": \"💡\"},],}\n```"

	var out QuestionsResponse
	require.NoError(t, ParseJSONResponse(response, &out))
	require.Len(t, out.Questions, 1)
	assert.Equal(t, "Q?", out.Questions[0].Question)
	assert.Equal(t, "💡", out.Questions[0].Icon)
}

func TestParseJSONResponseProseWrapped(t *testing.T) {
	response := `Sure! Here is the JSON you asked for:

{"title": "Go Maps", "summary": "All about maps.", "key_points": ["fast lookups"]}

Anything else?`

	var out SummaryResponse
	require.NoError(t, ParseJSONResponse(response, &out))
	assert.Equal(t, "Go Maps", out.Title)
	assert.Equal(t, []string{"fast lookups"}, out.KeyPoints)
}

func TestParseJSONResponseUnrepairable(t *testing.T) {
	var out map[string]interface{}
	err := ParseJSONResponse("the model refused to answer", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestParseJSONResponseEmpty(t *testing.T) {
	var out map[string]interface{}
	err := ParseJSONResponse("```json\n```", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
