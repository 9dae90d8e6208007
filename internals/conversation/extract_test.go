package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFinalAnswerOnly(t *testing.T) {
	msgs := append(session(1), user("hi"), answer("  Hello there.\n"))

	res := Extract(msgs)

	assert.Equal(t, "Hello there.", res.FinalText)
	assert.Empty(t, res.ToolCalls)
	assert.Empty(t, res.Artifacts)
}

func TestExtractCurrentTurnOnly(t *testing.T) {
	old := call("old", "python_analysis", map[string]any{"code": "plt.plot()"})
	sql := call("q", "clickhouse_query", map[string]any{"sql": "SELECT 1"})
	code := call("p", "python_analysis", map[string]any{"code": strings.Repeat("x", 400), "result_id": "query_a_1"})

	msgs := []Message{
		user("first"),
		dispatch("", old),
		result(old, KindCode, codePayload, "data:image/png;base64,OLD"),
		answer("first answer"),
		user("second"),
		dispatch("querying", sql),
		result(sql, KindQuery, queryPayload),
		dispatch("plotting", code),
		result(code, KindCode, codePayload, "data:image/png;base64,A", "data:image/png;base64,B"),
		{Role: RoleAssistant, Blocks: []Block{
			{Type: "text", Text: "## Revenue"},
			{Type: "image"},
			{Type: "text", Text: "Up 10%."},
		}},
	}

	res := Extract(msgs)

	assert.Equal(t, "## Revenue\nUp 10%.", res.FinalText)
	assert.Equal(t, []string{"data:image/png;base64,A", "data:image/png;base64,B"}, res.Artifacts)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "clickhouse_query", res.ToolCalls[0].Tool)
	assert.Equal(t, "SELECT 1", res.ToolCalls[0].Input["sql"])
	assert.Equal(t, "python_analysis", res.ToolCalls[1].Tool)
	assert.Equal(t, strings.Repeat("x", ArgumentLimit)+TruncationMarker, res.ToolCalls[1].Input["code"])
	assert.Equal(t, "query_a_1", res.ToolCalls[1].Input["result_id"])
}

func TestExtractWithoutFinalAnswer(t *testing.T) {
	c := call("c", "list_tables", nil)
	res := Extract([]Message{user("q"), dispatch("", c), result(c, KindSchema, schemaPayload)})

	assert.Empty(t, res.FinalText)
	require.Len(t, res.ToolCalls, 1)
	assert.Empty(t, res.ToolCalls[0].Input)
}

func TestExtractEmpty(t *testing.T) {
	res := Extract(nil)
	assert.Empty(t, res.FinalText)
	assert.NotNil(t, res.Artifacts)
	assert.NotNil(t, res.ToolCalls)
}

func TestExtractMalformedArguments(t *testing.T) {
	c := ToolCall{ID: "c", Name: "clickhouse_query", Arguments: []byte(`"SELECT 1"`)}
	res := Extract([]Message{user("q"), dispatch("", c)})

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, `"SELECT 1"`, res.ToolCalls[0].Input["raw"])
}
