package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var instructions = NewInstruction("you are an analyst")

func TestAssembleSlidesByTurns(t *testing.T) {
	msgs := append(session(11), user("question 12"))

	got := Assemble(msgs, 5, instructions)

	require.NotEmpty(t, got)
	assert.Equal(t, instructions, got[0])
	assert.Equal(t, "question 8", got[1].Content)
	assert.Equal(t, 5, CountTurns(got))
	assert.Equal(t, "question 12", got[len(got)-1].Content)
}

func TestAssembleCompressesPastTurns(t *testing.T) {
	msgs := append(session(2), user("question 3"))

	got := Assemble(msgs, 10, instructions)

	require.Len(t, got, len(msgs)+1)
	for i, m := range got[1:] {
		orig := msgs[i]
		switch {
		case orig.Role == RoleTool:
			assert.Equal(t, Compress(orig), m)
			assert.NotContains(t, m.Content, "preview")
		case orig.IsToolDispatch():
			assert.Empty(t, m.Content)
			assert.Equal(t, orig.ToolCalls, m.ToolCalls)
		default:
			assert.Equal(t, orig, m)
		}
	}
}

func TestAssembleKeepsLatestToolResultVerbatim(t *testing.T) {
	schema := call("s1", "list_tables", nil)
	query := call("q1", "clickhouse_query", map[string]any{"sql": "SELECT date, revenue FROM visits"})

	msgs := append(session(1),
		user("revenue by day"),
		dispatch("look up the schema", schema),
		result(schema, KindSchema, schemaPayload),
		dispatch("now query", query),
		result(query, KindQuery, queryPayload),
	)
	turnStart := 4

	got := Assemble(msgs, 10, instructions)[1:]

	assert.Equal(t, Compress(msgs[turnStart+2]), got[turnStart+2], "schema lookup is consumed")
	assert.NotContains(t, got[turnStart+2].Content, "Float64")
	assert.Equal(t, msgs[turnStart+4], got[turnStart+4], "latest query stays verbatim")
	assert.Contains(t, got[turnStart+4].Content, "preview")

	// Reasoning of the current turn survives.
	assert.Equal(t, "look up the schema", got[turnStart+1].Content)
	assert.Equal(t, "now query", got[turnStart+3].Content)
}

func TestAssembleParallelCallsInLastDispatchStayVerbatim(t *testing.T) {
	a := call("a", "clickhouse_query", map[string]any{"sql": "SELECT 1"})
	b := call("b", "clickhouse_query", map[string]any{"sql": "SELECT 2"})
	msgs := []Message{
		user("compare"),
		dispatch("", a, b),
		result(a, KindQuery, queryPayload),
		result(b, KindQuery, queryPayload),
	}

	got := Assemble(msgs, 3, instructions)[1:]
	assert.Equal(t, msgs, got)
}

func TestAssembleDoesNotMutateInput(t *testing.T) {
	msgs := append(session(3), user("question 4"))
	before := make([]Message, len(msgs))
	copy(before, msgs)

	_ = Assemble(msgs, 2, instructions)

	assert.Equal(t, before, msgs)
}

func TestAssembleIsDeterministic(t *testing.T) {
	msgs := append(session(6), user("question 7"))
	first := Assemble(msgs, 4, instructions)
	for range 5 {
		assert.Equal(t, first, Assemble(msgs, 4, instructions))
	}
}

func TestAssembleWindowMonotonic(t *testing.T) {
	msgs := append(session(9), user("question 10"))

	bySeq := func(w []Message) map[int64]bool {
		set := map[int64]bool{}
		for _, m := range w[1:] {
			set[m.Seq] = true
		}
		return set
	}

	for small := 1; small <= 12; small++ {
		for large := small; large <= 12; large++ {
			kept := bySeq(Assemble(msgs, large, instructions))
			for seq := range bySeq(Assemble(msgs, small, instructions)) {
				assert.True(t, kept[seq], "max_turns %d dropped seq %d kept by %d", large, seq, small)
			}
		}
	}
}

func TestAssemblePreservesPairing(t *testing.T) {
	var msgs []Message
	for i := 1; i <= 8; i++ {
		a := call(fmt.Sprintf("a%d", i), "list_tables", nil)
		b := call(fmt.Sprintf("b%d", i), "clickhouse_query", map[string]any{"sql": "SELECT 1"})
		c := call(fmt.Sprintf("c%d", i), "python_analysis", map[string]any{"code": "result = 1"})
		msgs = append(msgs,
			user(fmt.Sprintf("q%d", i)),
			dispatch("", a),
			result(a, KindSchema, schemaPayload),
			dispatch("", b, c),
			result(b, KindQuery, queryPayload),
			result(c, KindCode, codePayload),
			answer("done"),
		)
	}
	require.NoError(t, Validate(msgs))

	for n := 0; n <= 10; n++ {
		for end := 1; end <= len(msgs); end++ {
			prefix := msgs[:end]
			if Validate(prefix) != nil {
				// Mid-dispatch prefixes are never transmitted.
				continue
			}
			assert.NoError(t, Validate(Assemble(prefix, n, instructions)), "max_turns %d prefix %d", n, end)
		}
	}
}
