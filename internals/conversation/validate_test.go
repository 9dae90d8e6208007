package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	a := call("a", "list_tables", nil)
	b := call("b", "clickhouse_query", nil)

	tests := []struct {
		name    string
		msgs    []Message
		wantErr error
	}{
		{
			name: "complete session",
			msgs: session(3),
		},
		{
			name: "instruction is ignored",
			msgs: append([]Message{instructions}, session(1)...),
		},
		{
			name: "parallel calls answered out of order",
			msgs: []Message{user("q"), dispatch("", a, b), result(b, KindQuery, "{}"), result(a, KindSchema, "[]"), answer("ok")},
		},
		{
			name:    "missing result before answer",
			msgs:    []Message{user("q"), dispatch("", a, b), result(a, KindSchema, "[]"), answer("ok")},
			wantErr: ErrUnpairedToolCall,
		},
		{
			name:    "missing result at end",
			msgs:    []Message{user("q"), dispatch("", a)},
			wantErr: ErrUnpairedToolCall,
		},
		{
			name:    "result without call",
			msgs:    []Message{user("q"), result(a, KindSchema, "[]")},
			wantErr: ErrOrphanToolResult,
		},
		{
			name:    "duplicate result",
			msgs:    []Message{user("q"), dispatch("", a), result(a, KindSchema, "[]"), result(a, KindSchema, "[]")},
			wantErr: ErrOrphanToolResult,
		},
		{
			name:    "result names another tool",
			msgs:    []Message{user("q"), dispatch("", a), result(call("a", "clickhouse_query", nil), KindQuery, "{}")},
			wantErr: ErrToolNameMismatch,
		},
		{
			name:    "result crosses a user message",
			msgs:    []Message{user("q"), dispatch("", a), user("again"), result(a, KindSchema, "[]")},
			wantErr: ErrUnpairedToolCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msgs)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
