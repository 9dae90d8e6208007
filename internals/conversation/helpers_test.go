package conversation

import (
	"encoding/json"
	"fmt"
)

const (
	schemaPayload = `[{"table":"visits","columns":[{"name":"date","type":"Date"},{"name":"revenue","type":"Float64"}]},{"table":"orders","columns":[{"name":"id","type":"UInt64"}]}]`
	queryPayload  = `{"success":true,"row_count":1200,"columns":["date","revenue"],"dtypes":{"date":"Date","revenue":"Float64"},"preview":[{"date":"2025-01-01","revenue":10.5}],"result_id":"query_0123456789_1700000000"}`
	codePayload   = `{"success":true,"output":"step 1\nstep 2\n","result":"## Revenue\n| a | b |","error":null}`
)

func user(text string) Message { return NewUserMessage(text) }

func answer(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

func dispatch(reasoning string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: reasoning, ToolCalls: calls}
}

func call(id, name string, args map[string]any) ToolCall {
	raw, _ := json.Marshal(args)
	return ToolCall{ID: id, Name: name, Arguments: raw}
}

func result(c ToolCall, kind Kind, content string, artifacts ...string) Message {
	return NewToolResult(c, kind, content, artifacts)
}

// session builds n complete turns, each with one query round-trip.
func session(n int) []Message {
	var msgs []Message
	for i := 1; i <= n; i++ {
		c := call(fmt.Sprintf("call-%d", i), "clickhouse_query", map[string]any{"sql": "SELECT 1"})
		msgs = append(msgs,
			user(fmt.Sprintf("question %d", i)),
			dispatch(fmt.Sprintf("thinking %d", i), c),
			result(c, KindQuery, queryPayload),
			answer(fmt.Sprintf("answer %d", i)),
		)
	}
	for i := range msgs {
		msgs[i].Seq = int64(i + 1)
	}
	return msgs
}
