package conversation

import (
	"encoding/json"
	"strings"
)

// ArgumentLimit caps string arguments recorded in the tool call log.
const ArgumentLimit = 300

type ToolCallRecord struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Result is what a completed turn hands back to the caller.
type Result struct {
	FinalText string           `json:"text_output"`
	Artifacts []string         `json:"plots"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

// Extract pulls the answer, the artifacts and the tool call audit trail out
// of the current turn of msgs.
func Extract(msgs []Message) Result {
	turn := CurrentTurn(msgs)
	res := Result{
		Artifacts: []string{},
		ToolCalls: []ToolCallRecord{},
	}

	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].IsFinalAnswer() {
			res.FinalText = strings.TrimSpace(turn[i].Text())
			break
		}
	}

	for _, m := range turn {
		switch m.Role {
		case RoleTool:
			res.Artifacts = append(res.Artifacts, m.Artifacts...)
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
					Tool:  tc.Name,
					Input: compactArguments(tc.Arguments),
				})
			}
		}
	}
	return res
}

func compactArguments(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": Truncate(string(raw), ArgumentLimit)}
	}
	if args == nil {
		return map[string]any{}
	}
	for k, v := range args {
		if s, ok := v.(string); ok {
			args[k] = Truncate(s, ArgumentLimit)
		}
	}
	return args
}
