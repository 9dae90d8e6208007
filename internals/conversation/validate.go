package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrUnpairedToolCall = errors.New("tool call without a tool result")
	ErrOrphanToolResult = errors.New("tool result without a matching tool call")
	ErrToolNameMismatch = errors.New("tool result names a different tool than its call")
)

// Validate checks that every tool call is answered by exactly one tool
// result before the next user or assistant message, and that every tool
// result answers an open call of the same tool. Instruction messages are
// ignored.
func Validate(msgs []Message) error {
	type pending struct {
		at   int
		name string
	}
	open := map[string]pending{}
	closeOpen := func(at int) error {
		for id, p := range open {
			return fmt.Errorf("message %d: call %q: %w (closed at %d)", p.at, id, ErrUnpairedToolCall, at)
		}
		return nil
	}

	for i, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant:
			if err := closeOpen(i); err != nil {
				return err
			}
			for _, tc := range m.ToolCalls {
				open[tc.ID] = pending{at: i, name: tc.Name}
			}
		case RoleTool:
			p, ok := open[m.ToolCallID]
			if !ok {
				return fmt.Errorf("message %d: call %q (%s): %w", i, m.ToolCallID, m.ToolName, ErrOrphanToolResult)
			}
			if m.ToolName != p.name {
				return fmt.Errorf("message %d: call %q: %s answered as %s: %w", i, m.ToolCallID, p.name, m.ToolName, ErrToolNameMismatch)
			}
			delete(open, m.ToolCallID)
		}
	}
	return closeOpen(len(msgs))
}
