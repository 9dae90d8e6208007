// Package conversation holds the message model of an analytics session and the
// context manager that decides what part of it is sent to the model.
//
// The stored log is never modified here. Every function derives a new view.
package conversation

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleTool        Role = "tool"
	RoleInstruction Role = "instruction"
)

// Kind tags the payload of a tool-result message. It is decided by the tool
// that produced the message and drives compression.
type Kind string

const (
	KindNone   Kind = ""
	KindSchema Kind = "schema"
	KindQuery  Kind = "query"
	KindCode   Kind = "code"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Block is one element of structured content. Only "text" blocks carry
// text the model or the user should read.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Message struct {
	Seq        int64      `json:"seq"`
	Role       Role       `json:"role"`
	Kind       Kind       `json:"kind,omitempty"`
	Content    string     `json:"content,omitempty"`
	Blocks     []Block    `json:"blocks,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	// Artifacts never reach the model. They are data URIs surfaced to the
	// caller through Extract.
	Artifacts []string  `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func NewInstruction(text string) Message {
	return Message{Role: RoleInstruction, Content: text}
}

func NewToolResult(call ToolCall, kind Kind, content string, artifacts []string) Message {
	return Message{
		Role:       RoleTool,
		Kind:       kind,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Artifacts:  artifacts,
	}
}

// Text returns the readable text of the message. Structured content wins
// over Content; non-text blocks are skipped.
func (m Message) Text() string {
	if m.Blocks == nil {
		return m.Content
	}
	parts := make([]string, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m Message) IsToolDispatch() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

func (m Message) IsFinalAnswer() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) == 0
}
