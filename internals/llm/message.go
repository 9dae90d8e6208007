// Package llm adapts model providers to the conversation message model.
// Each client takes a transmitted sequence and returns one assistant message.
package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrEmptyResponse = errors.New("model returned no text and no tool calls")

// argumentsOrEmpty returns arguments as a value the provider SDKs serialize
// as a JSON object.
func argumentsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}

// normalizeArguments turns provider-supplied argument text into valid JSON.
// Text that is not JSON is kept under "raw" so the call is still logged.
func normalizeArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(map[string]string{"raw": s})
	return b
}
