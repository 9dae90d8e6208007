package conversation

import (
	"bytes"
	"encoding/json"
)

const (
	// CodeResultLimit caps the code-execution result kept for past rounds.
	CodeResultLimit = 500
	// TruncationMarker is appended wherever text was cut.
	TruncationMarker = "…"
)

// Compress returns a reduced copy of m for transmission. Tool results keep
// the facts the model already learned and drop the bulk; assistant tool
// dispatches keep only their tool calls. Everything else is returned as is,
// and so is any payload that does not parse.
func Compress(m Message) Message {
	switch m.Role {
	case RoleTool:
		return compressToolResult(m)
	case RoleAssistant:
		if !m.IsToolDispatch() {
			return m
		}
		m.Content = ""
		m.Blocks = nil
		return m
	default:
		return m
	}
}

func compressToolResult(m Message) Message {
	var (
		content string
		err     error
	)
	switch m.Kind {
	case KindSchema:
		content, err = compactSchema(m.Content)
	case KindQuery:
		content, err = compactQuery(m.Content)
	case KindCode:
		content, err = compactCode(m.Content)
	default:
		return m
	}
	if err != nil {
		return m
	}
	m.Content = content
	return m
}

type schemaTable struct {
	Table   string            `json:"table"`
	Columns []json.RawMessage `json:"columns"`
}

type compactTable struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

// compactSchema accepts columns either as plain names or as {name, type}
// objects and keeps the names only.
func compactSchema(content string) (string, error) {
	var tables []schemaTable
	if err := json.Unmarshal([]byte(content), &tables); err != nil {
		return "", err
	}
	out := make([]compactTable, 0, len(tables))
	for _, t := range tables {
		names := make([]string, 0, len(t.Columns))
		for _, raw := range t.Columns {
			name, err := columnName(raw)
			if err != nil {
				return "", err
			}
			names = append(names, name)
		}
		out = append(out, compactTable{Table: t.Table, Columns: names})
	}
	return marshalCompact(out)
}

func columnName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, nil
	}
	var col struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &col); err != nil {
		return "", err
	}
	return col.Name, nil
}

type compactQueryResult struct {
	Success  *bool    `json:"success"`
	RowCount *int     `json:"row_count"`
	Columns  []string `json:"columns"`
	ResultID string   `json:"result_id,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func compactQuery(content string) (string, error) {
	var q compactQueryResult
	if err := json.Unmarshal([]byte(content), &q); err != nil {
		return "", err
	}
	return marshalCompact(q)
}

type compactCodeResult struct {
	Success *bool  `json:"success"`
	Result  string `json:"result"`
}

func compactCode(content string) (string, error) {
	var raw struct {
		Success *bool   `json:"success"`
		Result  *string `json:"result"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return "", err
	}
	out := compactCodeResult{Success: raw.Success}
	if raw.Result != nil {
		out.Result = Truncate(*raw.Result, CodeResultLimit)
	}
	return marshalCompact(out)
}

// Truncate cuts s to limit runes and appends TruncationMarker when it did.
// Truncate(Truncate(s, n), n) == Truncate(s, n).
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + TruncationMarker
}

func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
