// Package tools defines the tools offered to the model and executes the calls
// it makes. Every result carries the Kind tag that drives its later
// compression.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jadenj13/analyst/internals/conversation"
	"github.com/jadenj13/analyst/internals/resultset"
	"github.com/jadenj13/analyst/internals/sandbox"
	"github.com/jadenj13/analyst/internals/warehouse"
)

const (
	ListTables      = "list_tables"
	ClickHouseQuery = "clickhouse_query"
	PythonAnalysis  = "python_analysis"
)

var toolListTables = mcp.NewTool(ListTables,
	mcp.WithDescription("List every table of the ClickHouse database with its columns and types. "+
		"The schema is already in your instructions; call this only when a table seems missing."),
)

var toolClickHouseQuery = mcp.NewTool(ClickHouseQuery,
	mcp.WithDescription("Run a read-only SELECT against ClickHouse. Returns row_count, columns, dtypes, "+
		"a preview of the first rows and a result_id. Pass the result_id to python_analysis to work "+
		"with the full result. Push aggregations into SQL; a LIMIT is added when missing."),
	mcp.WithString("sql",
		mcp.Required(),
		mcp.Description("A single ClickHouse SELECT statement."),
	),
)

var toolPythonAnalysis = mcp.NewTool(PythonAnalysis,
	mcp.WithDescription("Run Python over a saved query result. The rows are loaded as the pandas "+
		"DataFrame df; pd, np, plt and sns are imported. Set result to a Markdown string for the "+
		"answer; print() output is returned; every matplotlib figure is captured as a chart."),
	mcp.WithString("code",
		mcp.Required(),
		mcp.Description("Python code working on df. Do not read files."),
	),
	mcp.WithString("result_id",
		mcp.Required(),
		mcp.Description("The result_id returned by clickhouse_query."),
	),
)

// Specs returns the tool specifications in the order they are offered.
func Specs() []mcp.Tool {
	return []mcp.Tool{toolListTables, toolClickHouseQuery, toolPythonAnalysis}
}

type Warehouse interface {
	ListTables(ctx context.Context) ([]warehouse.Table, error)
	Query(ctx context.Context, sql string) (*warehouse.QueryResult, error)
}

type Sandbox interface {
	Run(ctx context.Context, in sandbox.Input) (*sandbox.Outcome, error)
}

type ResultSets interface {
	Load(id string) (*resultset.Set, error)
}

type Result struct {
	Content   string
	Kind      conversation.Kind
	Artifacts []string
}

type Registry struct {
	warehouse Warehouse
	sandbox   Sandbox
	results   ResultSets
	log       *slog.Logger
}

func NewRegistry(wh Warehouse, sb Sandbox, results ResultSets, log *slog.Logger) *Registry {
	return &Registry{warehouse: wh, sandbox: sb, results: results, log: log}
}

func (r *Registry) Specs() []mcp.Tool {
	return Specs()
}

// Execute runs one tool call. It never fails: problems are reported to the
// model as {"success": false, "error": ...} content.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	switch name {
	case ListTables:
		return r.listTables(ctx)
	case ClickHouseQuery:
		return r.query(ctx, args)
	case PythonAnalysis:
		return r.analyze(ctx, args)
	default:
		return failure(conversation.KindNone, fmt.Errorf("unknown tool: %s", name), nil)
	}
}

func (r *Registry) listTables(ctx context.Context) Result {
	tables, err := r.warehouse.ListTables(ctx)
	if err != nil {
		r.log.Warn("list tables failed", "err", err)
		return failure(conversation.KindSchema, err, nil)
	}
	if tables == nil {
		tables = []warehouse.Table{}
	}
	return encode(conversation.KindSchema, tables, nil)
}

type queryInput struct {
	SQL string `json:"sql"`
}

type querySuccess struct {
	Success bool `json:"success"`
	*warehouse.QueryResult
}

func (r *Registry) query(ctx context.Context, args json.RawMessage) Result {
	var in queryInput
	if err := decodeArgs(args, &in); err != nil {
		return failure(conversation.KindQuery, err, nil)
	}
	if strings.TrimSpace(in.SQL) == "" {
		return failure(conversation.KindQuery, errors.New("sql is required"), nil)
	}

	res, err := r.warehouse.Query(ctx, in.SQL)
	if err != nil {
		extra := map[string]any{}
		var qe *warehouse.QueryError
		if errors.As(err, &qe) {
			extra["sql"] = qe.SQL
		}
		r.log.Info("query failed", "err", err)
		return failure(conversation.KindQuery, err, extra)
	}
	return encode(conversation.KindQuery, querySuccess{Success: true, QueryResult: res}, nil)
}

type analysisInput struct {
	Code     string `json:"code"`
	ResultID string `json:"result_id"`
}

type analysisContent struct {
	Success bool    `json:"success"`
	Output  string  `json:"output"`
	Result  *string `json:"result"`
	Error   *string `json:"error"`
}

func (r *Registry) analyze(ctx context.Context, args json.RawMessage) Result {
	var in analysisInput
	if err := decodeArgs(args, &in); err != nil {
		return failure(conversation.KindCode, err, nil)
	}
	if strings.TrimSpace(in.Code) == "" {
		return failure(conversation.KindCode, errors.New("code is required"), nil)
	}

	set, err := r.results.Load(strings.TrimSpace(in.ResultID))
	if err != nil {
		if errors.Is(err, resultset.ErrNotFound) {
			err = fmt.Errorf("%w; it may have expired, run clickhouse_query again", err)
		}
		return failure(conversation.KindCode, err, nil)
	}

	out, err := r.sandbox.Run(ctx, sandbox.Input{Code: in.Code, Columns: set.Columns, Rows: set.Rows})
	if err != nil {
		r.log.Error("sandbox failed", "err", err)
		return failure(conversation.KindCode, err, nil)
	}

	content := analysisContent{Success: out.Success, Output: out.Output, Result: out.Result}
	if out.Error != "" {
		content.Error = &out.Error
	}
	return encode(conversation.KindCode, content, out.Plots)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func encode(kind conversation.Kind, v any, artifacts []string) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return failure(kind, fmt.Errorf("encode result: %w", err), nil)
	}
	return Result{Content: string(b), Kind: kind, Artifacts: artifacts}
}

func failure(kind conversation.Kind, err error, extra map[string]any) Result {
	body := map[string]any{"success": false, "error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return Result{Content: string(b), Kind: kind}
}
