// Package mcpserver exposes the analytics tools over the Model Context
// Protocol so that external agents can query the warehouse directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jadenj13/analyst/internals/sandbox"
	"github.com/jadenj13/analyst/internals/tools"
)

const Name = "clickhouse-analyst"

type Executor interface {
	Specs() []mcp.Tool
	Execute(ctx context.Context, name string, args json.RawMessage) tools.Result
}

type Server struct {
	mcp *server.MCPServer
	log *slog.Logger
}

func New(exec Executor, version string, log *slog.Logger) *Server {
	s := server.NewMCPServer(Name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, spec := range exec.Specs() {
		s.AddTool(spec, handler(exec, spec.Name, log))
	}
	return &Server{mcp: s, log: log}
}

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	s.log.Info("mcp server listening on stdio", "name", Name)
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// HandleMessage processes one JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) mcp.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, raw)
}

func handler(exec Executor, name string, log *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		log.Info("mcp tool call", "tool", name)
		return callResult(exec.Execute(ctx, name, args), log), nil
	}
}

func callResult(res tools.Result, log *slog.Logger) *mcp.CallToolResult {
	out := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(res.Content)},
		IsError: failed(res.Content),
	}
	for _, uri := range res.Artifacts {
		mediaType, payload, err := sandbox.SplitDataURI(uri)
		if err != nil {
			log.Warn("dropping artifact", "err", err)
			continue
		}
		out.Content = append(out.Content, mcp.NewImageContent(payload, mediaType))
	}
	return out
}

func failed(content string) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil || probe.Success == nil {
		return false
	}
	return !*probe.Success
}
