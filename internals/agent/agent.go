// Package agent runs one conversational round-trip: it assembles the window,
// calls the model, executes the tools it asks for and commits the turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jadenj13/analyst/internals/conversation"
	"github.com/jadenj13/analyst/internals/store"
	"github.com/jadenj13/analyst/internals/tools"
)

var (
	ErrIterationLimit = errors.New("tool loop exceeded iteration limit")
	ErrEmptyQuery     = errors.New("query cannot be empty")
)

type Model interface {
	Complete(ctx context.Context, msgs []conversation.Message, tools []mcp.Tool) (conversation.Message, error)
}

type History interface {
	Read(ctx context.Context, key string) ([]conversation.Message, error)
	Append(ctx context.Context, key string, msgs ...conversation.Message) error
	Info(ctx context.Context, key string) (store.Info, error)
}

type Tools interface {
	Specs() []mcp.Tool
	Execute(ctx context.Context, name string, args json.RawMessage) tools.Result
}

type Config struct {
	MaxIterations   int
	MaxHistoryTurns int
	RequestTimeout  time.Duration
}

type Agent struct {
	model        Model
	history      History
	tools        Tools
	instructions conversation.Message
	cfg          Config
	locks        *sessionLocks
	log          *slog.Logger
	now          func() time.Time
}

func NewAgent(model Model, history History, tools Tools, instructions string, cfg Config, log *slog.Logger) *Agent {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 15
	}
	return &Agent{
		model:        model,
		history:      history,
		tools:        tools,
		instructions: conversation.NewInstruction(instructions),
		cfg:          cfg,
		locks:        newSessionLocks(),
		log:          log,
		now:          time.Now,
	}
}

// Handle answers text within the session key. Requests on one session run
// one at a time. The round-trip is detached from the caller's cancellation
// and bounded by the request timeout; nothing is stored unless the turn
// completes.
func (a *Agent) Handle(ctx context.Context, key, text string) (conversation.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Result{}, ErrEmptyQuery
	}

	ctx = context.WithoutCancel(ctx)
	if a.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
	}

	unlock, err := a.locks.lock(ctx, key)
	if err != nil {
		return conversation.Result{}, fmt.Errorf("wait for session %s: %w", key, err)
	}
	defer unlock()

	past, err := a.history.Read(ctx, key)
	if err != nil {
		return conversation.Result{}, fmt.Errorf("read history: %w", err)
	}

	user := conversation.NewUserMessage(text)
	user.CreatedAt = a.now().UTC()
	working := append(past[:len(past):len(past)], user)

	working, err = a.runLoop(ctx, key, working)
	if err != nil {
		return conversation.Result{}, err
	}

	if err := a.history.Append(ctx, key, working[len(past):]...); err != nil {
		return conversation.Result{}, fmt.Errorf("commit turn: %w", err)
	}
	return conversation.Extract(working), nil
}

func (a *Agent) runLoop(ctx context.Context, key string, working []conversation.Message) ([]conversation.Message, error) {
	specs := a.tools.Specs()

	for i := range a.cfg.MaxIterations {
		window := conversation.Assemble(working, a.cfg.MaxHistoryTurns, a.instructions)
		if err := conversation.Validate(window); err != nil {
			return nil, fmt.Errorf("assemble window (iter %d): %w", i, err)
		}

		reply, err := a.model.Complete(ctx, window, specs)
		if err != nil {
			return nil, fmt.Errorf("llm (iter %d): %w", i, err)
		}
		reply.Role = conversation.RoleAssistant
		reply.CreatedAt = a.now().UTC()
		working = append(working, reply)

		if !reply.IsToolDispatch() {
			return working, nil
		}

		a.log.Info("executing tools", "session", key, "count", len(reply.ToolCalls), "iter", i)
		for _, tc := range reply.ToolCalls {
			res := a.tools.Execute(ctx, tc.Name, tc.Arguments)
			msg := conversation.NewToolResult(tc, res.Kind, res.Content, res.Artifacts)
			msg.CreatedAt = a.now().UTC()
			working = append(working, msg)
			a.log.Debug("tool executed", "session", key, "tool", tc.Name, "bytes", len(res.Content), "artifacts", len(res.Artifacts))
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrIterationLimit, a.cfg.MaxIterations)
}

type Response struct {
	Success    bool                          `json:"success"`
	SessionID  string                        `json:"session_id"`
	TextOutput string                        `json:"text_output"`
	Plots      []string                      `json:"plots"`
	ToolCalls  []conversation.ToolCallRecord `json:"tool_calls"`
	Error      *string                       `json:"error"`
	Timestamp  time.Time                     `json:"timestamp"`
}

// Analyze is Handle shaped for the HTTP and job layers. A blank sessionID
// starts a new session; failures are reported in the response.
func (a *Agent) Analyze(ctx context.Context, sessionID, query string) Response {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := Response{
		SessionID: sessionID,
		Plots:     []string{},
		ToolCalls: []conversation.ToolCallRecord{},
	}

	start := a.now()
	res, err := a.Handle(ctx, sessionID, query)
	resp.Timestamp = a.now().UTC()
	if err != nil {
		a.log.Error("analyze failed", "session", sessionID, "err", err)
		msg := err.Error()
		resp.Error = &msg
		return resp
	}
	a.log.Info("analyze finished", "session", sessionID, "tools", len(res.ToolCalls), "plots", len(res.Artifacts), "took", a.now().Sub(start))

	resp.Success = true
	resp.TextOutput = res.FinalText
	resp.Plots = res.Artifacts
	resp.ToolCalls = res.ToolCalls
	return resp
}

// SessionInfo reports the stored size of a session. Read failures are
// logged and reported as an empty session.
func (a *Agent) SessionInfo(ctx context.Context, sessionID string) store.Info {
	info, err := a.history.Info(ctx, sessionID)
	if err != nil {
		a.log.Warn("session info failed", "session", sessionID, "err", err)
		return store.Info{SessionID: sessionID}
	}
	return info
}
