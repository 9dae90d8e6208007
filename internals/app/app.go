// Package app wires the analyst components together from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jadenj13/analyst/internals/agent"
	"github.com/jadenj13/analyst/internals/api"
	"github.com/jadenj13/analyst/internals/config"
	"github.com/jadenj13/analyst/internals/jobs"
	"github.com/jadenj13/analyst/internals/llm"
	"github.com/jadenj13/analyst/internals/resultset"
	"github.com/jadenj13/analyst/internals/sandbox"
	"github.com/jadenj13/analyst/internals/store"
	"github.com/jadenj13/analyst/internals/tools"
	"github.com/jadenj13/analyst/internals/warehouse"
)

const (
	Service = "ClickHouse Analytics Agent"
	Version = "1.0.0"
)

var features = []string{
	"ClickHouse SELECT queries with results kept for follow-up analysis",
	"Python analysis over query results (pandas, numpy)",
	"Charts (matplotlib, seaborn) returned as base64 PNG",
	"Per-session conversation history in SQLite",
	"Context window compression for long analytical sessions",
	"Background jobs for long-running questions",
}

// Toolbox is the warehouse-facing half of the system: enough to execute
// tools without a model.
type Toolbox struct {
	Results   *resultset.Store
	Warehouse *warehouse.Client
	Sandbox   *sandbox.Runner
	Registry  *tools.Registry

	sweepEvery time.Duration
}

func NewToolbox(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Toolbox, error) {
	results, err := resultset.New(cfg.ResultsDir(), cfg.Storage.ResultTTL, log)
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.Open(ctx, warehouse.Config{
		Host:     cfg.ClickHouse.Host,
		Port:     cfg.ClickHouse.Port,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
		Database: cfg.ClickHouse.Database,
		Secure:   cfg.ClickHouse.Secure,
		CACert:   cfg.ClickHouse.CACert,
		RowLimit: cfg.ClickHouse.RowLimit,
	}, results, log)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	sb := sandbox.New(sandbox.Config{
		Python:      cfg.Sandbox.Python,
		Timeout:     cfg.Sandbox.Timeout,
		Concurrency: cfg.Sandbox.Concurrency,
	}, log)

	return &Toolbox{
		Results:   results,
		Warehouse: wh,
		Sandbox:   sb,
		Registry:  tools.NewRegistry(wh, sb, results, log),

		sweepEvery: cfg.Storage.CleanupInterval,
	}, nil
}

// RunSweeper removes expired result sets until ctx is done.
func (t *Toolbox) RunSweeper(ctx context.Context) error {
	if t.sweepEvery <= 0 {
		<-ctx.Done()
		return nil
	}
	return t.Results.Run(ctx, t.sweepEvery)
}

func (t *Toolbox) Close() error {
	return t.Warehouse.Close()
}

type App struct {
	Config  *config.Config
	Toolbox *Toolbox
	History *store.SQLite
	Model   llm.Client
	Agent   *agent.Agent
	Jobs    *jobs.Queue
	log     *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.ValidateModel(); err != nil {
		return nil, err
	}

	model, err := llm.New(llm.Config{
		Provider:  cfg.Model.Provider,
		Model:     cfg.Model.Name,
		APIKey:    cfg.Model.APIKey,
		BaseURL:   cfg.Model.BaseURL,
		MaxTokens: cfg.Model.MaxTokens,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	history, err := store.OpenSQLite(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	tb, err := NewToolbox(ctx, cfg, log)
	if err != nil {
		history.Close()
		return nil, err
	}

	instructions := agent.BuildInstructions(ctx, tb.Warehouse, log)
	ag := agent.NewAgent(model, history, tb.Registry, instructions, agent.Config{
		MaxIterations:   cfg.Agent.MaxIterations,
		MaxHistoryTurns: cfg.Agent.MaxHistoryTurns,
		RequestTimeout:  cfg.Agent.RequestTimeout,
	}, log)

	queue := jobs.New(ag, jobs.Config{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		TTL:       cfg.Jobs.TTL,
	}, log)

	log.Info("analyst ready",
		"model", model.Name(),
		"db", cfg.DBPath(),
		"clickhouse", cfg.ClickHouse.Host,
		"max_history_turns", cfg.Agent.MaxHistoryTurns,
	)

	return &App{
		Config:  cfg,
		Toolbox: tb,
		History: history,
		Model:   model,
		Agent:   ag,
		Jobs:    queue,
		log:     log,
	}, nil
}

func (a *App) Handler() http.Handler {
	return api.NewServer(a.Agent, a.History, a.Jobs, api.Info{
		Service:   Service,
		Version:   Version,
		Model:     a.Model.Name(),
		ServerURL: a.Config.Server.URL,
		Features:  features,
	}, a.log).Handler()
}

func (a *App) Close() error {
	return errors.Join(a.Toolbox.Close(), a.History.Close())
}
