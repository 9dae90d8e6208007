// Package sandbox runs model-written pandas code in a python subprocess with
// a loaded result set bound to df.
package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"
)

//go:embed harness.py
var harness string

// ErrorTail caps the traceback handed back to the model.
const ErrorTail = 1500

type Input struct {
	Code    string   `json:"code"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type Outcome struct {
	Success bool     `json:"success"`
	Output  string   `json:"output"`
	Result  *string  `json:"result"`
	Plots   []string `json:"plots"`
	Error   string   `json:"error,omitempty"`
}

type Config struct {
	Python      string
	Timeout     time.Duration
	Concurrency int64
}

type Runner struct {
	python  string
	timeout time.Duration
	sem     *semaphore.Weighted
	log     *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Runner {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		python:  cfg.Python,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		log:     log,
	}
}

// Run executes in.Code. Failures of the code itself are reported in the
// Outcome; the error return is for the runner failing to run it at all.
func (r *Runner) Run(ctx context.Context, in Input) (*Outcome, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for sandbox slot: %w", err)
	}
	defer r.sem.Release(1)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	stdin, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.python, "-c", harness)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	r.log.Debug("sandbox finished", "took", time.Since(start), "rows", len(in.Rows))

	// The caller's own deadline or cancellation is not a sandbox timeout.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Outcome{
			Success: false,
			Plots:   []string{},
			Error:   fmt.Sprintf("execution timed out after %s", r.timeout),
		}, nil
	}

	var out Outcome
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		if runErr != nil {
			return &Outcome{
				Success: false,
				Plots:   []string{},
				Error:   tail(fmt.Sprintf("%v\n%s", runErr, stderr.String()), ErrorTail),
			}, nil
		}
		return nil, fmt.Errorf("decode sandbox output: %w", err)
	}
	if out.Plots == nil {
		out.Plots = []string{}
	}
	return &out, nil
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
