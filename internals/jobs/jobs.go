// Package jobs runs analyze requests in the background so that HTTP clients
// can submit a question and poll for the answer.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jadenj13/analyst/internals/agent"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrNotFound  = errors.New("job not found")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

func (s Status) finished() bool {
	return s == StatusDone || s == StatusError
}

type Job struct {
	ID         string          `json:"job_id"`
	SessionID  string          `json:"session_id"`
	Query      string          `json:"query"`
	Status     Status          `json:"status"`
	Response   *agent.Response `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

type Analyzer interface {
	Analyze(ctx context.Context, sessionID, query string) agent.Response
}

type Config struct {
	Workers   int
	QueueSize int
	TTL       time.Duration
}

type Queue struct {
	analyzer Analyzer
	cfg      Config
	pending  chan string
	log      *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
}

func New(analyzer Analyzer, cfg Config, log *slog.Logger) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Queue{
		analyzer: analyzer,
		cfg:      cfg,
		pending:  make(chan string, cfg.QueueSize),
		log:      log,
		now:      time.Now,
		jobs:     make(map[string]*Job),
	}
}

// Submit enqueues query for sessionID. A blank sessionID starts a new
// session, so the caller can keep talking to it once the job finishes.
func (q *Queue) Submit(sessionID, query string) (Job, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.pending <- job.ID:
	default:
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.log.Info("job submitted", "job", job.ID, "session", sessionID)
	return *job, nil
}

func (q *Queue) Get(id string) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Run starts the worker pool and the reaper and blocks until ctx is done.
// A job already running when ctx ends is allowed to finish.
func (q *Queue) Run(ctx context.Context, reapInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range q.cfg.Workers {
		g.Go(func() error {
			q.work(ctx, i)
			return nil
		})
	}
	if q.cfg.TTL > 0 && reapInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(reapInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-t.C:
					if n := q.Sweep(now); n > 0 {
						q.log.Info("reaped finished jobs", "count", n)
					}
				}
			}
		})
	}
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			q.process(ctx, worker, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	started := q.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	sessionID, query := job.SessionID, job.Query
	q.mu.Unlock()

	q.log.Info("job started", "job", id, "session", sessionID, "worker", worker)
	resp := q.analyzer.Analyze(context.WithoutCancel(ctx), sessionID, query)

	q.mu.Lock()
	defer q.mu.Unlock()
	finished := q.now().UTC()
	job.FinishedAt = &finished
	job.Response = &resp
	job.Status = StatusDone
	if !resp.Success {
		job.Status = StatusError
		if resp.Error != nil {
			job.Error = *resp.Error
		}
	}
	q.log.Info("job finished", "job", id, "status", job.Status, "took", finished.Sub(started))
}

// Sweep drops finished jobs older than the TTL and returns how many went.
// Pending and running jobs are never dropped.
func (q *Queue) Sweep(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if !job.Status.finished() || job.FinishedAt == nil {
			continue
		}
		if now.Sub(*job.FinishedAt) > q.cfg.TTL {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}
