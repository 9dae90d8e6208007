package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jadenj13/analyst/internals/agent"
)

type fakeAnalyzer struct {
	AnalyzeFn func(ctx context.Context, sessionID, query string) agent.Response
}

func (f fakeAnalyzer) Analyze(ctx context.Context, sessionID, query string) agent.Response {
	return f.AnalyzeFn(ctx, sessionID, query)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echo() fakeAnalyzer {
	return fakeAnalyzer{AnalyzeFn: func(_ context.Context, sessionID, query string) agent.Response {
		if query == "fail" {
			msg := "model unavailable"
			return agent.Response{SessionID: sessionID, Error: &msg}
		}
		return agent.Response{Success: true, SessionID: sessionID, TextOutput: "answer to " + query}
	}}
}

func start(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, time.Hour) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func waitFinished(t *testing.T, q *Queue, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(id)
		return err == nil && job.Status.finished()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestSubmitAndPoll(t *testing.T) {
	q := New(echo(), Config{Workers: 2, QueueSize: 4, TTL: time.Hour}, discard())
	start(t, q)

	job, err := q.Submit("s1", "revenue?")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	got := waitFinished(t, q, job.ID)
	assert.Equal(t, StatusDone, got.Status)
	require.NotNil(t, got.Response)
	assert.Equal(t, "answer to revenue?", got.Response.TextOutput)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
}

func TestSubmitAssignsSession(t *testing.T) {
	q := New(echo(), Config{QueueSize: 2}, discard())
	job, err := q.Submit("  ", "q")
	require.NoError(t, err)
	assert.NotEmpty(t, job.SessionID)
}

func TestFailedJob(t *testing.T) {
	q := New(echo(), Config{Workers: 1, QueueSize: 1}, discard())
	start(t, q)

	job, err := q.Submit("s1", "fail")
	require.NoError(t, err)

	got := waitFinished(t, q, job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "model unavailable", got.Error)
}

func TestQueueFull(t *testing.T) {
	q := New(echo(), Config{Workers: 1, QueueSize: 1}, discard())

	_, err := q.Submit("s1", "first")
	require.NoError(t, err)
	_, err = q.Submit("s1", "second")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestGetUnknown(t *testing.T) {
	q := New(echo(), Config{}, discard())
	_, err := q.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweep(t *testing.T) {
	q := New(echo(), Config{Workers: 1, QueueSize: 4, TTL: time.Minute}, discard())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	pending, err := q.Submit("s1", "waiting")
	require.NoError(t, err)
	finished, err := q.Submit("s1", "done")
	require.NoError(t, err)

	q.mu.Lock()
	q.jobs[finished.ID].Status = StatusDone
	q.jobs[finished.ID].FinishedAt = &base
	q.mu.Unlock()

	assert.Zero(t, q.Sweep(base.Add(30*time.Second)))
	assert.Equal(t, 1, q.Sweep(base.Add(2*time.Minute)))

	_, err = q.Get(finished.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(pending.ID)
	assert.NoError(t, err)
}

func TestRunDetachesAnalyze(t *testing.T) {
	release := make(chan struct{})
	var sawCancel bool
	q := New(fakeAnalyzer{AnalyzeFn: func(ctx context.Context, sessionID, _ string) agent.Response {
		<-release
		sawCancel = ctx.Err() != nil
		return agent.Response{Success: true, SessionID: sessionID}
	}}, Config{Workers: 1, QueueSize: 1}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, 0) }()

	job, err := q.Submit("s1", "q")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := q.Get(job.ID)
		return got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	cancel()
	close(release)
	require.NoError(t, <-done)

	got, err := q.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.False(t, sawCancel)
}
