package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job drives one Engine: it turns dispatch errors into a failed status, fails the task once
// the timeout elapses and never lets the observed status move backwards.
type Job struct {
	engine   Engine
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
	started  time.Time
	status   Status
	failure  string
	canceled bool
}

type JobOption func(*Job)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) JobOption {
	return func(j *Job) { j.now = now }
}

func NewJob(engine Engine, timeout time.Duration, log *slog.Logger, options ...JobOption) *Job {
	job := &Job{
		engine:  engine,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		status:  StatusPending,
	}
	for _, option := range options {
		option(job)
	}
	return job
}

func (j *Job) Run(ctx context.Context) Status {
	j.started = j.now()
	if err := j.engine.Run(ctx); err != nil {
		j.log.Error("Task dispatch failed", "error", err)
		j.fail(err.Error())
		return j.status
	}
	j.advance(StatusRunning)
	return j.status
}

func (j *Job) Status(ctx context.Context) Status {
	if j.status.Terminal() {
		return j.status
	}

	if j.timeout > 0 && j.now().Sub(j.started) > j.timeout {
		j.log.Warn("Task timed out", "timeout", j.timeout)
		j.fail("timeout after " + j.timeout.String())
		return j.status
	}

	j.advance(j.engine.Status(ctx))
	return j.status
}

func (j *Job) advance(status Status) {
	// Background engines answer pending while their work is in flight.
	if status == StatusPending && j.status == StatusRunning {
		return
	}
	if status.rank() < j.status.rank() {
		j.log.Warn("Ignoring status regression", "from", j.status, "to", status)
		return
	}
	j.status = status
}

func (j *Job) fail(reason string) {
	j.failure = reason
	j.status = StatusFailed
	j.Cancel()
}

// Cancel stops background work of the engine, if it has any.
func (j *Job) Cancel() {
	if canceler, ok := j.engine.(Canceler); ok && !j.canceled {
		j.canceled = true
		canceler.Cancel()
	}
}

// Failure describes why the job was failed by the wrapper itself, if it was.
func (j *Job) Failure() string { return j.failure }

// Summary never fails: errors degrade to an empty payload.
func (j *Job) Summary(ctx context.Context) map[string]any {
	summary, err := j.safeSummary(ctx)
	if err != nil {
		j.log.Debug("Task summary unavailable", "error", err)
		return map[string]any{}
	}
	if summary == nil {
		summary = map[string]any{}
	}
	return summary
}

func (j *Job) safeSummary(ctx context.Context) (summary map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary, err = nil, fmt.Errorf("panic in summary: %v", r)
		}
	}()
	return j.engine.Summary(ctx)
}
