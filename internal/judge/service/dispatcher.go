// Package service schedules judging runs over a bounded pool of workers.
// One run is single-threaded within itself; runs on different workers share
// only the logger and the cgroup-name registry.
package service

import (
	"context"
	"sync"

	"fuzojd/internal/judge/judger"
	"fuzojd/internal/judge/pmodel"
	appErr "fuzojd/pkg/errors"
	"fuzojd/pkg/utils/contextkey"
	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

// Job is one judging request.
type Job struct {
	Problem  *pmodel.Problem
	Solution *pmodel.Solution
}

type outcome struct {
	result *pmodel.Result
	err    error
}

// Future resolves exactly once with the run's outcome.
type Future struct {
	ch chan outcome
}

// Wait blocks until the run finishes or ctx is done. The run itself keeps
// going after a caller gives up; cleanup is owned by the worker.
func (f *Future) Wait(ctx context.Context) (*pmodel.Result, error) {
	select {
	case out := <-f.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, appErr.Wrap(ctx.Err(), appErr.Timeout)
	}
}

type task struct {
	job    Job
	future *Future
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	factory *judger.Factory
	tasks   chan task

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts poolSize workers (at least one).
func NewDispatcher(factory *judger.Factory, poolSize int) *Dispatcher {
	if poolSize <= 0 {
		poolSize = 1
	}
	d := &Dispatcher{
		factory: factory,
		tasks:   make(chan task),
	}
	d.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go d.worker()
	}
	return d
}

// Submit queues a job and returns its future.
func (d *Dispatcher) Submit(job Job) (*Future, error) {
	if job.Problem == nil || job.Solution == nil {
		return nil, appErr.ValidationError("job", "problem and solution are required")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("dispatcher is shut down")
	}
	future := &Future{ch: make(chan outcome, 1)}
	// Send under the lock so Shutdown cannot close the channel mid-submit.
	d.tasks <- task{job: job, future: future}
	d.mu.Unlock()
	return future, nil
}

// Shutdown stops accepting jobs and waits for in-flight runs to finish.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.tasks)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		ctx := context.WithValue(context.Background(), contextkey.SubmissionID, t.job.Solution.ID)
		ctx = context.WithValue(ctx, contextkey.ProblemID, t.job.Problem.ID)

		j, err := d.factory.Judger(t.job.Problem, t.job.Solution)
		if err != nil {
			logger.Warn(ctx, "no judger for job", zap.Error(err))
			t.future.ch <- outcome{err: err}
			continue
		}

		result, err := j.Judge(ctx)
		if err != nil {
			logger.Error(ctx, "judging run failed", zap.Error(err))
		}
		t.future.ch <- outcome{result: result, err: err}
	}
}
