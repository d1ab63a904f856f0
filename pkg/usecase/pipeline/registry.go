package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// Runner is one unit of pipeline work executed by the registry
type Runner func(ctx context.Context) error

// Job is the handle of a registered run
type Job struct {
	sessionID      model.SessionID
	sendDownstream bool
	startedAt      time.Time
	cancel         context.CancelFunc
	done           chan struct{}
	err            error
}

// Done is closed after the run has finished and the job has been removed from the registry
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the error of the run. Only valid after Done is closed.
func (j *Job) Err() error {
	return j.err
}

func (j *Job) SessionID() model.SessionID {
	return j.sessionID
}

// Registry bounds concurrent pipeline runs: one per session and maxConcurrency in total.
// maxConcurrency <= 0 means unbounded.
type Registry struct {
	mu             sync.Mutex
	jobs           map[model.SessionID]*Job
	maxConcurrency int
	closed         bool
	wg             sync.WaitGroup
	now            func() time.Time
}

func NewRegistry(maxConcurrency int) *Registry {
	return &Registry{
		jobs:           make(map[model.SessionID]*Job),
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start runs runner in the background for the session. The check against running jobs and
// the capacity is done atomically with the registration. ctx only provides values such as
// the logger; its cancellation does not stop the run, use Cancel instead.
func (r *Registry) Start(ctx context.Context, id model.SessionID, sendDownstream bool, runner Runner) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, goerr.Wrap(model.ErrRegistryClosed, "cannot start pipeline", goerr.V("session_id", id))
	}
	if _, ok := r.jobs[id]; ok {
		return nil, goerr.Wrap(model.ErrAlreadyRunning, "cannot start pipeline", goerr.V("session_id", id))
	}
	if r.maxConcurrency > 0 && len(r.jobs) >= r.maxConcurrency {
		return nil, goerr.Wrap(model.ErrCapacityExceeded, "cannot start pipeline",
			goerr.V("session_id", id),
			goerr.V("max_concurrency", r.maxConcurrency))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logging.WithAttrs(runCtx, "session_id", id)

	job := &Job{
		sessionID:      id,
		sendDownstream: sendDownstream,
		startedAt:      r.now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	r.jobs[id] = job
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.complete(runCtx, job)

		defer func() {
			if v := recover(); v != nil {
				job.err = goerr.Wrap(model.ErrRunFailure, "panic in pipeline run", goerr.V("panic", fmt.Sprint(v)))
			}
		}()

		job.err = runner(runCtx)
	}()

	logging.From(runCtx).Info("pipeline started",
		"send_downstream", sendDownstream,
		"active_count", len(r.jobs))

	return job, nil
}

// complete always runs after a job finished, whatever the outcome
func (r *Registry) complete(ctx context.Context, job *Job) {
	job.cancel()

	logger := logging.From(ctx)
	if job.err != nil {
		logger.Error("pipeline failed",
			"error", job.err,
			"elapsed", time.Since(job.startedAt))
	} else {
		logger.Info("pipeline completed", "elapsed", time.Since(job.startedAt))
	}

	r.mu.Lock()
	if current, ok := r.jobs[job.sessionID]; ok && current == job {
		delete(r.jobs, job.sessionID)
	}
	r.mu.Unlock()

	close(job.done)
}

// Cancel requests the running job of the session to stop. It returns model.ErrJobNotFound if
// no job is running. The job is removed once its runner returns.
func (r *Registry) Cancel(id model.SessionID) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()

	if !ok {
		return goerr.Wrap(model.ErrJobNotFound, "cannot cancel pipeline", goerr.V("session_id", id))
	}
	job.cancel()
	return nil
}

// Snapshot returns the active jobs ordered by start time
func (r *Registry) Snapshot() []model.PipelineJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]model.PipelineJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, model.PipelineJob{
			SessionID:      job.sessionID,
			SendDownstream: job.sendDownstream,
			StartedAt:      job.startedAt,
		})
	}

	slices.SortFunc(jobs, func(a, b model.PipelineJob) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.SessionID), string(b.SessionID))
	})
	return jobs
}

func (r *Registry) IsRunning(id model.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Registry) MaxConcurrency() int {
	return r.maxConcurrency
}

// Shutdown rejects new runs, cancels running ones and waits until they finish or ctx is done
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, job := range r.jobs {
		job.cancel()
	}
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "pipeline runs did not finish before shutdown deadline",
			goerr.V("active_count", r.ActiveCount()))
	}
}
