package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// blockingRunner returns a runner that waits until release is closed or the run is canceled
func blockingRunner(release <-chan struct{}) pipeline.Runner {
	return func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func waitDone(t *testing.T, job *pipeline.Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestRegistrySameSession(t *testing.T) {
	ctx := context.Background()
	reg := pipeline.NewRegistry(4)
	release := make(chan struct{})

	job, err := reg.Start(ctx, "s1", false, blockingRunner(release))
	gt.NoError(t, err)
	gt.True(t, reg.IsRunning("s1"))

	_, err = reg.Start(ctx, "s1", false, blockingRunner(release))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrAlreadyRunning))
	gt.Equal(t, reg.ActiveCount(), 1)

	close(release)
	waitDone(t, job)
	gt.NoError(t, job.Err())
	gt.False(t, reg.IsRunning("s1"))

	// freed session is accepted again
	again, err := reg.Start(ctx, "s1", false, func(ctx context.Context) error { return nil })
	gt.NoError(t, err)
	waitDone(t, again)
}

func TestRegistrySnapshot(t *testing.T) {
	ctx := context.Background()
	reg := pipeline.NewRegistry(0)
	release := make(chan struct{})

	first, err := reg.Start(ctx, "s1", true, blockingRunner(release))
	gt.NoError(t, err)
	second, err := reg.Start(ctx, "s2", false, blockingRunner(release))
	gt.NoError(t, err)

	jobs := reg.Snapshot()
	gt.A(t, jobs).Length(2)
	byID := map[model.SessionID]model.PipelineJob{}
	for _, job := range jobs {
		byID[job.SessionID] = job
		gt.False(t, job.StartedAt.IsZero())
	}
	gt.True(t, byID["s1"].SendDownstream)
	gt.False(t, byID["s2"].SendDownstream)

	raw, err := json.Marshal(jobs[0])
	gt.NoError(t, err)
	var fields map[string]any
	gt.NoError(t, json.Unmarshal(raw, &fields))
	_, hasDone := fields["done"]
	gt.False(t, hasDone)

	close(release)
	waitDone(t, first)
	waitDone(t, second)
	gt.A(t, reg.Snapshot()).Length(0)
}

func TestRegistryCapacity(t *testing.T) {
	ctx := context.Background()
	const capacity = 3
	reg := pipeline.NewRegistry(capacity)
	gt.Equal(t, reg.MaxConcurrency(), capacity)

	releases := make([]chan struct{}, capacity)
	jobs := make([]*pipeline.Job, capacity)
	for i := range capacity {
		releases[i] = make(chan struct{})
		job, err := reg.Start(ctx, model.SessionID(fmt.Sprintf("s%d", i)), i%2 == 0, blockingRunner(releases[i]))
		gt.NoError(t, err)
		jobs[i] = job
	}
	gt.Equal(t, reg.ActiveCount(), capacity)
	gt.A(t, reg.Snapshot()).Length(capacity)

	_, err := reg.Start(ctx, "overflow", false, blockingRunner(nil))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrCapacityExceeded))

	close(releases[1])
	waitDone(t, jobs[1])
	gt.Equal(t, reg.ActiveCount(), capacity-1)

	freed, err := reg.Start(ctx, "s1", false, func(ctx context.Context) error { return nil })
	gt.NoError(t, err)
	waitDone(t, freed)

	close(releases[0])
	close(releases[2])
	waitDone(t, jobs[0])
	waitDone(t, jobs[2])
	gt.Equal(t, reg.ActiveCount(), 0)
}

func TestRegistryConcurrentStart(t *testing.T) {
	ctx := context.Background()
	const capacity = 5
	reg := pipeline.NewRegistry(capacity)
	release := make(chan struct{})

	var (
		mu       sync.Mutex
		started  []*pipeline.Job
		rejected int
		wg       sync.WaitGroup
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := reg.Start(ctx, model.SessionID(fmt.Sprintf("s%d", i)), false, blockingRunner(release))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				gt.True(t, errors.Is(err, model.ErrCapacityExceeded))
				rejected++
				return
			}
			started = append(started, job)
		}()
	}
	wg.Wait()

	gt.A(t, started).Length(capacity)
	gt.Equal(t, rejected, 20-capacity)

	close(release)
	for _, job := range started {
		waitDone(t, job)
	}
}

func TestRegistryUnbounded(t *testing.T) {
	reg := pipeline.NewRegistry(0)
	release := make(chan struct{})

	var jobs []*pipeline.Job
	for i := range 10 {
		job, err := reg.Start(context.Background(), model.SessionID(fmt.Sprintf("s%d", i)), false, blockingRunner(release))
		gt.NoError(t, err)
		jobs = append(jobs, job)
	}
	gt.Equal(t, reg.ActiveCount(), 10)

	close(release)
	for _, job := range jobs {
		waitDone(t, job)
	}
}

func TestRegistryFailureIsolation(t *testing.T) {
	ctx := context.Background()
	reg := pipeline.NewRegistry(2)

	failing, err := reg.Start(ctx, "bad", false, func(ctx context.Context) error {
		return errors.New("boom")
	})
	gt.NoError(t, err)

	panicking, err := reg.Start(ctx, "worse", false, func(ctx context.Context) error {
		panic("unexpected")
	})
	gt.NoError(t, err)

	waitDone(t, failing)
	waitDone(t, panicking)

	gt.Error(t, failing.Err())
	gt.True(t, errors.Is(panicking.Err(), model.ErrRunFailure))
	gt.Equal(t, reg.ActiveCount(), 0)

	ok, err := reg.Start(ctx, "good", false, func(ctx context.Context) error { return nil })
	gt.NoError(t, err)
	waitDone(t, ok)
	gt.NoError(t, ok.Err())
}

func TestRegistryCancel(t *testing.T) {
	ctx := context.Background()
	reg := pipeline.NewRegistry(2)

	err := reg.Cancel("missing")
	gt.True(t, errors.Is(err, model.ErrJobNotFound))

	job, err := reg.Start(ctx, "s1", false, blockingRunner(nil))
	gt.NoError(t, err)

	gt.NoError(t, reg.Cancel("s1"))
	waitDone(t, job)
	gt.True(t, errors.Is(job.Err(), context.Canceled))
	gt.False(t, reg.IsRunning("s1"))
}

func TestRegistryStartContextDoesNotCancelRun(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	reg := pipeline.NewRegistry(1)
	release := make(chan struct{})

	job, err := reg.Start(reqCtx, "s1", false, blockingRunner(release))
	gt.NoError(t, err)
	cancel()

	select {
	case <-job.Done():
		t.Fatal("run must outlive the starting request")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitDone(t, job)
	gt.NoError(t, job.Err())
}

func TestRegistryShutdown(t *testing.T) {
	ctx := context.Background()
	reg := pipeline.NewRegistry(3)

	var jobs []*pipeline.Job
	for i := range 3 {
		job, err := reg.Start(ctx, model.SessionID(fmt.Sprintf("s%d", i)), false, blockingRunner(nil))
		gt.NoError(t, err)
		jobs = append(jobs, job)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	gt.NoError(t, reg.Shutdown(shutdownCtx))

	for _, job := range jobs {
		waitDone(t, job)
		gt.True(t, errors.Is(job.Err(), context.Canceled))
	}

	_, err := reg.Start(ctx, "late", false, blockingRunner(nil))
	gt.True(t, errors.Is(err, model.ErrRegistryClosed))
}
