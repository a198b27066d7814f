package task

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/model"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// LocalDispatcher runs jobs on goroutines in this process. Generation jobs
// get their own lane so they never queue behind separations.
type LocalDispatcher struct {
	exec Executor

	general    chan struct{}
	generation chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(exec Executor, concurrency, generationConcurrency int) *LocalDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if generationConcurrency < 1 {
		generationConcurrency = 1
	}
	return &LocalDispatcher{
		exec:       exec,
		general:    make(chan struct{}, concurrency),
		generation: make(chan struct{}, generationConcurrency),
	}
}

func (d *LocalDispatcher) lane(kind string) chan struct{} {
	if kind == model.TaskKindGeneration {
		return d.generation
	}
	return d.general
}

func (d *LocalDispatcher) Dispatch(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	sem := d.lane(job.Kind)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sem <- struct{}{}
		defer func() { <-sem }()

		// Jobs outlive the request that submitted them.
		if err := d.exec.Execute(context.Background(), job); err != nil {
			log.WithError(err).WithField("task_id", job.TaskID).Error("job execution failed")
		}
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for running ones, or for ctx.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
