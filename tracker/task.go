package tracker

import (
	"context"
	"sync"
)

type (
	// Task is the handle of a background job, such as a synthesis pass. Any
	// number of goroutines can wait on it.
	Task struct {
		progress chan Progress
		done     chan struct{}
		once     sync.Once

		count int
		err   error
	}

	// Progress reports that Current out of Total units of work are done.
	Progress struct {
		Current int
		Total   int
	}
)

const taskProgressBuffer = 64

func newTask() *Task {
	return &Task{
		progress: make(chan Progress, taskProgressBuffer),
		done:     make(chan struct{}),
	}
}

// Progress returns the channel of progress updates. Updates are dropped if
// nobody reads them; the channel is closed when the task finishes.
func (t *Task) Progress() <-chan Progress { return t.progress }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done and returns the result.
func (t *Task) Wait(ctx context.Context) (int, error) {
	select {
	case <-t.done:
		return t.count, t.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Result returns the result without blocking; ok is false if the task is
// still running.
func (t *Task) Result() (count int, ok bool, err error) {
	select {
	case <-t.done:
		return t.count, true, t.err
	default:
		return 0, false, nil
	}
}

func (t *Task) report(p Progress) {
	TrySend(t.progress, p)
}

// finish publishes the result. Only the first call has an effect.
func (t *Task) finish(count int, err error) {
	t.once.Do(func() {
		t.count, t.err = count, err
		close(t.progress)
		close(t.done)
	})
}
