package jobs

import (
	"context"
	"sync"
	"time"
)

// Lifecycle tracks the workers of one queue and the point at which it stops
// accepting jobs. The zero value is not usable; call NewLifecycle.
type Lifecycle struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	done   chan struct{}
	closed bool
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

// Closed reports whether Stop has been called.
func (l *Lifecycle) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Done is closed by Stop.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Spawn starts n copies of work, or returns ErrQueueClosed after Stop.
func (l *Lifecycle) Spawn(n int, work func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrQueueClosed
	}
	for i := 0; i < n; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			work()
		}()
	}
	return nil
}

// Stop closes Done and waits for spawned workers until ctx expires.
// Calling it again is a no-op.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one attempt of job and, if it failed with retries left,
// schedules republish after the backoff.
func Run(ctx context.Context, job *ExportStatementJob, handler JobHandler, save func(*ExportStatementJob), republish func(*ExportStatementJob)) {
	backoff, retry := Execute(ctx, job, handler, save)
	if !retry {
		return
	}
	time.AfterFunc(backoff, func() {
		ResetForRetry(job)
		republish(job)
	})
}

// ApplyStatus sets status on job, keeping the previous error when errorMsg is empty.
func ApplyStatus(job *ExportStatementJob, status JobStatus, errorMsg string) {
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
}
